package coverage

// AnchorResult is the output of FindAnchors: the selected anchors plus a
// count of items silently dropped for having no valid IC (spec.md §4.6
// "Anchor selection algorithm"; Open Question (b), spec.md §9, exposes the
// dropped count as a diagnostic without changing pass/fail behavior).
type AnchorResult struct {
	Anchors      []ItemAnchor
	DroppedCount int
}

// FindAnchors scans contract's source map in IC order and, for each item
// index in itemIndices, selects the first IC whose range contains the
// item's range and whose opcode is not purely structural for that item's
// kind (spec.md §4.6). An item with no valid IC is dropped silently (its
// count is folded into AnchorResult.DroppedCount).
func FindAnchors(contract ContractID, sourceMap []SourceMapEntry, icpc *ICPCMap, items []CoverageItem, itemIndices []int) AnchorResult {
	var result AnchorResult
	seenPC := make(map[int]bool)

	for _, itemIdx := range itemIndices {
		if itemIdx < 0 || itemIdx >= len(items) {
			result.DroppedCount++
			continue
		}
		item := items[itemIdx]

		anchored := false
		for _, entry := range sourceMap {
			if !entry.Range.contains(item.Range) {
				continue
			}
			if !opcodeAnchorsKind(entry, item.Kind) {
				continue
			}
			pc, ok := icpc.PC(entry.IC)
			if !ok {
				continue
			}
			if seenPC[pc] {
				// (contract_id, pc) anchors at most one item (spec.md §8
				// "Anchor uniqueness"); the first item to claim a PC wins.
				continue
			}
			seenPC[pc] = true
			result.Anchors = append(result.Anchors, ItemAnchor{Contract: contract, PC: pc, ItemIndex: itemIdx})
			anchored = true
			break
		}
		if !anchored {
			result.DroppedCount++
		}
	}
	return result
}

// opcodeAnchorsKind implements the structural-opcode exclusion rule:
// JUMPDEST/INVALID never anchor a Branch item; call-like opcodes never
// anchor a Statement item (spec.md §4.6).
func opcodeAnchorsKind(entry SourceMapEntry, kind ItemKind) bool {
	if entry.Structural && kind == Branch {
		return false
	}
	if entry.IsCallLike && kind == Statement {
		return false
	}
	return true
}
