package coverage

import (
	"bytes"
	"strings"
	"testing"
)

func TestFindAnchorsSelectsFirstMatchingIC(t *testing.T) {
	contract := ContractID{CompilerVersion: "0.8.24", SourceID: 1, ContractName: "Foo"}
	items := []CoverageItem{
		{Kind: Statement, SourceID: 1, Range: SourceRange{SourceID: 1, Start: 10, End: 20}},
	}
	sourceMap := []SourceMapEntry{
		{IC: 0, Range: SourceRange{SourceID: 1, Start: 0, End: 100}, Opcode: "CALL", IsCallLike: true},
		{IC: 1, Range: SourceRange{SourceID: 1, Start: 5, End: 30}, Opcode: "ADD"},
	}
	icpc := NewICPCMap([]int{0, 4})

	result := FindAnchors(contract, sourceMap, icpc, items, []int{0})
	if len(result.Anchors) != 1 {
		t.Fatalf("expected 1 anchor, got %d (dropped=%d)", len(result.Anchors), result.DroppedCount)
	}
	if result.Anchors[0].PC != 4 {
		t.Fatalf("expected the call-like IC0 to be skipped for a Statement item, got pc=%d", result.Anchors[0].PC)
	}
}

func TestFindAnchorsDropsUnmatchedItem(t *testing.T) {
	contract := ContractID{CompilerVersion: "0.8.24", SourceID: 1, ContractName: "Foo"}
	items := []CoverageItem{
		{Kind: Statement, SourceID: 1, Range: SourceRange{SourceID: 1, Start: 500, End: 600}},
	}
	sourceMap := []SourceMapEntry{
		{IC: 0, Range: SourceRange{SourceID: 1, Start: 0, End: 10}, Opcode: "ADD"},
	}
	icpc := NewICPCMap([]int{0})

	result := FindAnchors(contract, sourceMap, icpc, items, []int{0})
	if len(result.Anchors) != 0 || result.DroppedCount != 1 {
		t.Fatalf("expected item with no matching range to be dropped, got %+v", result)
	}
}

func TestAnchorUniquenessPerPC(t *testing.T) {
	contract := ContractID{CompilerVersion: "0.8.24", SourceID: 1, ContractName: "Foo"}
	items := []CoverageItem{
		{Kind: Statement, SourceID: 1, Range: SourceRange{SourceID: 1, Start: 0, End: 10}},
		{Kind: Statement, SourceID: 1, Range: SourceRange{SourceID: 1, Start: 0, End: 10}},
	}
	sourceMap := []SourceMapEntry{
		{IC: 0, Range: SourceRange{SourceID: 1, Start: 0, End: 20}, Opcode: "ADD"},
	}
	icpc := NewICPCMap([]int{0})

	result := FindAnchors(contract, sourceMap, icpc, items, []int{0, 1})
	if len(result.Anchors) != 1 {
		t.Fatalf("expected at most one anchor per (contract, pc), got %d", len(result.Anchors))
	}
}

func TestAccumulateHitCounts(t *testing.T) {
	contract := ContractID{CompilerVersion: "0.8.24", SourceID: 1, ContractName: "Foo"}
	items := []CoverageItem{
		{Kind: Line, SourceID: 1, Range: SourceRange{SourceID: 1, Start: 0, End: 5}},
	}
	report := NewReport(items)
	sourceMap := []SourceMapEntry{{IC: 0, Range: SourceRange{SourceID: 1, Start: 0, End: 10}, Opcode: "ADD"}}
	icpc := NewICPCMap([]int{42})
	report.AddContract(contract, []int{0}, sourceMap, icpc)

	suite1 := HitMap{contract: {42: 3}}
	suite2 := HitMap{contract: {42: 2}}
	merged := MergeHitMaps([]HitMap{suite1, suite2})
	report.Accumulate(merged)

	if report.Items[0].HitCount != 5 {
		t.Fatalf("expected accumulated hit count 5, got %d", report.Items[0].HitCount)
	}
}

func TestWriteDebugListsEveryItem(t *testing.T) {
	items := []CoverageItem{
		{Kind: Statement, SourceID: 1, Range: SourceRange{Start: 0, End: 1}, HitCount: 7},
	}
	report := NewReport(items)
	var buf bytes.Buffer
	if err := report.WriteDebug(&buf); err != nil {
		t.Fatalf("write debug: %v", err)
	}
	if !strings.Contains(buf.String(), "hits=7") {
		t.Fatalf("expected hit count in debug output, got %q", buf.String())
	}
}

func TestWriteLcovEmitsRecordPerSource(t *testing.T) {
	items := []CoverageItem{
		{Kind: Line, SourceID: 1, Range: SourceRange{Start: 10, End: 11}, HitCount: 1},
		{Kind: Line, SourceID: 1, Range: SourceRange{Start: 20, End: 21}, HitCount: 0},
	}
	report := NewReport(items)
	var buf bytes.Buffer
	err := report.WriteLcov(&buf, func(id int) string { return "src.sol" })
	if err != nil {
		t.Fatalf("write lcov: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "SF:src.sol") || !strings.Contains(out, "LF:2") || !strings.Contains(out, "LH:1") {
		t.Fatalf("unexpected lcov output: %q", out)
	}
}
