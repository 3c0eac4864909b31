package coverage

import (
	"fmt"
	"io"
	"sort"
)

// percent renders 100*hit/total using integer arithmetic with round-half-
// to-even, on the textual-render path only (spec.md §4.6 "Numeric
// semantics"); internal counts remain exact.
func percent(hit, total uint64) float64 {
	if total == 0 {
		return 0
	}
	// Compare twice the remainder against total so an exact half is
	// detected without truncation.
	num := hit * 100
	whole := num / total
	rem2 := (num % total) * 2
	switch {
	case rem2 < total:
		// round down
	case rem2 > total:
		whole++
	default: // exact half: round to even
		if whole%2 != 0 {
			whole++
		}
	}
	return float64(whole)
}

type bucket struct {
	hit, total uint64
}

// bySource groups the report's items by source id and kind.
func (r *Report) bySource() map[int]map[ItemKind]*bucket {
	out := make(map[int]map[ItemKind]*bucket)
	for _, item := range r.Items {
		m, ok := out[item.SourceID]
		if !ok {
			m = make(map[ItemKind]*bucket)
			out[item.SourceID] = m
		}
		b, ok := m[item.Kind]
		if !ok {
			b = &bucket{}
			m[item.Kind] = b
		}
		b.total++
		if item.HitCount > 0 {
			b.hit++
		}
	}
	return out
}

// WriteSummary renders a grouped-by-source textual table aggregating
// hit/total for {lines, statements, branches, functions} (spec.md §4.6).
func (r *Report) WriteSummary(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySrc := r.bySource()
	ids := make([]int, 0, len(bySrc))
	for id := range bySrc {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	kinds := []ItemKind{Line, Statement, Branch, Function}
	if _, err := fmt.Fprintln(w, "source\tlines\tstatements\tbranches\tfunctions"); err != nil {
		return err
	}
	for _, id := range ids {
		m := bySrc[id]
		row := fmt.Sprintf("%d", id)
		for _, k := range kinds {
			b := m[k]
			if b == nil {
				row += "\t-"
				continue
			}
			row += fmt.Sprintf("\t%d/%d (%.0f%%)", b.hit, b.total, percent(b.hit, b.total))
		}
		if _, err := fmt.Fprintln(w, row); err != nil {
			return err
		}
	}
	return nil
}

// WriteLcov renders standard SF/DA/BRDA/FN/FNDA/LF/LH records (spec.md
// §4.6, §6 "Report outputs").
func (r *Report) WriteLcov(w io.Writer, sourcePath func(sourceID int) string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySrc := make(map[int][]int) // sourceID -> item indices
	for i, item := range r.Items {
		bySrc[item.SourceID] = append(bySrc[item.SourceID], i)
	}
	ids := make([]int, 0, len(bySrc))
	for id := range bySrc {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		if _, err := fmt.Fprintf(w, "SF:%s\n", sourcePath(id)); err != nil {
			return err
		}
		var linesFound, linesHit uint64
		for _, idx := range bySrc[id] {
			item := r.Items[idx]
			switch item.Kind {
			case Line:
				fmt.Fprintf(w, "DA:%d,%d\n", item.Range.Start, item.HitCount)
				linesFound++
				if item.HitCount > 0 {
					linesHit++
				}
			case Branch:
				fmt.Fprintf(w, "BRDA:%d,0,%d,%s\n", item.Range.Start, idx, hitOrMinus(item.HitCount))
			case Function:
				fmt.Fprintf(w, "FN:%d,item%d\n", item.Range.Start, idx)
				fmt.Fprintf(w, "FNDA:%d,item%d\n", item.HitCount, idx)
			}
		}
		if _, err := fmt.Fprintf(w, "LF:%d\nLH:%d\n", linesFound, linesHit); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, "end_of_record"); err != nil {
			return err
		}
	}
	return nil
}

func hitOrMinus(count uint64) string {
	if count == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", count)
}

// WriteDebug emits every item with its range, kind and hit count (spec.md
// §4.6).
func (r *Report) WriteDebug(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, item := range r.Items {
		if _, err := fmt.Fprintf(w, "#%d %s source=%d [%d,%d) hits=%d\n",
			i, item.Kind, item.SourceID, item.Range.Start, item.Range.End, item.HitCount); err != nil {
			return err
		}
	}
	return nil
}
