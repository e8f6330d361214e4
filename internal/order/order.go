// Package order computes the heatmap display order of samples.
package order

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nmfscope/server/internal/data/nmf"
	"github.com/nmfscope/server/internal/sample"
)

// Method names a sample ordering.
type Method string

const (
	Component    Method = "component"
	Alphabetical Method = "alphabetical"
	CancerType   Method = "cancer_type"
	OrganSystem  Method = "organ_system"
)

// ParseMethod maps a method name to a Method. Unknown names fall back to
// Component; the boolean reports whether the name was recognized.
func ParseMethod(s string) (Method, bool) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case Component, Alphabetical, CancerType, OrganSystem:
		return m, true
	case "":
		return Component, true
	default:
		return Component, false
	}
}

// ComponentOrder returns component column indices by descending total
// activity. Ties keep column order.
func ComponentOrder(ds *nmf.Dataset) []int {
	sums := ds.ColumnSums()
	cols := make([]int, len(sums))
	for i := range cols {
		cols[i] = i
	}
	sort.SliceStable(cols, func(a, b int) bool { return sums[cols[a]] > sums[cols[b]] })
	return cols
}

// BarSort orders rows by their winning column (columns taken in the order
// given), then by descending activity in that column. rows selects the
// rows of h to order; the result holds values from rows.
func BarSort(h [][]float64, cols []int, rows []int) []int {
	winner := make(map[int]int, len(rows))
	for _, r := range rows {
		best, bestV := 0, -1.0
		for rank, c := range cols {
			if h[r][c] > bestV {
				best, bestV = rank, h[r][c]
			}
		}
		winner[r] = best
	}

	out := make([]int, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(a, b int) bool {
		ra, rb := out[a], out[b]
		wa, wb := winner[ra], winner[rb]
		if wa != wb {
			return wa < wb
		}
		c := cols[wa]
		return h[ra][c] > h[rb][c]
	})
	return out
}

// Compute returns the display order for method as a permutation of handles.
// Handles are row indices of ds. The annotation used by grouped methods is
// read from ds.Annotations: cancer_type for CancerType and organ_system for
// OrganSystem. A grouped method without its annotation falls back to
// Component.
func Compute(ds *nmf.Dataset, method Method) ([]sample.Handle, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	cols := ComponentOrder(ds)
	all := make([]int, len(ds.H))
	for i := range all {
		all[i] = i
	}

	var rows []int
	switch method {
	case Alphabetical:
		rows = all
		sort.SliceStable(rows, func(a, b int) bool { return ds.SampleIDs[rows[a]] < ds.SampleIDs[rows[b]] })
	case CancerType, OrganSystem:
		labels, ok := ds.Annotations[string(method)]
		if !ok {
			rows = BarSort(ds.H, cols, all)
			break
		}
		rows = grouped(ds.H, cols, labels)
	case Component:
		rows = BarSort(ds.H, cols, all)
	default:
		return nil, fmt.Errorf("unknown sort method %q", method)
	}

	out := make([]sample.Handle, len(rows))
	for i, r := range rows {
		out[i] = sample.Handle(r)
	}
	return out, nil
}

// grouped sorts groups by label, then bar-sorts the samples of each group.
func grouped(h [][]float64, cols []int, labels []string) []int {
	byLabel := make(map[string][]int)
	for i, l := range labels {
		byLabel[l] = append(byLabel[l], i)
	}
	names := make([]string, 0, len(byLabel))
	for l := range byLabel {
		names = append(names, l)
	}
	sort.Strings(names)

	out := make([]int, 0, len(labels))
	for _, l := range names {
		out = append(out, BarSort(h, cols, byLabel[l])...)
	}
	return out
}

// Labels returns the labels of one annotation in display order, used for the
// heatmap's x axis.
func Labels(values []string, order []sample.Handle) []string {
	out := make([]string, len(order))
	for i, h := range order {
		out[i] = values[h]
	}
	return out
}
