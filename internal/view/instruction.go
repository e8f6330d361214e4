// Package view translates engine-native selection events into sample sets
// and renders confirmed selection state back into per-view instructions.
package view

import (
	"encoding/json"

	"github.com/nmfscope/server/internal/sample"
)

// Kind names an instruction variant.
type Kind string

const (
	KindHighlightMask Kind = "highlight_mask"
	KindFilterList    Kind = "filter_list"
)

// Instruction tells a rendering engine how to show the current selection.
// It is either a HighlightMask or a FilterList.
type Instruction interface {
	Kind() Kind
	IsCleared() bool
	instruction()
}

// HighlightMask keeps every sample visible and marks the selected ones.
// Emphasis is indexed by handle. Opacity is nil for adapters that only
// take a boolean mask.
type HighlightMask struct {
	Cleared  bool      `json:"cleared"`
	Emphasis []bool    `json:"emphasis"`
	Opacity  []float64 `json:"opacity,omitempty"`
}

func (HighlightMask) Kind() Kind        { return KindHighlightMask }
func (m HighlightMask) IsCleared() bool { return m.Cleared }
func (HighlightMask) instruction()      {}

// MarshalJSON adds the variant tag.
func (m HighlightMask) MarshalJSON() ([]byte, error) {
	type plain HighlightMask
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		plain
	}{KindHighlightMask, plain(m)})
}

// FilterList shows only the included samples.
type FilterList struct {
	Cleared bool            `json:"cleared"`
	Include []sample.Handle `json:"include"`
}

func (FilterList) Kind() Kind        { return KindFilterList }
func (f FilterList) IsCleared() bool { return f.Cleared }
func (FilterList) instruction()      {}

// MarshalJSON adds the variant tag.
func (f FilterList) MarshalJSON() ([]byte, error) {
	type plain FilterList
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		plain
	}{KindFilterList, plain(f)})
}

// isCleared reports whether active should render as "no selection": the
// empty set and the full universe both qualify.
func isCleared(active sample.Set, size int) bool {
	return active.IsEmpty() || active.Len() >= size
}

func booleanMask(active sample.Set, size int) HighlightMask {
	if isCleared(active, size) {
		return clearedMask(size, false)
	}
	emphasis := make([]bool, size)
	for _, h := range active.Handles() {
		if int(h) < size {
			emphasis[h] = true
		}
	}
	return HighlightMask{Emphasis: emphasis}
}

func opacityMask(active sample.Set, size int, dim float64) HighlightMask {
	if isCleared(active, size) {
		return clearedMask(size, true)
	}
	emphasis := make([]bool, size)
	opacity := make([]float64, size)
	for i := range opacity {
		opacity[i] = dim
	}
	for _, h := range active.Handles() {
		if int(h) < size {
			emphasis[h] = true
			opacity[h] = 1
		}
	}
	return HighlightMask{Emphasis: emphasis, Opacity: opacity}
}

func clearedMask(size int, withOpacity bool) HighlightMask {
	m := HighlightMask{Cleared: true, Emphasis: make([]bool, size)}
	for i := range m.Emphasis {
		m.Emphasis[i] = true
	}
	if withOpacity {
		m.Opacity = make([]float64, size)
		for i := range m.Opacity {
			m.Opacity[i] = 1
		}
	}
	return m
}

func filterList(active sample.Set, size int) FilterList {
	if isCleared(active, size) {
		include := make([]sample.Handle, size)
		for i := range include {
			include[i] = sample.Handle(i)
		}
		return FilterList{Cleared: true, Include: include}
	}
	kept, _ := active.Clip(size)
	return FilterList{Include: kept.Handles()}
}
