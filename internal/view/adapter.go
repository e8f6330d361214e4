package view

import (
	"fmt"

	"github.com/nmfscope/server/internal/sample"
	"github.com/nmfscope/server/internal/selection"
)

// Adapter converts between one rendering engine and the selection state.
// Implementations must be immutable so they can be called from any
// goroutine without coordination.
type Adapter interface {
	ID() selection.ViewID
	Accepts() Kind
	Ingest(ev Event) (sample.Set, error)
	Render(st selection.State) Instruction
}

// DefaultDimOpacity is applied to unselected points by the embedding adapter.
const DefaultDimOpacity = 0.2

// HeatmapAdapter maps heatmap column positions through the current sample
// display order.
type HeatmapAdapter struct {
	order []sample.Handle
	size  int
	name  string
}

// HeatmapOption configures a HeatmapAdapter.
type HeatmapOption func(*HeatmapAdapter)

// WithOrderName names the display order. Column events that carry a
// different order name are rejected.
func WithOrderName(name string) HeatmapOption {
	return func(a *HeatmapAdapter) {
		a.name = name
	}
}

// NewHeatmapAdapter creates an adapter for a heatmap whose columns show the
// samples in the given order. order must be a permutation of 0..size-1.
func NewHeatmapAdapter(order []sample.Handle, size int, opts ...HeatmapOption) (*HeatmapAdapter, error) {
	if len(order) != size {
		return nil, fmt.Errorf("heatmap order has %d entries, want %d", len(order), size)
	}
	seen := make([]bool, size)
	for pos, h := range order {
		if int(h) >= size {
			return nil, fmt.Errorf("heatmap order position %d holds out-of-range handle %d", pos, h)
		}
		if seen[h] {
			return nil, fmt.Errorf("heatmap order repeats handle %d", h)
		}
		seen[h] = true
	}
	o := make([]sample.Handle, size)
	copy(o, order)
	a := &HeatmapAdapter{order: o, size: size}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *HeatmapAdapter) ID() selection.ViewID { return selection.Heatmap }

func (a *HeatmapAdapter) Accepts() Kind { return KindHighlightMask }

// Order returns a copy of the display order.
func (a *HeatmapAdapter) Order() []sample.Handle {
	out := make([]sample.Handle, len(a.order))
	copy(out, a.order)
	return out
}

// Ingest accepts ColumnEvent and ClearEvent. Any position outside the
// display range rejects the whole event.
func (a *HeatmapAdapter) Ingest(ev Event) (sample.Set, error) {
	switch e := ev.(type) {
	case ClearEvent:
		return sample.NewSet(), nil
	case ColumnEvent:
		if e.Order != "" && e.Order != a.name {
			return sample.Set{}, &MalformedEventError{
				View:   selection.Heatmap,
				Reason: fmt.Sprintf("columns refer to order %q, heatmap shows %q", e.Order, a.name),
			}
		}
		handles := make([]sample.Handle, 0, len(e.Columns))
		for _, pos := range e.Columns {
			if pos < 0 || pos >= a.size {
				return sample.Set{}, &MalformedEventError{View: selection.Heatmap, Index: pos, Size: a.size}
			}
			handles = append(handles, a.order[pos])
		}
		for _, r := range e.Ranges {
			if r.End < r.Start {
				return sample.Set{}, &MalformedEventError{
					View:   selection.Heatmap,
					Reason: fmt.Sprintf("inverted range [%d,%d)", r.Start, r.End),
				}
			}
			if r.Start < 0 {
				return sample.Set{}, &MalformedEventError{View: selection.Heatmap, Index: r.Start, Size: a.size}
			}
			if r.End > a.size {
				return sample.Set{}, &MalformedEventError{View: selection.Heatmap, Index: r.End - 1, Size: a.size}
			}
			for pos := r.Start; pos < r.End; pos++ {
				handles = append(handles, a.order[pos])
			}
		}
		return sample.NewSet(handles...), nil
	default:
		return sample.Set{}, &MalformedEventError{
			View:   selection.Heatmap,
			Reason: fmt.Sprintf("unsupported payload %T", ev),
		}
	}
}

// Render produces a boolean highlight mask indexed by handle.
func (a *HeatmapAdapter) Render(st selection.State) Instruction {
	return booleanMask(st.Active, a.size)
}

// EmbeddingOption configures an EmbeddingAdapter.
type EmbeddingOption func(*EmbeddingAdapter)

// WithDimOpacity sets the opacity of unselected points.
func WithDimOpacity(v float64) EmbeddingOption {
	return func(a *EmbeddingAdapter) {
		if v >= 0 && v <= 1 {
			a.dim = v
		}
	}
}

// WithFilterList makes the adapter hide unselected points instead of
// dimming them.
func WithFilterList() EmbeddingOption {
	return func(a *EmbeddingAdapter) {
		a.filter = true
	}
}

// EmbeddingAdapter serves the 2D scatter view. Point indices are handles.
type EmbeddingAdapter struct {
	size   int
	dim    float64
	filter bool
}

// NewEmbeddingAdapter creates an adapter over size points.
func NewEmbeddingAdapter(size int, opts ...EmbeddingOption) *EmbeddingAdapter {
	a := &EmbeddingAdapter{size: size, dim: DefaultDimOpacity}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *EmbeddingAdapter) ID() selection.ViewID { return selection.Embedding }

func (a *EmbeddingAdapter) Accepts() Kind {
	if a.filter {
		return KindFilterList
	}
	return KindHighlightMask
}

// Ingest accepts PointEvent and ClearEvent.
func (a *EmbeddingAdapter) Ingest(ev Event) (sample.Set, error) {
	switch e := ev.(type) {
	case ClearEvent:
		return sample.NewSet(), nil
	case PointEvent:
		handles := make([]sample.Handle, 0, len(e.Points))
		for _, p := range e.Points {
			if p < 0 || p >= a.size {
				return sample.Set{}, &MalformedEventError{View: selection.Embedding, Index: p, Size: a.size}
			}
			handles = append(handles, sample.Handle(p))
		}
		return sample.NewSet(handles...), nil
	default:
		return sample.Set{}, &MalformedEventError{
			View:   selection.Embedding,
			Reason: fmt.Sprintf("unsupported payload %T", ev),
		}
	}
}

// Render produces an opacity mask, or a filter list when configured so.
func (a *EmbeddingAdapter) Render(st selection.State) Instruction {
	if a.filter {
		return filterList(st.Active, a.size)
	}
	return opacityMask(st.Active, a.size, a.dim)
}
