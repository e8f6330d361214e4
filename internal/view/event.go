package view

import (
	"fmt"

	"github.com/nmfscope/server/internal/selection"
)

// Event is an engine-native selection payload.
type Event interface {
	event()
}

// ColumnRange is a half-open range [Start, End) of heatmap display
// positions.
type ColumnRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ColumnEvent is produced by the heatmap engine: the selected columns, in
// display order, as single positions and/or ranges. Order optionally names
// the display order the positions were taken from.
type ColumnEvent struct {
	Columns []int         `json:"columns,omitempty"`
	Ranges  []ColumnRange `json:"ranges,omitempty"`
	Order   string        `json:"order,omitempty"`
}

// PointEvent is produced by the scatter engine after a lasso or click:
// the indices of the selected points.
type PointEvent struct {
	Points []int `json:"points"`
}

// ClearEvent deselects everything.
type ClearEvent struct{}

func (ColumnEvent) event() {}
func (PointEvent) event()  {}
func (ClearEvent) event()  {}

// MalformedEventError reports a native event that could not be translated
// into sample handles. The event is discarded.
type MalformedEventError struct {
	View   selection.ViewID
	Index  int
	Size   int
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("malformed %s event: %s", e.View, e.Reason)
	}
	return fmt.Sprintf("malformed %s event: index %d outside [0,%d)", e.View, e.Index, e.Size)
}
