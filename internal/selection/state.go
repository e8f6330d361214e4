// Package selection holds the single source of truth for which samples are
// currently selected.
package selection

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nmfscope/server/internal/sample"
)

// ViewID identifies the view that produced a selection change.
type ViewID int

const (
	None ViewID = iota
	Heatmap
	Embedding
)

func (v ViewID) String() string {
	switch v {
	case Heatmap:
		return "heatmap"
	case Embedding:
		return "embedding"
	default:
		return "none"
	}
}

// ParseViewID parses the string form produced by String.
func ParseViewID(s string) (ViewID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heatmap":
		return Heatmap, nil
	case "embedding", "umap", "scatter":
		return Embedding, nil
	case "none", "":
		return None, nil
	default:
		return None, fmt.Errorf("unknown view: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v ViewID) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *ViewID) UnmarshalText(text []byte) error {
	id, err := ParseViewID(string(text))
	if err != nil {
		return err
	}
	*v = id
	return nil
}

// State is one confirmed selection.
type State struct {
	Active  sample.Set `json:"active"`
	Version uint64     `json:"version"`
	Origin  ViewID     `json:"origin"`
}

// InvalidHandleError reports handles that were dropped from a proposal
// because they are outside the sample index.
type InvalidHandleError struct {
	Handles []sample.Handle
	Size    int
}

func (e *InvalidHandleError) Error() string {
	return fmt.Sprintf("dropped %d handle(s) outside sample range [0,%d): %v", len(e.Handles), e.Size, e.Handles)
}

// Warning records one dropped-handle incident.
type Warning struct {
	Version uint64          `json:"version"`
	Origin  ViewID          `json:"origin"`
	Dropped []sample.Handle `json:"dropped"`
	At      time.Time       `json:"at"`
}

const defaultWarningHistory = 64

// Store owns the selection state. Propose is the only mutator.
type Store struct {
	size int

	mu       sync.RWMutex
	current  State
	warnings []Warning
	maxWarn  int
}

// NewStore creates an empty store for an index of the given size.
// maxWarnings bounds the warning history; <= 0 selects the default.
func NewStore(size, maxWarnings int) *Store {
	if maxWarnings <= 0 {
		maxWarnings = defaultWarningHistory
	}
	return &Store{
		size:    size,
		current: State{Active: sample.NewSet(), Origin: None},
		maxWarn: maxWarnings,
	}
}

// Size returns the number of valid handles.
func (s *Store) Size() int {
	return s.size
}

// Current returns the latest confirmed state.
func (s *Store) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Propose validates set, bumps the version and records origin. The returned
// state is always the accepted one. When handles had to be dropped the
// error is a *InvalidHandleError describing them; the valid remainder is
// still applied.
func (s *Store) Propose(set sample.Set, origin ViewID) (State, error) {
	accepted, dropped := set.Clip(s.size)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = State{
		Active:  accepted,
		Version: s.current.Version + 1,
		Origin:  origin,
	}

	if len(dropped) == 0 {
		return s.current, nil
	}

	s.warnings = append(s.warnings, Warning{
		Version: s.current.Version,
		Origin:  origin,
		Dropped: dropped,
		At:      time.Now(),
	})
	if over := len(s.warnings) - s.maxWarn; over > 0 {
		s.warnings = append([]Warning(nil), s.warnings[over:]...)
	}
	return s.current, &InvalidHandleError{Handles: dropped, Size: s.size}
}

// Warnings returns the recorded dropped-handle warnings, oldest first.
func (s *Store) Warnings() []Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Warning, len(s.warnings))
	copy(out, s.warnings)
	return out
}
