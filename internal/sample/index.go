// Package sample assigns stable integer handles to samples and provides the
// set type used for selections.
package sample

import (
	"fmt"
	"strings"
)

// Handle identifies one sample. Handles are dense (0..N-1) and follow the
// canonical loading order.
type Handle uint32

// UnknownSampleError is returned when a raw sample identifier was never
// registered in the index.
type UnknownSampleError struct {
	ID string
}

func (e *UnknownSampleError) Error() string {
	return fmt.Sprintf("unknown sample: %q", e.ID)
}

// Index maps raw sample identifiers to handles. It is immutable after
// construction and safe for concurrent use.
type Index struct {
	ids     []string
	handles map[string]Handle
}

// NewIndex builds an index from the ordered sample identifiers.
func NewIndex(ids []string) (*Index, error) {
	idx := &Index{
		ids:     make([]string, len(ids)),
		handles: make(map[string]Handle, len(ids)),
	}
	for i, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, fmt.Errorf("empty sample id at row %d", i)
		}
		if prev, dup := idx.handles[id]; dup {
			return nil, fmt.Errorf("duplicate sample id %q at rows %d and %d", id, prev, i)
		}
		idx.ids[i] = id
		idx.handles[id] = Handle(i)
	}
	return idx, nil
}

// Resolve returns the handle registered for rawID.
func (x *Index) Resolve(rawID string) (Handle, error) {
	h, ok := x.handles[strings.TrimSpace(rawID)]
	if !ok {
		return 0, &UnknownSampleError{ID: rawID}
	}
	return h, nil
}

// ResolveAll resolves every id it can. Identifiers that are not registered
// are returned separately, in input order.
func (x *Index) ResolveAll(rawIDs []string) (Set, []string) {
	handles := make([]Handle, 0, len(rawIDs))
	var unknown []string
	for _, raw := range rawIDs {
		h, err := x.Resolve(raw)
		if err != nil {
			unknown = append(unknown, raw)
			continue
		}
		handles = append(handles, h)
	}
	return NewSet(handles...), unknown
}

// Size returns the number of registered samples.
func (x *Index) Size() int {
	return len(x.ids)
}

// Valid reports whether h names a registered sample.
func (x *Index) Valid(h Handle) bool {
	return int(h) < len(x.ids)
}

// ID returns the raw identifier for h, or "" when h is out of range.
func (x *Index) ID(h Handle) string {
	if !x.Valid(h) {
		return ""
	}
	return x.ids[h]
}

// IDs returns a copy of all identifiers in handle order.
func (x *Index) IDs() []string {
	out := make([]string, len(x.ids))
	copy(out, x.ids)
	return out
}

// IDsOf returns the identifiers of the members of s in handle order.
// Out-of-range handles are skipped.
func (x *Index) IDsOf(s Set) []string {
	out := make([]string, 0, s.Len())
	for _, h := range s.Handles() {
		if x.Valid(h) {
			out = append(out, x.ids[h])
		}
	}
	return out
}

// Universe returns the set of all registered handles.
func (x *Index) Universe() Set {
	return Range(0, Handle(len(x.ids)))
}
