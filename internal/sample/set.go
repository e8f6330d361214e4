package sample

import (
	"encoding/json"

	"github.com/RoaringBitmap/roaring/v2"
)

// Set is an immutable set of sample handles.
// The zero value is the empty set.
type Set struct {
	rb *roaring.Bitmap
}

// NewSet builds a set from handles. Duplicates are collapsed.
func NewSet(handles ...Handle) Set {
	rb := roaring.New()
	for _, h := range handles {
		rb.Add(uint32(h))
	}
	return Set{rb: rb}
}

// Range returns the set {lo, ..., hi-1}.
func Range(lo, hi Handle) Set {
	rb := roaring.New()
	if hi > lo {
		rb.AddRange(uint64(lo), uint64(hi))
	}
	return Set{rb: rb}
}

func (s Set) bitmap() *roaring.Bitmap {
	if s.rb == nil {
		return roaring.New()
	}
	return s.rb
}

// Len returns the number of handles in the set.
func (s Set) Len() int {
	if s.rb == nil {
		return 0
	}
	return int(s.rb.GetCardinality())
}

// IsEmpty reports whether the set has no handles.
func (s Set) IsEmpty() bool {
	return s.rb == nil || s.rb.IsEmpty()
}

// Contains reports whether h is in the set.
func (s Set) Contains(h Handle) bool {
	return s.rb != nil && s.rb.Contains(uint32(h))
}

// Equal reports whether both sets hold the same handles.
func (s Set) Equal(other Set) bool {
	if s.IsEmpty() || other.IsEmpty() {
		return s.IsEmpty() && other.IsEmpty()
	}
	return s.rb.Equals(other.rb)
}

// Handles returns the members in ascending order.
func (s Set) Handles() []Handle {
	if s.rb == nil {
		return []Handle{}
	}
	out := make([]Handle, 0, s.rb.GetCardinality())
	it := s.rb.Iterator()
	for it.HasNext() {
		out = append(out, Handle(it.Next()))
	}
	return out
}

// Union returns s ∪ other.
func (s Set) Union(other Set) Set {
	return Set{rb: roaring.Or(s.bitmap(), other.bitmap())}
}

// Without returns s with the given handles removed.
func (s Set) Without(handles ...Handle) Set {
	rb := s.bitmap().Clone()
	for _, h := range handles {
		rb.Remove(uint32(h))
	}
	return Set{rb: rb}
}

// Clip drops every handle >= size and returns the remainder together with
// the dropped handles in ascending order.
func (s Set) Clip(size int) (Set, []Handle) {
	if s.IsEmpty() {
		return s, nil
	}
	if size < 0 {
		size = 0
	}
	maximum := s.rb.Maximum()
	if uint64(maximum) < uint64(size) {
		return s, nil
	}

	var dropped []Handle
	it := s.rb.Iterator()
	it.AdvanceIfNeeded(uint32(size))
	for it.HasNext() {
		dropped = append(dropped, Handle(it.Next()))
	}

	kept := s.rb.Clone()
	kept.RemoveRange(uint64(size), uint64(maximum)+1)
	return Set{rb: kept}, dropped
}

// MarshalJSON encodes the set as an ascending array of handles.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Handles())
}

// UnmarshalJSON decodes an array of handles.
func (s *Set) UnmarshalJSON(data []byte) error {
	var handles []Handle
	if err := json.Unmarshal(data, &handles); err != nil {
		return err
	}
	*s = NewSet(handles...)
	return nil
}
