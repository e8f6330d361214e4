// Package nmf loads NMF component activities (the H matrix) together with
// the sample identifiers and per-sample annotations that go with them.
package nmf

import (
	"fmt"
	"sort"
)

// CancerTypeAnnotation is derived from the first four characters of every
// sample id.
const CancerTypeAnnotation = "cancer_type"

// Dataset is one loaded NMF result. Row i of H and of every annotation
// belongs to SampleIDs[i].
type Dataset struct {
	Name        string
	K           int
	SampleIDs   []string
	Components  []string
	H           [][]float64
	Annotations map[string][]string
}

// DataShapeMismatchError reports inconsistent row or column counts between
// the parts of a dataset. A dataset with this error cannot back a session.
type DataShapeMismatchError struct {
	Part string
	Got  int
	Want int
}

func (e *DataShapeMismatchError) Error() string {
	return fmt.Sprintf("data shape mismatch: %s has %d entries, want %d", e.Part, e.Got, e.Want)
}

// Validate checks that ids, H rows and every annotation agree in length and
// that every H row has one value per component.
func (d *Dataset) Validate() error {
	n := len(d.SampleIDs)
	if len(d.H) != n {
		return &DataShapeMismatchError{Part: "H rows", Got: len(d.H), Want: n}
	}
	for i, row := range d.H {
		if len(row) != len(d.Components) {
			return &DataShapeMismatchError{Part: fmt.Sprintf("H row %d", i), Got: len(row), Want: len(d.Components)}
		}
	}
	for _, name := range d.AnnotationNames() {
		if got := len(d.Annotations[name]); got != n {
			return &DataShapeMismatchError{Part: "annotation " + name, Got: got, Want: n}
		}
	}
	return nil
}

// NumSamples returns the number of samples.
func (d *Dataset) NumSamples() int { return len(d.SampleIDs) }

// AnnotationNames returns the annotation names in sorted order.
func (d *Dataset) AnnotationNames() []string {
	names := make([]string, 0, len(d.Annotations))
	for name := range d.Annotations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetAnnotation adds or replaces an annotation column.
func (d *Dataset) SetAnnotation(name string, values []string) error {
	if len(values) != len(d.SampleIDs) {
		return &DataShapeMismatchError{Part: "annotation " + name, Got: len(values), Want: len(d.SampleIDs)}
	}
	if d.Annotations == nil {
		d.Annotations = make(map[string][]string)
	}
	d.Annotations[name] = values
	return nil
}

// ColumnSums returns the total activity of every component.
func (d *Dataset) ColumnSums() []float64 {
	sums := make([]float64, len(d.Components))
	for _, row := range d.H {
		for j, v := range row {
			sums[j] += v
		}
	}
	return sums
}

// CancerTypes derives the cancer type code of every sample.
func CancerTypes(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = CancerTypeCode(id)
	}
	return out
}

// CancerTypeCode returns the first four characters of a sample id.
func CancerTypeCode(id string) string {
	r := []rune(id)
	if len(r) > 4 {
		r = r[:4]
	}
	return string(r)
}
