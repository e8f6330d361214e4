package service

import (
	"encoding/json"
	"log"
	"sort"

	"github.com/nmfscope/server/internal/cache"
	"github.com/nmfscope/server/internal/sample"
)

// ComponentSummary compares one component between the selection and the
// whole dataset.
type ComponentSummary struct {
	Name         string  `json:"name"`
	Color        string  `json:"color"`
	SelectedMean float64 `json:"selected_mean"`
	OverallMean  float64 `json:"overall_mean"`
	// Dominant counts selected samples whose strongest component this is.
	Dominant int `json:"dominant"`
}

// CategoryCount is how many selected samples carry one annotation value.
type CategoryCount struct {
	Value string `json:"value"`
	Color string `json:"color"`
	Count int    `json:"count"`
}

// Summary describes a selection with plain descriptive numbers.
type Summary struct {
	Version     uint64                     `json:"version"`
	Selected    int                        `json:"selected"`
	Total       int                        `json:"total"`
	Components  []ComponentSummary         `json:"components"`
	Annotations map[string][]CategoryCount `json:"annotations"`
}

// Summary summarizes the current selection. Results are cached by the set
// of selected sample ids.
func (s *Session) Summary() (*Summary, error) {
	st := s.coord.Current()
	ids := s.index.IDsOf(st.Active)

	var key string
	if s.cache != nil {
		key = cache.SummaryKey(s.id, ids)
		if data, ok := s.cache.GetQuery(key); ok {
			var sum Summary
			if err := json.Unmarshal(data, &sum); err == nil {
				sum.Version = st.Version
				return &sum, nil
			}
		}
	}

	sum := s.summarize(st.Active)
	sum.Version = st.Version

	if s.cache != nil {
		data, err := json.Marshal(sum)
		if err != nil {
			log.Printf("[%s] summary cache: %v", s.id, err)
		} else {
			s.cache.SetQuery(key, data)
		}
	}
	return sum, nil
}

func (s *Session) summarize(active sample.Set) *Summary {
	handles := active.Handles()
	k := len(s.ds.Components)
	sums := s.ds.ColumnSums()
	n := s.index.Size()

	selSums := make([]float64, k)
	dominant := make([]int, k)
	for _, h := range handles {
		row := s.ds.H[h]
		best := 0
		for c, v := range row {
			selSums[c] += v
			if v > row[best] {
				best = c
			}
		}
		if k > 0 {
			dominant[best]++
		}
	}

	sum := &Summary{
		Selected:    len(handles),
		Total:       n,
		Components:  make([]ComponentSummary, 0, k),
		Annotations: make(map[string][]CategoryCount),
	}
	for _, c := range s.compOrder {
		cs := ComponentSummary{
			Name:     s.ds.Components[c],
			Color:    s.compColors[c],
			Dominant: dominant[c],
		}
		if n > 0 {
			cs.OverallMean = sums[c] / float64(n)
		}
		if len(handles) > 0 {
			cs.SelectedMean = selSums[c] / float64(len(handles))
		}
		sum.Components = append(sum.Components, cs)
	}

	for _, name := range s.ds.AnnotationNames() {
		values := s.ds.Annotations[name]
		counts := make(map[string]int)
		for _, h := range handles {
			counts[values[h]]++
		}
		out := make([]CategoryCount, 0, len(counts))
		for v, c := range counts {
			out = append(out, CategoryCount{Value: v, Color: s.catColors[name][v], Count: c})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Count != out[j].Count {
				return out[i].Count > out[j].Count
			}
			return out[i].Value < out[j].Value
		})
		sum.Annotations[name] = out
	}
	return sum
}
