package api

import (
	"github.com/nmfscope/server/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	K          int    `json:"k"`
	NumSamples int    `json:"n_samples"`
}

// DatasetRegistry holds selection sessions for all configured datasets.
type DatasetRegistry struct {
	sessions       map[string]*service.Session
	defaultDataset string
	datasetOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset string, order []string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		sessions:       make(map[string]*service.Session),
		defaultDataset: defaultDataset,
		datasetOrder:   order,
		title:          title,
	}
}

// Register adds a session for a dataset. Datasets not named in the
// constructor order are appended to it.
func (r *DatasetRegistry) Register(datasetID string, s *service.Session) {
	if _, ok := r.sessions[datasetID]; !ok {
		known := false
		for _, id := range r.datasetOrder {
			if id == datasetID {
				known = true
				break
			}
		}
		if !known {
			r.datasetOrder = append(r.datasetOrder, datasetID)
		}
	}
	r.sessions[datasetID] = s
	if r.defaultDataset == "" {
		r.defaultDataset = datasetID
	}
}

// Get returns the session for a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.Session {
	return r.sessions[datasetID]
}

// Default returns the default dataset's session.
func (r *DatasetRegistry) Default() *service.Session {
	return r.sessions[r.defaultDataset]
}

// DefaultDatasetID returns the default dataset ID.
func (r *DatasetRegistry) DefaultDatasetID() string {
	return r.defaultDataset
}

// DatasetIDs returns all registered dataset IDs in config order.
func (r *DatasetRegistry) DatasetIDs() []string {
	ids := make([]string, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		if _, ok := r.sessions[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of registered sessions.
func (r *DatasetRegistry) Len() int {
	return len(r.sessions)
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "NMF Explorer"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.DatasetIDs() {
		md := r.sessions[id].Metadata()
		infos = append(infos, DatasetInfo{
			ID:         id,
			Name:       md.Name,
			K:          md.K,
			NumSamples: md.NumSamples,
		})
	}
	return infos
}
