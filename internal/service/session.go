// Package service provides the per-dataset selection session behind the API.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"log"
	"sync"

	"github.com/nmfscope/server/internal/cache"
	"github.com/nmfscope/server/internal/coordinator"
	"github.com/nmfscope/server/internal/data/embedding"
	"github.com/nmfscope/server/internal/data/nmf"
	"github.com/nmfscope/server/internal/order"
	"github.com/nmfscope/server/internal/render"
	"github.com/nmfscope/server/internal/sample"
	"github.com/nmfscope/server/internal/selection"
	"github.com/nmfscope/server/internal/selstore"
	"github.com/nmfscope/server/internal/view"
	"github.com/nmfscope/server/pkg/colormap"
)

var (
	// ErrNoStore is returned by saved-selection operations when no store is
	// configured.
	ErrNoStore = errors.New("saved selections are not configured")
	// ErrNotFound is returned for unknown saved selections.
	ErrNotFound = errors.New("not found")
)

// SessionConfig contains session configuration.
type SessionConfig struct {
	DatasetID   string
	DisplayName string
	Dataset     *nmf.Dataset
	// Coordinates of the embedding view; nil projects onto the two most
	// active components.
	Coordinates *embedding.Coordinates
	// Groupings derive extra annotations from the cancer type codes, keyed
	// by annotation name (e.g. organ_system).
	Groupings       map[string]*nmf.Grouping
	ComponentColors map[string]string
	CategoryColors  map[string]string
	SortMethod      string
	DimOpacity      float64
	FilterMode      bool
	WarningHistory  int
	Cache           *cache.Manager
	Renderer        *render.Renderer
	Store           *selstore.Store
	Observer        coordinator.Observer
}

// Session owns the selection state of one dataset and the two views that
// show it.
type Session struct {
	id     string
	name   string
	ds     *nmf.Dataset
	index  *sample.Index
	coords *embedding.Coordinates

	state     *selection.Store
	coord     *coordinator.Coordinator
	heatFrame *view.Frame
	embFrame  *view.Frame

	compOrder  []int
	compColors []string
	catColors  map[string]map[string]string

	embOpts []view.EmbeddingOption

	mu         sync.RWMutex
	sortMethod order.Method

	cache    *cache.Manager
	renderer *render.Renderer
	store    *selstore.Store
}

// NewSession validates the dataset and builds the session. Shape errors are
// returned as *nmf.DataShapeMismatchError; no session exists afterwards.
func NewSession(cfg SessionConfig) (*Session, error) {
	ds := cfg.Dataset
	if ds == nil {
		return nil, errors.New("dataset is required")
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	codes, ok := ds.Annotations[nmf.CancerTypeAnnotation]
	if !ok {
		codes = nmf.CancerTypes(ds.SampleIDs)
		if err := ds.SetAnnotation(nmf.CancerTypeAnnotation, codes); err != nil {
			return nil, err
		}
	}
	for name, g := range cfg.Groupings {
		if err := ds.SetAnnotation(name, g.Annotate(codes)); err != nil {
			return nil, err
		}
	}

	idx, err := sample.NewIndex(ds.SampleIDs)
	if err != nil {
		return nil, err
	}

	coords := cfg.Coordinates
	if coords == nil {
		coords, err = embedding.ProjectComponents(ds)
		if err != nil {
			return nil, fmt.Errorf("embedding: %w", err)
		}
	}
	if coords.Len() != idx.Size() {
		return nil, &nmf.DataShapeMismatchError{Part: "embedding points", Got: coords.Len(), Want: idx.Size()}
	}

	name := cfg.DisplayName
	if name == "" {
		name = cfg.DatasetID
	}

	s := &Session{
		id:        cfg.DatasetID,
		name:      name,
		ds:        ds,
		index:     idx,
		coords:    coords,
		state:     selection.NewStore(idx.Size(), cfg.WarningHistory),
		heatFrame: &view.Frame{},
		embFrame:  &view.Frame{},
		compOrder: order.ComponentOrder(ds),
		cache:     cfg.Cache,
		renderer:  cfg.Renderer,
		store:     cfg.Store,
	}
	s.compColors = colormap.ComponentColors(ds.Components, cfg.ComponentColors)
	s.catColors = categoryColors(ds, cfg.Groupings, cfg.CategoryColors)

	if cfg.DimOpacity > 0 {
		s.embOpts = append(s.embOpts, view.WithDimOpacity(cfg.DimOpacity))
	}
	if cfg.FilterMode {
		s.embOpts = append(s.embOpts, view.WithFilterList())
	}

	method, known := order.ParseMethod(cfg.SortMethod)
	if !known {
		log.Printf("[%s] unknown sort method %q, using %s", s.id, cfg.SortMethod, method)
	}
	heat, err := s.heatmapAdapter(method)
	if err != nil {
		return nil, err
	}
	s.sortMethod = method

	opts := []coordinator.Option{coordinator.WithLabel(s.id)}
	if cfg.Observer != nil {
		opts = append(opts, coordinator.WithObserver(cfg.Observer))
	}
	s.coord = coordinator.New(s.state, opts...)
	s.coord.Attach(heat, s.heatFrame)
	s.coord.Attach(view.NewEmbeddingAdapter(idx.Size(), s.embOpts...), s.embFrame)

	log.Printf("[%s] session ready: %d samples, %d components, embedding %s",
		s.id, idx.Size(), len(ds.Components), coords.Source)
	return s, nil
}

func categoryColors(ds *nmf.Dataset, groupings map[string]*nmf.Grouping, overrides map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(ds.Annotations))
	for _, name := range ds.AnnotationNames() {
		values := ds.Annotations[name]
		switch {
		case name == nmf.CancerTypeAnnotation:
			out[name] = colormap.AssignCategories(values, overrides, colormap.Turbo)
		case groupings[name] != nil:
			out[name] = colormap.AssignCategories(values, groupings[name].Colors(), colormap.Alphabet)
		default:
			out[name] = colormap.AssignCategories(values, nil, colormap.Alphabet)
		}
	}
	return out
}

func (s *Session) heatmapAdapter(method order.Method) (*view.HeatmapAdapter, error) {
	ord, err := order.Compute(s.ds, method)
	if err != nil {
		return nil, err
	}
	return view.NewHeatmapAdapter(ord, s.index.Size(), view.WithOrderName(string(method)))
}

// ID returns the dataset id.
func (s *Session) ID() string { return s.id }

// Name returns the display name.
func (s *Session) Name() string { return s.name }

// Index returns the sample index.
func (s *Session) Index() *sample.Index { return s.index }

// Coordinator returns the selection coordinator.
func (s *Session) Coordinator() *coordinator.Coordinator { return s.coord }

// ComponentInfo describes one NMF component.
type ComponentInfo struct {
	Name  string  `json:"name"`
	Color string  `json:"color"`
	Total float64 `json:"total"`
}

// Metadata describes a session for the frontend.
type Metadata struct {
	ID              string                       `json:"id"`
	Name            string                       `json:"name"`
	K               int                          `json:"k"`
	NumSamples      int                          `json:"n_samples"`
	Components      []ComponentInfo              `json:"components"`
	ComponentOrder  []int                        `json:"component_order"`
	Annotations     []string                     `json:"annotations"`
	CategoryColors  map[string]map[string]string `json:"category_colors"`
	SortMethod      order.Method                 `json:"sort_method"`
	SortMethods     []order.Method               `json:"sort_methods"`
	EmbeddingSource string                       `json:"embedding_source"`
	EmbeddingMode   view.Kind                    `json:"embedding_mode"`
}

// Metadata returns the session metadata.
func (s *Session) Metadata() Metadata {
	sums := s.ds.ColumnSums()
	comps := make([]ComponentInfo, len(s.ds.Components))
	for i, name := range s.ds.Components {
		comps[i] = ComponentInfo{Name: name, Color: s.compColors[i], Total: sums[i]}
	}

	s.mu.RLock()
	method := s.sortMethod
	s.mu.RUnlock()

	embMode := view.KindHighlightMask
	if a, ok := s.coord.Adapter(selection.Embedding); ok {
		embMode = a.Accepts()
	}

	return Metadata{
		ID:              s.id,
		Name:            s.name,
		K:               s.ds.K,
		NumSamples:      s.index.Size(),
		Components:      comps,
		ComponentOrder:  s.compOrder,
		Annotations:     s.ds.AnnotationNames(),
		CategoryColors:  s.catColors,
		SortMethod:      method,
		SortMethods:     []order.Method{order.Component, order.Alphabetical, order.CancerType, order.OrganSystem},
		EmbeddingSource: s.coords.Source,
		EmbeddingMode:   embMode,
	}
}

// SampleInfo describes one sample.
type SampleInfo struct {
	Handle      sample.Handle     `json:"handle"`
	ID          string            `json:"id"`
	Annotations map[string]string `json:"annotations"`
}

// Samples lists every sample in handle order.
func (s *Session) Samples() []SampleInfo {
	names := s.ds.AnnotationNames()
	out := make([]SampleInfo, s.index.Size())
	for i := range out {
		ann := make(map[string]string, len(names))
		for _, name := range names {
			ann[name] = s.ds.Annotations[name][i]
		}
		out[i] = SampleInfo{Handle: sample.Handle(i), ID: s.index.ID(sample.Handle(i)), Annotations: ann}
	}
	return out
}

// EmbeddingData is what the scatter engine needs to draw the points.
type EmbeddingData struct {
	Points []embedding.Point `json:"points"`
	Bounds embedding.Bounds  `json:"bounds"`
	Source string            `json:"source"`
	// Colors are the cancer type colors, one per handle.
	Colors []string `json:"colors"`
}

// Embedding returns the scatter coordinates indexed by handle.
func (s *Session) Embedding() EmbeddingData {
	return EmbeddingData{
		Points: s.coords.Points,
		Bounds: s.coords.Bounds(),
		Source: s.coords.Source,
		Colors: s.annotationColors(nmf.CancerTypeAnnotation),
	}
}

func (s *Session) annotationColors(name string) []string {
	values := s.ds.Annotations[name]
	colors := s.catColors[name]
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = colors[v]
	}
	return out
}

// HeatmapData is what the heatmap engine needs to draw the columns.
type HeatmapData struct {
	SortMethod order.Method        `json:"sort_method"`
	Order      []sample.Handle     `json:"order"`
	SampleIDs  []string            `json:"sample_ids"`
	Labels     []string            `json:"labels"`
	Components []string            `json:"components"`
	Colors     []string            `json:"colors"`
	Values     [][]float64         `json:"values"`
	Strips     map[string][]string `json:"strips"`
}

// Heatmap returns the component activities in display order: one row per
// component (most active first), one column per sample.
func (s *Session) Heatmap() HeatmapData {
	s.mu.RLock()
	method := s.sortMethod
	var ord []sample.Handle
	if a, ok := s.coord.Adapter(selection.Heatmap); ok {
		ord = a.(*view.HeatmapAdapter).Order()
	}
	s.mu.RUnlock()

	data := HeatmapData{
		SortMethod: method,
		Order:      ord,
		SampleIDs:  order.Labels(s.index.IDs(), ord),
		Labels:     order.Labels(s.ds.Annotations[nmf.CancerTypeAnnotation], ord),
		Components: make([]string, len(s.compOrder)),
		Colors:     make([]string, len(s.compOrder)),
		Values:     make([][]float64, len(s.compOrder)),
		Strips:     make(map[string][]string),
	}
	for rank, c := range s.compOrder {
		data.Components[rank] = s.ds.Components[c]
		data.Colors[rank] = s.compColors[c]
		row := make([]float64, len(ord))
		for pos, h := range ord {
			row[pos] = s.ds.H[h][c]
		}
		data.Values[rank] = row
	}
	for _, name := range s.ds.AnnotationNames() {
		data.Strips[name] = order.Labels(s.annotationColors(name), ord)
	}
	return data
}

// SetSortMethod reorders the heatmap. The selection does not change; only
// the heatmap view is re-rendered. Unknown names fall back to component
// order and report known=false.
func (s *Session) SetSortMethod(name string) (method order.Method, known bool, err error) {
	method, known = order.ParseMethod(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	heat, err := s.heatmapAdapter(method)
	if err != nil {
		return method, known, err
	}
	if err := s.coord.Replace(heat); err != nil {
		return method, known, err
	}
	s.sortMethod = method
	return method, known, nil
}

// Selection returns the current confirmed selection.
func (s *Session) Selection() selection.State {
	return s.coord.Current()
}

// SelectionIDs returns the raw ids of the current selection.
func (s *Session) SelectionIDs() []string {
	return s.index.IDsOf(s.coord.Current().Active)
}

// SelectIDs resolves raw sample ids and proposes them on behalf of origin.
// Unknown ids are skipped and returned.
func (s *Session) SelectIDs(origin selection.ViewID, ids []string) (coordinator.Result, []string) {
	set, unknown := s.index.ResolveAll(ids)
	if len(unknown) > 0 {
		log.Printf("[%s] ignoring %d unknown sample id(s)", s.id, len(unknown))
	}
	return s.coord.Set(origin, set), unknown
}

// SelectHandles proposes handles on behalf of origin.
func (s *Session) SelectHandles(origin selection.ViewID, handles []sample.Handle) coordinator.Result {
	return s.coord.Set(origin, sample.NewSet(handles...))
}

// Clear deselects everything on behalf of origin.
func (s *Session) Clear(origin selection.ViewID) coordinator.Result {
	return s.coord.Clear(origin)
}

// Ingest forwards a native event from one view.
func (s *Session) Ingest(v selection.ViewID, ev view.Event) (coordinator.Result, error) {
	return s.coord.Ingest(v, ev)
}

// Wait blocks until a selection newer than since is broadcast.
func (s *Session) Wait(ctx context.Context, since uint64) (selection.State, error) {
	return s.coord.Wait(ctx, since)
}

// Warnings returns recent dropped-handle warnings.
func (s *Session) Warnings() []selection.Warning {
	return s.state.Warnings()
}

// ViewState is what a view should show for the current selection.
// Applied counts the instructions pushed to the view; it does not move when
// the view originated a change.
type ViewState struct {
	View        selection.ViewID `json:"view"`
	Applied     uint64           `json:"applied"`
	Version     uint64           `json:"version"`
	Instruction view.Instruction `json:"instruction"`
}

// ViewState renders the current selection for view v. The instruction and
// the version always describe the same state, including for a view whose
// own gesture was not echoed back to it.
func (s *Session) ViewState(v selection.ViewID) (ViewState, error) {
	f, err := s.frame(v)
	if err != nil {
		return ViewState{}, err
	}
	a, st, err := s.coord.Snapshot(v)
	if err != nil {
		return ViewState{}, err
	}
	_, applied := f.Latest()
	return ViewState{View: v, Applied: applied, Version: st.Version, Instruction: a.Render(st)}, nil
}

func (s *Session) frame(v selection.ViewID) (*view.Frame, error) {
	switch v {
	case selection.Heatmap:
		return s.heatFrame, nil
	case selection.Embedding:
		return s.embFrame, nil
	default:
		return nil, fmt.Errorf("%w: %s", coordinator.ErrUnknownView, v)
	}
}

// Preview renders a PNG of view v showing the current selection.
func (s *Session) Preview(v selection.ViewID) ([]byte, error) {
	if s.renderer == nil {
		return nil, errors.New("rendering is not configured")
	}
	a, st, err := s.coord.Snapshot(v)
	if err != nil {
		return nil, err
	}
	ins := a.Render(st)

	var key string
	if s.cache != nil {
		insJSON, err := json.Marshal(ins)
		if err != nil {
			return nil, err
		}
		var orderJSON []byte
		if h, ok := a.(*view.HeatmapAdapter); ok {
			orderJSON, _ = json.Marshal(h.Order())
		}
		w, hgt := s.renderer.Size()
		key = cache.PreviewKey(s.id, v.String(), w, hgt, insJSON, orderJSON)
		if data, ok := s.cache.GetPNG(key); ok {
			return data, nil
		}
	}

	var data []byte
	switch adapter := a.(type) {
	case *view.HeatmapAdapter:
		data, err = s.renderer.RenderHeatmap(render.HeatmapInput{
			H:          s.ds.H,
			Order:      adapter.Order(),
			Components: s.compOrder,
			Strip:      s.parsedColors(nmf.CancerTypeAnnotation),
		}, ins)
	default:
		data, err = s.renderer.RenderScatter(render.ScatterInput{
			Coordinates: s.coords,
			Colors:      s.parsedColors(nmf.CancerTypeAnnotation),
		}, ins)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetPNG(key, data); err != nil {
			log.Printf("[%s] preview cache: %v", s.id, err)
		}
	}
	return data, nil
}

func (s *Session) parsedColors(annotation string) []color.Color {
	hex := s.annotationColors(annotation)
	out := make([]color.Color, len(hex))
	for i, h := range hex {
		if c, err := colormap.ParseHex(h); err == nil {
			out[i] = c
		}
	}
	return out
}

// SaveSelection stores the current selection under name.
func (s *Session) SaveSelection(name string) (*selstore.Saved, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	st := s.coord.Current()
	saved := &selstore.Saved{
		DatasetID: s.id,
		Name:      name,
		SampleIDs: s.index.IDsOf(st.Active),
		Origin:    st.Origin.String(),
		Version:   st.Version,
	}
	if err := s.store.Create(saved); err != nil {
		return nil, err
	}
	return saved, nil
}

// SavedSelections lists the stored selections of this dataset.
func (s *Session) SavedSelections() ([]*selstore.Saved, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ListByDataset(s.id)
}

// RestoreSelection makes a stored selection current. It is proposed with no
// origin view, so every view is re-rendered. Ids that no longer exist are
// skipped and returned.
func (s *Session) RestoreSelection(savedID string) (coordinator.Result, []string, error) {
	saved, err := s.getSaved(savedID)
	if err != nil {
		return coordinator.Result{}, nil, err
	}
	res, unknown := s.SelectIDs(selection.None, saved.SampleIDs)
	return res, unknown, nil
}

// DeleteSavedSelection removes a stored selection.
func (s *Session) DeleteSavedSelection(savedID string) error {
	if _, err := s.getSaved(savedID); err != nil {
		return err
	}
	if _, err := s.store.Delete(savedID); err != nil {
		return err
	}
	return nil
}

func (s *Session) getSaved(savedID string) (*selstore.Saved, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	saved, err := s.store.Get(savedID)
	if err != nil {
		return nil, err
	}
	if saved == nil || saved.DatasetID != s.id {
		return nil, fmt.Errorf("saved selection %q: %w", savedID, ErrNotFound)
	}
	return saved, nil
}
