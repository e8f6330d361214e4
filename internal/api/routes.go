// Package api provides HTTP handlers for the NMF explorer server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nmfscope/server/internal/cache"
	"github.com/nmfscope/server/internal/coordinator"
	"github.com/nmfscope/server/internal/metrics"
	"github.com/nmfscope/server/internal/sample"
	"github.com/nmfscope/server/internal/selection"
	"github.com/nmfscope/server/internal/selstore"
	"github.com/nmfscope/server/internal/service"
	"github.com/nmfscope/server/internal/view"
)

const (
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 2 * time.Minute
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	Cache       *cache.Manager
	Metrics     *metrics.Metrics
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global endpoints (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))
	r.Get("/api/stats", statsHandler(cfg.Cache))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Route("/api", func(r chi.Router) {
			r.Get("/metadata", withSession(metadataHandler))
			r.Get("/samples", withSession(samplesHandler))
			r.Get("/embedding", withSession(embeddingHandler))
			r.Get("/heatmap", withSession(heatmapHandler))

			r.Route("/selection", func(r chi.Router) {
				r.Get("/", withSession(selectionHandler))
				r.Put("/", withSession(setSelectionHandler))
				r.Delete("/", withSession(clearSelectionHandler))
				r.Get("/wait", withSession(waitSelectionHandler))
				r.Get("/summary", withSession(summaryHandler))
				r.Get("/warnings", withSession(warningsHandler))
			})

			r.Route("/views/{view}", func(r chi.Router) {
				r.Post("/events", withSession(viewEventHandler))
				r.Get("/render", withSession(viewRenderHandler))
				r.Get("/preview.png", withSession(viewPreviewHandler))
				r.Put("/order", withSession(viewOrderHandler))
			})

			r.Route("/selections", func(r chi.Router) {
				r.Get("/", withSession(savedListHandler))
				r.Post("/", withSession(savedCreateHandler))
				r.Post("/{selection_id}/restore", withSession(savedRestoreHandler))
				r.Delete("/{selection_id}", withSession(savedDeleteHandler))
			})
		})
	})

	return r
}

// Context key for dataset session
type ctxKey string

const datasetSessionKey ctxKey = "datasetSession"

// datasetMiddleware resolves the dataset from URL and injects the session into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			s := registry.Get(datasetID)
			if s == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetSessionKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetSession(r *http.Request) *service.Session {
	if s, ok := r.Context().Value(datasetSessionKey).(*service.Session); ok {
		return s
	}
	return nil
}

// withSession adapts a session handler factory to a dataset-scoped route.
func withSession(h func(*service.Session) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := getDatasetSession(r)
		if s == nil {
			http.Error(w, "dataset session not found", http.StatusInternalServerError)
			return
		}
		h(s)(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var malformed *view.MalformedEventError
	switch {
	case errors.As(err, &malformed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coordinator.ErrUnknownView), errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoStore):
		return http.StatusNotImplemented
	case errors.Is(err, selstore.ErrNameRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseView(w http.ResponseWriter, r *http.Request) (selection.ViewID, bool) {
	v, err := selection.ParseViewID(chi.URLParam(r, "view"))
	if err != nil || v == selection.None {
		http.Error(w, "view not found: "+chi.URLParam(r, "view"), http.StatusNotFound)
		return selection.None, false
	}
	return v, true
}

func parseOrigin(w http.ResponseWriter, raw string) (selection.ViewID, bool) {
	v, err := selection.ParseViewID(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return selection.None, false
	}
	return v, true
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		}
		writeJSON(w, http.StatusOK, response)
	}
}

func statsHandler(cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := map[string]interface{}{}
		if cm != nil {
			stats = cm.Stats()
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func metadataHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Metadata())
	}
}

func samplesHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		samples := s.Samples()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"samples": samples,
			"total":   len(samples),
		})
	}
}

func embeddingHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Embedding())
	}
}

func heatmapHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Heatmap())
	}
}

// selectionResponse is the wire form of a confirmed selection.
type selectionResponse struct {
	Version   uint64           `json:"version"`
	Origin    selection.ViewID `json:"origin"`
	Handles   sample.Set       `json:"handles"`
	SampleIDs []string         `json:"sample_ids"`
	Count     int              `json:"count"`
}

func newSelectionResponse(s *service.Session, st selection.State) selectionResponse {
	return selectionResponse{
		Version:   st.Version,
		Origin:    st.Origin,
		Handles:   st.Active,
		SampleIDs: s.Index().IDsOf(st.Active),
		Count:     st.Active.Len(),
	}
}

// resultResponse reports the outcome of one proposal.
type resultResponse struct {
	Selection selectionResponse  `json:"selection"`
	Broadcast bool               `json:"broadcast"`
	Rendered  []selection.ViewID `json:"rendered"`
	Dropped   []sample.Handle    `json:"dropped,omitempty"`
	Unknown   []string           `json:"unknown_ids,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func newResultResponse(s *service.Session, res coordinator.Result) resultResponse {
	rendered := res.Rendered
	if rendered == nil {
		rendered = []selection.ViewID{}
	}
	return resultResponse{
		Selection: newSelectionResponse(s, res.State),
		Broadcast: res.Broadcast,
		Rendered:  rendered,
		Dropped:   res.Dropped,
	}
}

func selectionHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newSelectionResponse(s, s.Selection()))
	}
}

type setSelectionRequest struct {
	SampleIDs []string        `json:"sample_ids"`
	Handles   []sample.Handle `json:"handles"`
	Origin    string          `json:"origin"`
}

// setSelectionHandler replaces the selection with raw sample ids or handles.
// Unknown ids and out-of-range handles are skipped and reported.
func setSelectionHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setSelectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.SampleIDs == nil && req.Handles == nil {
			http.Error(w, "sample_ids or handles is required", http.StatusBadRequest)
			return
		}
		origin, ok := parseOrigin(w, req.Origin)
		if !ok {
			return
		}

		set := sample.NewSet(req.Handles...)
		var unknown []string
		if req.SampleIDs != nil {
			var resolved sample.Set
			resolved, unknown = s.Index().ResolveAll(req.SampleIDs)
			set = set.Union(resolved)
		}
		res := s.Coordinator().Set(origin, set)

		resp := newResultResponse(s, res)
		resp.Unknown = unknown
		writeJSON(w, http.StatusOK, resp)
	}
}

func clearSelectionHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin, ok := parseOrigin(w, r.URL.Query().Get("origin"))
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, newResultResponse(s, s.Clear(origin)))
	}
}

// waitSelectionHandler long-polls for a selection newer than ?since=.
// It answers 204 when the timeout passes without a change.
func waitSelectionHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, err := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		timeout := defaultWaitTimeout
		if raw := strings.TrimSpace(r.URL.Query().Get("timeout")); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				http.Error(w, "invalid timeout parameter", http.StatusBadRequest)
				return
			}
			if d > maxWaitTimeout {
				d = maxWaitTimeout
			}
			timeout = d
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		st, err := s.Wait(ctx, since)
		if err != nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, newSelectionResponse(s, st))
	}
}

func summaryHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := s.Summary()
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

func warningsHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		warnings := s.Warnings()
		if warnings == nil {
			warnings = []selection.Warning{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"warnings": warnings,
		})
	}
}

// eventRequest is a native gesture from a rendering engine. Type defaults to
// the natural payload of the view: columns for the heatmap, points for the
// embedding. SortMethod, when set on a column event, must match the order
// the heatmap currently shows.
type eventRequest struct {
	Type       string             `json:"type"`
	Columns    []int              `json:"columns"`
	Ranges     []view.ColumnRange `json:"ranges"`
	Points     []int              `json:"points"`
	SortMethod string             `json:"sort_method"`
}

func (req eventRequest) event(v selection.ViewID) (view.Event, error) {
	typ := strings.ToLower(strings.TrimSpace(req.Type))
	if typ == "" {
		if v == selection.Heatmap {
			typ = "columns"
		} else {
			typ = "points"
		}
	}
	switch typ {
	case "clear":
		return view.ClearEvent{}, nil
	case "columns":
		return view.ColumnEvent{Columns: req.Columns, Ranges: req.Ranges, Order: req.SortMethod}, nil
	case "points":
		return view.PointEvent{Points: req.Points}, nil
	default:
		return nil, errors.New("unknown event type: " + req.Type)
	}
}

// viewEventHandler ingests a native event. A malformed event is rejected
// with 422 and the current selection, which is left untouched.
func viewEventHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := parseView(w, r)
		if !ok {
			return
		}
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		ev, err := req.event(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := s.Ingest(v, ev)
		resp := newResultResponse(s, res)
		if err != nil {
			resp.Error = err.Error()
			writeJSON(w, errorStatus(err), resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func viewRenderHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := parseView(w, r)
		if !ok {
			return
		}
		vs, err := s.ViewState(v)
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, vs)
	}
}

func viewPreviewHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := parseView(w, r)
		if !ok {
			return
		}
		data, err := s.Preview(v)
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

// viewOrderHandler changes the heatmap column order (?sort=).
func viewOrderHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := parseView(w, r)
		if !ok {
			return
		}
		if v != selection.Heatmap {
			http.Error(w, "only the heatmap can be reordered", http.StatusBadRequest)
			return
		}
		method, known, err := s.SetSortMethod(r.URL.Query().Get("sort"))
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sort_method": method,
			"recognized":  known,
			"order":       s.Heatmap().Order,
		})
	}
}

func savedListHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.SavedSelections()
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"selections": list,
		})
	}
}

type savedCreateRequest struct {
	Name string `json:"name"`
}

func savedCreateHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req savedCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		saved, err := s.SaveSelection(req.Name)
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func savedRestoreHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, unknown, err := s.RestoreSelection(chi.URLParam(r, "selection_id"))
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		resp := newResultResponse(s, res)
		resp.Unknown = unknown
		writeJSON(w, http.StatusOK, resp)
	}
}

func savedDeleteHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.DeleteSavedSelection(chi.URLParam(r, "selection_id")); err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
