package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/pbaille/labeltree/internal/domain"
	"github.com/pbaille/labeltree/internal/labeltree"
	"github.com/pbaille/labeltree/internal/metrics"
	"github.com/pbaille/labeltree/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles HTTP requests for the label tree API
type Server struct {
	repo     store.Repository
	addr     string
	log      *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	// Label trees and the repository's staged work are single-caller.
	mu sync.Mutex
}

// New creates a new API server. m and g may be nil.
func New(repo store.Repository, addr string, log *slog.Logger, m *metrics.Metrics, g prometheus.Gatherer) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{repo: repo, addr: addr, log: log, metrics: m, gatherer: g}
}

// Handler returns the routed API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Trees
	mux.HandleFunc("POST /trees", s.createRoot)
	mux.HandleFunc("POST /trees/import", s.importTree)
	mux.HandleFunc("GET /trees/{id}", s.getHierarchy)
	mux.HandleFunc("GET /trees/{id}/records", s.getRecords)
	mux.HandleFunc("DELETE /trees/{id}", s.deleteTree)

	// Leaves
	mux.HandleFunc("POST /trees/{id}/leaves", s.createChild)
	mux.HandleFunc("GET /trees/{id}/leaves/{leaf}/children", s.getChildren)

	// Health check
	mux.HandleFunc("GET /health", s.health)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return withCORS(mux)
}

// Run starts the HTTP server
func (s *Server) Run() error {
	s.log.Info("starting server", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) treeOptions() []labeltree.Option {
	return []labeltree.Option{labeltree.WithLogger(s.log), labeltree.WithMetrics(s.metrics)}
}

// loadTree loads the tree rooted at the {id} path value
func (s *Server) loadTree(w http.ResponseWriter, r *http.Request) (*labeltree.LabelTree, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	tree, err := labeltree.Load(r.Context(), s.repo, id, s.treeOptions()...)
	if err != nil {
		s.writeTreeError(w, err)
		return nil, false
	}
	return tree, true
}

// CreateLeafRequest is the request body for creating a root or child leaf
type CreateLeafRequest struct {
	ParentID   int64   `json:"parent_id,omitempty"`
	Name       string  `json:"name"`
	ExternalID *string `json:"external_id,omitempty"`
}

func (s *Server) createRoot(w http.ResponseWriter, r *http.Request) {
	var req CreateLeafRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tree := labeltree.New(s.repo, s.treeOptions()...)
	root, err := tree.CreateRoot(r.Context(), req.Name, req.ExternalID)
	if err != nil {
		s.writeTreeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, root)
}

func (s *Server) createChild(w http.ResponseWriter, r *http.Request) {
	var req CreateLeafRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.ParentID == 0 {
		writeError(w, http.StatusBadRequest, "name and parent_id are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.loadTree(w, r)
	if !ok {
		return
	}
	if _, indexed := tree.Leaf(req.ParentID); !indexed {
		writeError(w, http.StatusNotFound, "parent leaf is not part of this tree")
		return
	}
	leaf, err := tree.CreateChild(r.Context(), req.ParentID, req.Name, req.ExternalID)
	if err != nil {
		s.writeTreeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, leaf)
}

func (s *Server) importTree(w http.ResponseWriter, r *http.Request) {
	var rows []domain.Record
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tree := labeltree.New(s.repo, s.treeOptions()...)
	if err := tree.Import(r.Context(), rows); err != nil {
		s.writeTreeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"root_id": tree.Root().ID,
		"leaves":  tree.Len(),
	})
}

func (s *Server) getHierarchy(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.loadTree(w, r)
	if !ok {
		return
	}
	h, err := tree.Hierarchy(r.Context())
	if err != nil {
		s.writeTreeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.loadTree(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": tree.Records(),
	})
}

func (s *Server) getChildren(w http.ResponseWriter, r *http.Request) {
	leafID, ok := pathID(w, r, "leaf")
	if !ok {
		return
	}
	fields := r.URL.Query()["field"]

	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.loadTree(w, r)
	if !ok {
		return
	}

	// One field gives a flat list, several give one tuple per child.
	if len(fields) <= 1 {
		field := ""
		if len(fields) == 1 {
			field = fields[0]
		}
		values, err := tree.ChildValues(r.Context(), leafID, field)
		if err != nil {
			s.writeTreeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"children": values})
		return
	}

	tuples, err := tree.ChildTuples(r.Context(), leafID, fields...)
	if err != nil {
		s.writeTreeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"children": tuples})
}

func (s *Server) deleteTree(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.loadTree(w, r)
	if !ok {
		return
	}
	if !tree.Root().IsRoot {
		writeError(w, http.StatusBadRequest, "leaf is not a tree root")
		return
	}
	if err := tree.DeleteTree(r.Context()); err != nil {
		s.writeTreeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (s *Server) writeTreeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, labeltree.ErrNotIndexed):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, labeltree.ErrRootCount),
		errors.Is(err, labeltree.ErrMissingName),
		errors.Is(err, labeltree.ErrDuplicateRow),
		errors.Is(err, labeltree.ErrUnknownField):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
