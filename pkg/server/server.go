// Package server exposes the analysis engine over HTTP and WebSocket as a
// JSON API. Each session owns exactly one Index; re-loading replaces it
// wholesale, and sessions never share state.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"loglens/pkg/archive"
	"loglens/pkg/export"
	"loglens/pkg/index"
	"loglens/pkg/loader"
	"loglens/pkg/query"
	"loglens/pkg/record"
	"loglens/pkg/stats"
)

// Options configures a Server.
type Options struct {
	LogsDir     string
	MaxLineSize int
	StatsOpts   stats.Options
	Archive     *archive.Store // nil disables the archive endpoints
}

// Server represents the HTTP server
type Server struct {
	loader    *loader.Loader
	logsDir   string
	statsOpts stats.Options
	archive   *archive.Store

	mu       sync.RWMutex
	sessions map[string]*session
}

// session is one loaded file and its index, exclusively owned until the
// next load replaces it.
type session struct {
	id     string
	source string
	index  *index.Index
	result *loader.Result
}

// NewServer creates a new HTTP server
func NewServer(opts Options) *Server {
	return &Server{
		loader:    loader.New(opts.MaxLineSize),
		logsDir:   opts.LogsDir,
		statsOpts: opts.StatsOpts,
		archive:   opts.Archive,
		sessions:  make(map[string]*session),
	}
}

// Handler returns the routing handler, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/load", s.handleLoad)
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/export", s.handleExport)
	mux.HandleFunc("/api/archive", s.handleArchiveList)
	mux.HandleFunc("/api/archive/", s.handleArchiveItem)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return mux
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("Starting server on http://localhost%s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	sessionCount := len(s.sessions)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"sessions":        sessionCount,
		"archive_enabled": s.archive != nil,
	})
}

// handleFiles handles GET /api/files
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dir := r.URL.Query().Get("dir")
	if dir == "" {
		dir = s.logsDir
	}

	files, err := loader.ListFiles(dir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []loader.FileInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dir":   dir,
		"files": files,
	})
}

// handleLoad handles POST /api/load
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Path    string `json:"path"`
		Session string `json:"session"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	sess, err := s.load(req.Session, req.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":    sess.id,
		"source":     sess.source,
		"total":      sess.index.Len(),
		"skip_count": sess.result.SkipCount(),
		"skipped":    sess.result.Skipped,
		"levels":     sess.index.Levels(),
		"namespaces": sess.index.Namespaces(),
	})
}

// handleQuery handles POST /api/query
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Session string        `json:"session"`
		Query   string        `json:"query"`
		Filter  *query.Filter `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, ok := s.session(req.Session)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	f, err := resolveFilter(req.Query, req.Filter)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid query: %v", err), http.StatusBadRequest)
		return
	}

	start := time.Now()
	records, err := query.Apply(sess.index, f)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid query: %v", err), http.StatusBadRequest)
		return
	}
	took := time.Since(start)

	// Ensure records is never nil for JSON encoding
	if records == nil {
		records = []record.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"matched": len(records),
		"total":   sess.index.Len(),
		"took_ms": took.Milliseconds(),
	})
}

// handleStats handles POST /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Session string `json:"session"`
		Query   string `json:"query"`
		TopN    int    `json:"top_n"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, ok := s.session(req.Session)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	records, err := s.filtered(sess, req.Query)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid query: %v", err), http.StatusBadRequest)
		return
	}

	opts := s.statsOpts
	if req.TopN > 0 {
		opts.TopN = req.TopN
	}

	writeJSON(w, http.StatusOK, stats.Compute(records, opts))
}

// handleExport handles POST /api/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Session string `json:"session"`
		Query   string `json:"query"`
		Format  string `json:"format"`
		Archive bool   `json:"archive"`
		Name    string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Format == "" {
		req.Format = "json"
	}
	if req.Format != "json" && req.Format != "csv" {
		http.Error(w, "format must be json or csv", http.StatusBadRequest)
		return
	}

	sess, ok := s.session(req.Session)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	records, err := s.filtered(sess, req.Query)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid query: %v", err), http.StatusBadRequest)
		return
	}

	if req.Archive {
		if s.archive == nil {
			http.Error(w, "archive is disabled", http.StatusBadRequest)
			return
		}
		snap := &archive.Snapshot{
			Name:    req.Name,
			Source:  sess.source,
			Query:   req.Query,
			Records: records,
			Stats:   stats.Compute(records, s.statsOpts),
		}
		if err := s.archive.Save(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Snapshot-Id", snap.ID)
	}

	name := fmt.Sprintf("loglens_export_%s.%s", time.Now().Format("20060102_150405"), req.Format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	if req.Format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		if err := export.CSV(w, records); err != nil {
			log.Printf("CSV export error: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := export.JSON(w, records); err != nil {
		log.Printf("JSON export error: %v", err)
	}
}

// handleArchiveList handles GET /api/archive
func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		http.Error(w, "archive is disabled", http.StatusNotFound)
		return
	}

	summaries, err := s.archive.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []archive.Summary{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": summaries,
	})
}

// handleArchiveItem handles GET and DELETE on /api/archive/{id}
func (s *Server) handleArchiveItem(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive is disabled", http.StatusNotFound)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/archive/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "bad snapshot id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		snap, err := s.archive.Get(id)
		if errors.Is(err, archive.ErrNotFound) {
			http.Error(w, "snapshot not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, snap)

	case http.MethodDelete:
		err := s.archive.Delete(id)
		if errors.Is(err, archive.ErrNotFound) {
			http.Error(w, "snapshot not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// load creates or replaces a session from a log file. The previous index,
// if any, is discarded as a whole.
func (s *Server) load(sessionID, path string) (*session, error) {
	res, err := s.loader.Load(path)
	if err != nil {
		return nil, err
	}

	if sessionID == "" {
		sessionID = newSessionID()
	}
	sess := &session{
		id:     sessionID,
		source: path,
		index:  index.Build(res.Records),
		result: res,
	}

	s.mu.Lock()
	s.sessions[sessionID] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Server) session(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// filtered parses an optional query string and applies it to the session.
func (s *Server) filtered(sess *session, queryStr string) ([]record.Record, error) {
	if queryStr == "" {
		return sess.index.All(), nil
	}
	f, err := query.Parse(queryStr)
	if err != nil {
		return nil, err
	}
	return query.Apply(sess.index, f)
}

// resolveFilter accepts either a query string or a structured filter; the
// string wins when both are present.
func resolveFilter(queryStr string, f *query.Filter) (query.Filter, error) {
	if queryStr != "" {
		return query.Parse(queryStr)
	}
	if f != nil {
		if err := f.Validate(); err != nil {
			return query.Filter{}, err
		}
		return *f, nil
	}
	return query.Filter{}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Response encoding error: %v", err)
	}
}

// newSessionID creates a random session ID.
func newSessionID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
