// Package api serves the task completion query endpoint.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskwatch/internal/metrics"
	"taskwatch/internal/tasks"
)

// TaskReader is the store surface the query path needs.
type TaskReader interface {
	Completed(ctx context.Context, address, task string, from, to time.Time) (bool, error)
	Ping(ctx context.Context) error
}

type Server struct {
	listen string
	logger *slog.Logger
	store  TaskReader
}

func NewServer(listen string, logger *slog.Logger, store TaskReader) *Server {
	return &Server{listen: listen, logger: logger, store: store}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleQuery)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxTimeout)
	}()
	s.logger.Info("query server listening", "addr", s.listen)
	return server.ListenAndServe()
}

// handleQuery answers "has this address completed this task on this UTC
// day". Addresses match case-insensitively; the date filter covers the whole
// day [00:00:00Z, next day 00:00:00Z).
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	address := strings.TrimSpace(q.Get("address"))
	date := strings.TrimSpace(q.Get("date"))
	task := strings.TrimSpace(q.Get("task"))
	if address == "" || date == "" || task == "" {
		metrics.QueriesServed.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "address, date and task are required")
		return
	}
	if !common.IsHexAddress(address) {
		metrics.QueriesServed.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	if task != tasks.TaskMint && task != tasks.TaskBridge {
		metrics.QueriesServed.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "task must be mint or bridge")
		return
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		metrics.QueriesServed.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	from := day.UTC()
	to := from.Add(24 * time.Hour)
	done, err := s.store.Completed(r.Context(), strings.ToLower(address), task, from, to)
	if err != nil {
		metrics.QueriesServed.WithLabelValues("error").Inc()
		s.logger.Error("task lookup failed", "address", address, "task", task, "error", err)
		writeResult(w, http.StatusInternalServerError, false)
		return
	}
	metrics.QueriesServed.WithLabelValues("ok").Inc()
	writeResult(w, http.StatusOK, done)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type result struct {
	Code int  `json:"code"`
	Data bool `json:"data"`
}

func writeResult(w http.ResponseWriter, status int, data bool) {
	writeJSON(w, status, result{Code: 0, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
