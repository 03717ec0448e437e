package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/alexanderjulianmartinez/db-transfer/internal/config"
	"github.com/alexanderjulianmartinez/db-transfer/internal/logging"
	"github.com/alexanderjulianmartinez/db-transfer/internal/progress"
	"github.com/alexanderjulianmartinez/db-transfer/internal/source"
	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

// Backend is the transfer surface the API exposes; *transfer.Service
// implements it.
type Backend interface {
	Config() *config.Config
	ListDatabases(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, database string) ([]string, error)
	TableInfo(ctx context.Context, database, table string) (*source.TableInfo, error)
	TransferSingleTable(ctx context.Context, sourceDB, targetDB, table string) types.TransferResult
	TransferAllTables(ctx context.Context) types.TransferResult
}

// Server serves the JSON API and the progress stream. Transfers started over
// HTTP run in the background, one at a time, gated by the tracker. The
// tracker and the hub must also be wired as observers of the backend.
type Server struct {
	backend Backend
	tracker *progress.Tracker
	hub     *Hub
	logger  *zap.Logger
	router  *mux.Router

	// runCtx outlives requests; background transfers use it.
	runCtx context.Context
	runs   sync.WaitGroup
}

func New(runCtx context.Context, backend Backend, tracker *progress.Tracker, hub *Hub, logger *zap.Logger) *Server {
	s := &Server{
		backend: backend,
		tracker: tracker,
		hub:     hub,
		logger:  logging.OrNop(logger),
		router:  mux.NewRouter(),
		runCtx:  runCtx,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/databases", s.handleDatabases).Methods(http.MethodGet)
	api.HandleFunc("/databases/{db}/tables", s.handleTables).Methods(http.MethodGet)
	api.HandleFunc("/databases/{db}/tables/{table}", s.handleTableInfo).Methods(http.MethodGet)
	api.HandleFunc("/transfer", s.handleTransfer).Methods(http.MethodPost)
	api.HandleFunc("/transfer/all", s.handleTransferAll).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/progress", s.handleProgress).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler { return s.router }

// Wait blocks until every background transfer has returned.
func (s *Server) Wait() { s.runs.Wait() }

// ListenAndServe serves on addr until ctx is done, then shuts down and waits
// for a running transfer to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.Close()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

type tableSummary struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
}

type transferRequest struct {
	SourceDatabase string `json:"source_database"`
	TargetDatabase string `json:"target_database"`
	TableName      string `json:"table_name"`
}

type statusResponse struct {
	Running  bool              `json:"running"`
	Progress progress.Snapshot `json:"progress"`
}

type progressHello struct {
	Type     string            `json:"type"`
	Progress progress.Snapshot `json:"progress"`
}

func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	dbs, err := s.backend.ListDatabases(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": dbs})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	db := mux.Vars(r)["db"]
	tables, err := s.backend.ListTables(r.Context(), db)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	out := make([]tableSummary, 0, len(tables))
	for _, table := range tables {
		summary := tableSummary{Name: table}
		info, err := s.backend.TableInfo(r.Context(), db, table)
		if err != nil {
			s.logger.Warn("table info", zap.String("database", db), zap.String("table", table), zap.Error(err))
		} else {
			summary.RowCount = info.RowCount
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": out})
}

func (s *Server) handleTableInfo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	info, err := s.backend.TableInfo(r.Context(), vars["db"], vars["table"])
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.SourceDatabase = strings.TrimSpace(req.SourceDatabase)
	req.TargetDatabase = strings.TrimSpace(req.TargetDatabase)
	req.TableName = strings.TrimSpace(req.TableName)

	if req.SourceDatabase == "" || req.TargetDatabase == "" || req.TableName == "" {
		writeError(w, http.StatusBadRequest, "Please select source database, target database, and table.")
		return
	}
	if req.SourceDatabase == req.TargetDatabase {
		writeError(w, http.StatusBadRequest, "Source and target databases cannot be the same.")
		return
	}

	run, err := s.tracker.Begin(progress.KindSingle, 1)
	if err != nil {
		writeError(w, http.StatusConflict, "Transfer is already in progress!")
		return
	}

	s.start(run, func(ctx context.Context) types.TransferResult {
		return s.backend.TransferSingleTable(ctx, req.SourceDatabase, req.TargetDatabase, req.TableName)
	})

	msg := fmt.Sprintf("Data transfer started: %s.%s -> %s.%s",
		req.SourceDatabase, req.TableName, req.TargetDatabase, req.TableName)
	s.logger.Info("single table transfer initiated",
		zap.String("source", req.SourceDatabase+"."+req.TableName),
		zap.String("target", req.TargetDatabase+"."+req.TableName))
	writeJSON(w, http.StatusAccepted, map[string]string{"message": msg})
}

func (s *Server) handleTransferAll(w http.ResponseWriter, _ *http.Request) {
	tables := s.backend.Config().Tables
	run, err := s.tracker.Begin(progress.KindAll, len(tables))
	if err != nil {
		writeError(w, http.StatusConflict, "Transfer is already in progress!")
		return
	}
	s.start(run, s.backend.TransferAllTables)
	s.logger.Info("bulk transfer initiated", zap.Int("tables", len(tables)))
	writeJSON(w, http.StatusAccepted, map[string]string{"message": fmt.Sprintf("Data transfer started for %d tables", len(tables))})
}

// start runs fn in the background as run, which the caller admitted with
// tracker.Begin. The run is closed even when the backend never reports
// RunFinished; once it has, the tracker ignores the id.
func (s *Server) start(run progress.RunID, fn func(ctx context.Context) types.TransferResult) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("background transfer panicked", zap.Any("panic", p))
				s.tracker.Fail(run, fmt.Errorf("%v", p))
			}
		}()
		s.tracker.Finish(run, fn(s.runCtx))
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{Running: snap.Running(), Progress: snap})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Config().Redacted())
}

const (
	defaultLogLines = 50
	maxLogLines     = 1000
)

type logsResponse struct {
	File  string   `json:"file"`
	Lines []string `json:"lines"`
}

// handleLogs returns the last ?lines= lines of the configured log file.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxLogLines {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("lines must be between 1 and %d", maxLogLines))
			return
		}
		n = v
	}

	file := s.backend.Config().Log.File
	lines, err := logging.Tail(file, n)
	if err != nil {
		s.logger.Error("read log file", zap.String("file", file), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Error reading logs: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, logsResponse{File: file, Lines: lines})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.hub.Serve(w, r, progressHello{Type: "status", Progress: s.tracker.Snapshot()})
}

func statusFor(err error) int {
	switch types.KindOf(err) {
	case types.KindConnection:
		return http.StatusBadGateway
	case types.KindConfig:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
