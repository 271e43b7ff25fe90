// Package server is the HTTP face of the demo: it relays commands typed into the browser console to the interpreter
// and exposes the workspace, the command history and the interpreter's log.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/xhelldemo/xhelldemo/internal/files"
	"github.com/xhelldemo/xhelldemo/internal/metrics"
	"github.com/xhelldemo/xhelldemo/internal/scenarios"
	"github.com/xhelldemo/xhelldemo/relay"
	"go.uber.org/zap"
)

const (
	DefaultListenAddr = "localhost:8501"
	DefaultReadLimit  = 2000

	shutdownTimeout = 5 * time.Second
)

//go:embed index.html
var indexHTML []byte

type Server struct {
	log   *zap.SugaredLogger
	relay *relay.Relay
	ws    *files.Workspace

	listenAddr string
	readLimit  int64
	scenarios  []scenarios.Category

	httpServer *http.Server
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l.Named("server").Sugar()
	}
}

// WithReadLimit bounds how many bytes of a workspace file are returned by GET /files/*name.
func WithReadLimit(n int64) Option {
	return func(s *Server) {
		s.readLimit = n
	}
}

func WithScenarios(c []scenarios.Category) Option {
	return func(s *Server) {
		s.scenarios = c
	}
}

func New(r *relay.Relay, ws *files.Workspace, opts ...Option) *Server {
	s := &Server{
		log:        zap.NewNop().Sugar(),
		relay:      r,
		ws:         ws,
		listenAddr: DefaultListenAddr,
		readLimit:  DefaultReadLimit,
	}
	for _, o := range opts {
		o(s)
	}
	if s.scenarios == nil {
		c, err := scenarios.Builtin()
		if err != nil {
			s.log.Warnw("unable to load built-in scenarios", "Error", err)
		}
		s.scenarios = c
	}
	s.httpServer = &http.Server{Handler: s.Handler()}
	return s
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/", s.index)
	router.GET("/heartbeat", s.heartbeat)
	router.POST("/execute", s.execute)
	router.POST("/execute/batch", s.executeBatch)
	router.GET("/session", s.session)
	router.GET("/history", s.history)
	router.DELETE("/history", s.clearHistory)
	router.GET("/files", s.listFiles)
	router.GET("/files/*name", s.readFile)
	router.GET("/logs", s.logs)
	router.DELETE("/logs", s.clearLogs)
	router.GET("/scenarios", s.listScenarios)
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())
	return router
}

// Run listens on the configured address and serves until Stop is called, in which case it returns nil.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	s.log.Infow("serving", "Addr", l.Addr().String(), "Workspace", s.ws.Root())

	err = s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down, waiting for in-flight commands for a bounded time.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.log.Debugf("graceful shutdown failed, closing: %s", err)
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(b)
	if err != nil {
		s.log.Debugf("error writing response: %s", err)
	}
}

func (s *Server) index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Add("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, HeartbeatResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req ExecuteRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		http.Error(w, "request contained no command", http.StatusBadRequest)
		return
	}

	res := s.relay.Execute(r.Context(), req.Command)
	s.writeJSON(w, http.StatusOK, newExecuteResponse(req.Command, res))
}

func (s *Server) executeBatch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req BatchRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Commands) == 0 {
		http.Error(w, "request contained no commands", http.StatusBadRequest)
		return
	}
	for _, c := range req.Commands {
		if strings.TrimSpace(c) == "" {
			http.Error(w, "request contained an empty command", http.StatusBadRequest)
			return
		}
	}

	results := s.relay.ExecuteBatch(r.Context(), req.Commands)
	resp := BatchResponse{Results: make([]ExecuteResponse, len(results))}
	for i, res := range results {
		resp.Results[i] = newExecuteResponse(req.Commands[i], res)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	entries, err := s.relay.History()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	err := s.relay.ClearHistory()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	names, err := s.ws.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, FilesResponse{Files: names})
}

func (s *Server) readFile(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name := strings.TrimPrefix(params.ByName("name"), "/")

	b, err := s.ws.ReadFile(name, s.readLimit)
	switch {
	case errors.Is(err, files.ErrPathTraversal):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case errors.Is(err, files.ErrNotFound):
		http.Error(w, "no such file or directory", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, FileResponse{Name: name, Content: string(b)})
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	content, err := s.relay.Logs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, LogsResponse{Content: content})
}

func (s *Server) clearLogs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	err := s.relay.ClearLogs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listScenarios(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, s.scenarios)
}
