// Package web serves the bridge's administrative HTTP surface: the four
// admin operations as JSON endpoints, health and status, and a
// WebSocket monitor that mirrors the latest published cycle.
package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/shaun-edwards/o3d3xx-ros/bridge"
)

const (
	defaultMonitorInterval = time.Second
	maxConfigBytes         = 1 << 20
)

// Server exposes one bridge node over HTTP.
type Server struct {
	node            *bridge.Node
	logger          golog.Logger
	addr            string
	monitorInterval time.Duration

	hub       *hub
	httpSrv   *http.Server
	lis       net.Listener
	startedAt time.Time

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewServer wraps node for serving on addr. The monitor interval caps
// how often WebSocket clients see a new frame.
func NewServer(node *bridge.Node, addr string, monitorInterval time.Duration, logger golog.Logger) *Server {
	if monitorInterval <= 0 {
		monitorInterval = defaultMonitorInterval
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Server{
		node:            node,
		logger:          logger,
		addr:            addr,
		monitorInterval: monitorInterval,
		hub:             newHub(logger),
		startedAt:       time.Now(),
		cancelCtx:       cancelCtx,
		cancelFunc:      cancelFunc,
	}
}

// Handler builds the route table. Exposed so tests can drive the
// surface without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/version", s.handleVersion)
	mux.HandleFunc("GET /api/v1/config", s.handleDump)
	mux.HandleFunc("PUT /api/v1/config", s.handleConfig)
	mux.HandleFunc("DELETE /api/v1/applications/{index}", s.handleRm)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Start listens on the configured address and serves until Close.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.addr)
	}
	s.lis = lis
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		if err := s.httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("admin server", "error", err)
		}
	}, s.activeBackgroundWorkers.Done)

	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		s.monitorLoop(s.cancelCtx)
	}, s.activeBackgroundWorkers.Done)

	s.logger.Infow("admin surface up", "addr", lis.Addr().String())
	return nil
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Close stops serving and drops all monitor clients.
func (s *Server) Close() error {
	s.cancelFunc()
	var err error
	if s.httpSrv != nil {
		err = multierr.Combine(err, s.httpSrv.Close())
	}
	s.hub.closeAll()
	s.activeBackgroundWorkers.Wait()
	return err
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"version": s.node.Version()})
}

// handleDump and friends always answer 200: like the original service
// interface, the operation outcome travels in the body's status field.
func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	res := s.node.Dump(r.Context())
	s.writeJSON(w, map[string]interface{}{
		"status": res.Status,
		"config": res.Config,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		s.writeJSON(w, map[string]interface{}{
			"status": bridge.StatusFailure,
			"msg":    "failed to read configuration body",
		})
		return
	}
	res := s.node.Config(r.Context(), doc)
	s.writeJSON(w, map[string]interface{}{"status": res.Status, "msg": res.Msg})
}

func (s *Server) handleRm(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		s.writeJSON(w, map[string]interface{}{
			"status": bridge.StatusFailure,
			"msg":    "application index must be an integer",
		})
		return
	}
	res := s.node.Rm(r.Context(), index)
	s.writeJSON(w, map[string]interface{}{"status": res.Status, "msg": res.Msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, err := w.Write([]byte("ok"))
	goutils.UncheckedError(err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.node.Stats()
	status["uptime_seconds"] = int64(time.Since(s.startedAt).Seconds())
	status["frame_id"] = s.node.FrameID()
	status["monitor_clients"] = s.hub.count()
	s.writeJSON(w, status)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugw("failed to write response", "error", err)
	}
}
