// Package status serves the operator HTTP surface: status, positions and
// open orders, strategy enablement, the kill switch and checkpoints. Every
// request becomes a control command answered by the event loop.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"hft/internal/core"
	"hft/internal/og"
	"hft/internal/state"
	"hft/pkg/exception"
	"hft/pkg/uds"
)

const defaultRequestTimeout = 2 * time.Second

// Controller is the engine's control entry point.
type Controller interface {
	Control(ctx context.Context, cmd core.Command) (core.Reply, error)
}

// CheckpointFunc persists a snapshot taken on request.
type CheckpointFunc func(snap state.Snapshot) error

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PositionsResponse is the body of GET /positions.
type PositionsResponse struct {
	Positions []state.Position `json:"positions"`
	PnL       core.PnL         `json:"pnl"`
}

// Server routes HTTP requests to a Controller.
type Server struct {
	ctl        Controller
	checkpoint CheckpointFunc
	log        zerolog.Logger
	timeout    time.Duration
	started    time.Time
	router     *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithCheckpoint persists snapshots taken by POST /checkpoint.
func WithCheckpoint(fn CheckpointFunc) Option {
	return func(s *Server) { s.checkpoint = fn }
}

// WithTimeout bounds how long a request waits for the event loop.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewServer(ctl Controller, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		ctl:     ctl,
		log:     log,
		timeout: defaultRequestTimeout,
		started: time.Now(),
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/cancel-all", s.handleCancelAll).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{id:[0-9]+}/{action:enable|disable}", s.handleStrategy).Methods(http.MethodPost)
	api.HandleFunc("/killswitch", s.handleKillSwitch).Methods(http.MethodPost)
	api.HandleFunc("/checkpoint", s.handleCheckpoint).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, "method not allowed", r.Method+" "+r.URL.Path)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down. An addr
// of the form "unix:/path" listens on a Unix domain socket.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
		errc <- srv.Serve(ln)
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

func listen(addr string) (net.Listener, error) {
	if path, ok := uds.Path(addr); ok {
		return uds.Listen(path)
	}
	return net.Listen("tcp", addr)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, cmd core.Command) (core.Reply, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	reply, err := s.ctl.Control(ctx, cmd)
	if err == nil {
		err = reply.Err
	}
	if err != nil {
		status := statusOf(err)
		s.log.Warn().Err(err).Str("command", cmd.Kind.String()).Int("status", status).Msg("control request failed")
		respondError(w, status, http.StatusText(status), err.Error())
		return reply, false
	}
	return reply, true
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) (*core.Status, bool) {
	reply, ok := s.control(w, r, core.Command{Kind: core.CommandStatus})
	if !ok {
		return nil, false
	}
	if reply.Status == nil {
		respondError(w, http.StatusInternalServerError, "empty status", "")
		return nil, false
	}
	return reply.Status, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if st, ok := s.status(w, r); ok {
		respondJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if st, ok := s.status(w, r); ok {
		respondJSON(w, http.StatusOK, PositionsResponse{Positions: st.Positions, PnL: st.PnL})
	}
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	st, ok := s.status(w, r)
	if !ok {
		return
	}
	orders := st.OpenOrders
	if orders == nil {
		orders = []og.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	if reply, ok := s.control(w, r, core.Command{Kind: core.CommandCancelAll, Reason: "operator"}); ok {
		respondJSON(w, http.StatusOK, map[string]int{"canceled": reply.Canceled})
	}
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 32)
	if err != nil || id == 0 {
		respondError(w, http.StatusBadRequest, "invalid strategy id", vars["id"])
		return
	}
	cmd := core.Command{Kind: core.CommandEnableStrategy, StrategyID: uint32(id)}
	if vars["action"] == "disable" {
		cmd.Kind = core.CommandDisableStrategy
		cmd.Reason = r.URL.Query().Get("reason")
	}
	if _, ok := s.control(w, r, cmd); ok {
		respondJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": cmd.Kind == core.CommandEnableStrategy})
	}
}

type killSwitchRequest struct {
	On *bool `json:"on"`
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.On == nil {
		respondError(w, http.StatusBadRequest, "invalid request", `body must be {"on": true|false}`)
		return
	}
	if _, ok := s.control(w, r, core.Command{Kind: core.CommandKillSwitch, On: *req.On, Reason: "operator"}); ok {
		respondJSON(w, http.StatusOK, map[string]bool{"killSwitch": *req.On})
	}
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	reply, ok := s.control(w, r, core.Command{Kind: core.CommandCheckpoint})
	if !ok {
		return
	}
	if reply.Snapshot == nil {
		respondError(w, http.StatusInternalServerError, "empty checkpoint", "")
		return
	}
	if s.checkpoint != nil {
		if err := s.checkpoint(*reply.Snapshot); err != nil {
			s.log.Error().Err(err).Uint64("seq", reply.Snapshot.LastSeq).Msg("checkpoint save failed")
			respondError(w, statusOf(err), "checkpoint failed", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"lastSeq": reply.Snapshot.LastSeq, "positions": len(reply.Snapshot.Positions)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "uptime": time.Since(s.started).Round(time.Second).String()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, exception.ErrInvalidArgument):
		return http.StatusNotFound
	case errors.Is(err, exception.ErrInternal):
		return http.StatusServiceUnavailable
	}
	switch exception.KindOf(err) {
	case exception.KindConfig, exception.KindValidation:
		return http.StatusBadRequest
	case exception.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, title, message string) {
	respondJSON(w, status, ErrorResponse{Error: title, Message: message})
}
