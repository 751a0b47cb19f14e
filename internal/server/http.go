package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/handset/host/internal/dispatch"
	"github.com/handset/host/internal/envelope"
	apperrors "github.com/handset/host/internal/errors"
	"github.com/handset/host/internal/logging"
)

// Defaults for HTTPConfig.
const (
	DefaultMaxConns    = 64
	DefaultMaxInFlight = 16
)

// HTTPConfig holds configuration for the reliable transport.
type HTTPConfig struct {
	// Addr is the TCP address to listen on.
	Addr string

	// MaxConns caps simultaneously open connections.
	// Default: 64.
	MaxConns int

	// MaxInFlight caps concurrently processed commands. Requests beyond
	// it get 503 server.busy immediately.
	// Default: 16.
	MaxInFlight int
}

// HTTPServer is the reliable transport: one POST /command endpoint that
// answers every envelope with exactly one JSON result.
type HTTPServer struct {
	config   HTTPConfig
	pipeline *Pipeline
	inFlight chan struct{}

	mu         sync.RWMutex
	status     http.Handler
	httpServer *http.Server
	addr       string
}

// NewHTTPServer creates the reliable transport.
func NewHTTPServer(config HTTPConfig, pipeline *Pipeline) *HTTPServer {
	if config.MaxConns <= 0 {
		config.MaxConns = DefaultMaxConns
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = DefaultMaxInFlight
	}
	return &HTTPServer{
		config:   config,
		pipeline: pipeline,
		inFlight: make(chan struct{}, config.MaxInFlight),
		addr:     config.Addr,
	}
}

// SetStatusHandler sets the handler for the local-only /status endpoint.
// Must be called before StartAsync.
func (s *HTTPServer) SetStatusHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = h
}

// Handler returns the routed handler with panic recovery applied.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/command", s.handleCommand)

	// Unauthenticated liveness probe used by the companion app.
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": dispatch.StatusPong})
	})

	// Health check endpoint for monitoring
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()
	if status != nil {
		mux.Handle("/status", status)
	}

	return recoverMiddleware(mux)
}

// StartAsync starts serving in a goroutine. The channel receives nil once
// the listener is bound, or the listen error.
func (s *HTTPServer) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	// Bind first so a port conflict is reported to the caller.
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
		close(errCh)
		return errCh
	}
	ln = netutil.LimitListener(ln, s.config.MaxConns)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		logging.Infof("server: http listening on %s", ln.Addr())
		errCh <- nil
		close(errCh)

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("server: http error: %v", err)
		}
	}()

	return errCh
}

// Addr returns the bound address once started, else the configured one.
func (s *HTTPServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// InFlight returns the number of commands being processed.
func (s *HTTPServer) InFlight() int {
	return len(s.inFlight)
}

// Shutdown gracefully stops the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *HTTPServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, apperrors.InvalidRequest("method not allowed"))
		return
	}

	select {
	case s.inFlight <- struct{}{}:
		defer func() { <-s.inFlight }()
	default:
		err := apperrors.Busy()
		writeError(w, apperrors.HTTPStatus(err.Code), err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, envelope.MaxWireSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, apperrors.InvalidRequest("request body too large"))
			return
		}
		writeError(w, http.StatusBadRequest, apperrors.InvalidRequest("failed to read request body"))
		return
	}

	res, err := s.pipeline.Process(r.Context(), TransportHTTP, r.RemoteAddr, body)
	if err != nil {
		writeError(w, apperrors.HTTPStatus(apperrors.GetCode(err)), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": res.Status})
}

// errorResponse is the body of every failed command.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	code, msg := apperrors.ToCodeAndMessage(err)
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warnf("server: failed to write response: %v", err)
	}
}

// recoverMiddleware turns a handler panic into a 500 so one bad request
// cannot take down the server goroutine.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.Errorf("server: recovered from panic in %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				writeError(w, http.StatusInternalServerError, apperrors.Internal("internal error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
