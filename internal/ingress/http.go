package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/wikichat/internal/concurrency"
	"github.com/harunnryd/wikichat/internal/config"
	chatErrors "github.com/harunnryd/wikichat/internal/errors"
	"github.com/harunnryd/wikichat/internal/logger"
	"github.com/harunnryd/wikichat/internal/model/contract"
	"github.com/harunnryd/wikichat/internal/orchestrator"
	"github.com/harunnryd/wikichat/internal/sse"
)

const maxRequestBody = 4 << 20

// Runner executes one chat request. *orchestrator.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, transcript []contract.Message, out orchestrator.Emitter) orchestrator.Result
}

// HTTPServer exposes the chat endpoint.
type HTTPServer struct {
	runner      Runner
	server      *http.Server
	shutdownTTL time.Duration

	mu       sync.Mutex
	listener net.Listener
	started  bool
}

func NewHTTPServer(cfg config.ServerConfig, runner Runner) (*HTTPServer, error) {
	readTimeout, err := config.DurationOrDefault(cfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(cfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse server write timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(cfg.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	s := &HTTPServer{runner: runner, shutdownTTL: shutdownTimeout}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s, nil
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start binds the port and serves in the background.
func (s *HTTPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	s.started = true

	concurrency.SafeGo("http-server", func() {
		slog.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}, nil)
	return nil
}

// Addr is the bound address once started.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight streams for up to the configured shutdown timeout.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	slog.Info("Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTTL)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.started = false
	slog.Info("HTTP server stopped")
	return nil
}

type chatRequest struct {
	Messages []contract.Message `json:"messages"`
}

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := logger.WithNewTraceID(r.Context())
	log := logger.FromContext(ctx)

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, chatErrors.InvalidInput(fmt.Sprintf("decode request body: %v", err)))
		return
	}
	if err := validateTranscript(req.Messages); err != nil {
		writeError(w, err)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, chatErrors.Internal("streaming unsupported"))
		return
	}

	log.Info("Chat request received", "messages", len(req.Messages), "remote", r.RemoteAddr)
	start := time.Now()

	out := sse.NewWriter(w)
	w.WriteHeader(http.StatusOK)
	res := s.runner.Run(ctx, req.Messages, out)

	log.Info("Chat request finished", "state", res.State, "rounds", res.Rounds, "duration", time.Since(start))
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func validateTranscript(messages []contract.Message) error {
	if len(messages) == 0 {
		return chatErrors.InvalidInput("messages must not be empty")
	}
	for i, m := range messages {
		switch m.Role {
		case contract.RoleUser, contract.RoleAssistant:
		default:
			return chatErrors.InvalidInput(fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role))
		}
	}
	return nil
}

// writeError answers before any stream is opened. Every failure is a 500 carrying {"error": msg}.
func writeError(w http.ResponseWriter, err error) {
	slog.Warn("Rejecting chat request", "error", err, "category", chatErrors.Category(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
