// Package httpapi exposes the coordinator's HTTP surface: the confirming
// and fast mic toggle endpoints, the extension's state-report and long-poll
// endpoints, volume control, and a restart hook.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pozitronik/micdrop-go/internal/audio"
	"github.com/pozitronik/micdrop-go/internal/bus"
	"github.com/pozitronik/micdrop-go/internal/confirm"
	"github.com/pozitronik/micdrop-go/internal/logring"
	"github.com/pozitronik/micdrop-go/internal/state"
)

// Settings is the slice of persisted configuration the HTTP surface needs
// to read on every request; it is a snapshot, never mutated in place.
type Settings struct {
	VolumeStep float64
	MuteMode   string // "hardware" or "scalar_zero"
}

// Deps are the components the HTTP surface wires together. The Supervisor
// owns all of them; Server only holds references.
type Deps struct {
	Bus     *bus.Bus
	Confirm *confirm.Registry
	State   *state.State
	Device  audio.Device
	Logs    *logring.Ring

	Settings func() Settings

	// OnToggleAccepted is invoked once per accepted toggle (confirming or
	// fast), used by the caller to bump the persisted request counter.
	OnToggleAccepted func()

	// OnRestartRequested is invoked after the /restart response has been
	// written; the caller schedules the actual restart.
	OnRestartRequested func()
}

// Server manages the coordinator's HTTP listener and route table.
type Server struct {
	deps Deps

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	port       int
	running    bool
}

// New creates a Server bound to deps. It does not listen until Start.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Start binds port and begins serving. It does not block.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Handler:      withCORS(withRequestLog(s.deps.Logs, mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // /bridge/poll suspends indefinitely
		IdleTimeout:  60 * time.Second,
	}

	s.running = true

	go func() {
		if err := s.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			log.Printf("httpapi: server error: %v", err)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	log.Printf("httpapi: listening on http://127.0.0.1:%d", s.port)
	return nil
}

// Stop performs the graceful shutdown sequence: cancel pending
// confirmations, cancel bus waiters, drain the listener with a short grace,
// release the port.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.deps.Confirm.CancelAll()
	s.deps.Bus.CancelAll()

	grace, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	err := s.httpServer.Shutdown(grace)
	s.running = false
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return nil
}

// Port returns the bound port, or 0 if not running.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.port
}

// IsRunning reports whether the server currently has a listener open.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
