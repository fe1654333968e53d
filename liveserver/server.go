// Package liveserver runs a network request handler on a background
// goroutine for tests that drive real clients against real sockets. The
// server signals readiness exactly once, whether binding succeeded or
// failed, and shuts down with join semantics: when Terminate returns, no
// handler is still running.
package liveserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/isotx/isotx/registry"
	"github.com/isotx/isotx/testfw"
)

// State is the lifecycle position of a Server.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateReady
	StateFailed
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Config describes a live server before it starts.
type Config struct {
	// Host to bind; empty means loopback.
	Host string

	// Port to bind; zero means OS-assigned, resolved once bound.
	Port int

	// Handler serves every request that no static route claims.
	Handler http.Handler

	// StaticRoutes maps URL path prefixes to filesystem roots, resolved
	// before Handler sees the request.
	StaticRoutes map[string]string

	// SharedAliases names already-open connections on Registry that the
	// server's handlers may reuse instead of opening their own. The
	// thread-shareable flag is set before the server starts and reverted by
	// Terminate, always in pairs.
	SharedAliases []string
	Registry      registry.ShareableRegistry

	Logger testfw.Logger
}

// workerContext carries everything the background goroutine needs, so the
// happens-before edges are the channels rather than shared mutable fields.
type workerContext struct {
	addr    string
	handler http.Handler
	ready   chan<- struct{}
	done    chan<- struct{}
}

// Server hosts one background listener.
type Server struct {
	cfg   Config
	state atomic.Int32

	ready chan struct{}
	done  chan struct{}

	lock      sync.Mutex
	bindErr   error
	port      int
	listener  net.Listener
	http      *http.Server
	started   bool
	shared    []string
	terminate sync.Once
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = testfw.NullLogger()
	}
	return &Server{
		cfg:   cfg,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// State reports the server's current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

func (s *Server) host() string {
	if s.cfg.Host == "" {
		return "127.0.0.1"
	}
	return s.cfg.Host
}

// StartAndWait spawns the background goroutine and blocks until it has
// either bound the listener or failed trying. A bind failure is returned
// here, on the controller side; the background goroutine never crashes on
// its own. No timeout is applied: binding either succeeds or fails
// immediately.
func (s *Server) StartAndWait() error {
	s.lock.Lock()
	if s.started {
		s.lock.Unlock()
		return fmt.Errorf("live server already started")
	}
	s.started = true

	// Flag shared connections before the server can serve anything.
	for _, alias := range s.cfg.SharedAliases {
		if err := s.cfg.Registry.SetShareable(alias, true); err != nil {
			s.revertSharedLocked()
			s.lock.Unlock()
			close(s.ready)
			close(s.done)
			s.state.Store(int32(StateFailed))
			return fmt.Errorf("marking %q thread-shareable: %w", alias, err)
		}
		s.shared = append(s.shared, alias)
	}

	handler := s.cfg.Handler
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	if len(s.cfg.StaticRoutes) > 0 {
		handler = StaticResolver(s.cfg.StaticRoutes, handler)
	}
	ctx := workerContext{
		addr:    fmt.Sprintf("%s:%d", s.host(), s.cfg.Port),
		handler: handler,
		ready:   s.ready,
		done:    s.done,
	}
	s.lock.Unlock()

	s.state.Store(int32(StateRunning))
	go s.run(ctx)

	<-s.ready

	s.lock.Lock()
	err := s.bindErr
	if err != nil {
		s.revertSharedLocked()
	}
	s.lock.Unlock()
	return err
}

func (s *Server) run(ctx workerContext) {
	defer close(ctx.done)

	ln, err := net.Listen("tcp", ctx.addr)
	if err != nil {
		s.lock.Lock()
		s.bindErr = fmt.Errorf("live server bind on %s: %w", ctx.addr, err)
		s.lock.Unlock()
		s.state.Store(int32(StateFailed))
		// The controller must always be able to proceed past its wait,
		// whether to success or to inspecting the error.
		close(ctx.ready)
		return
	}

	srv := &http.Server{Handler: ctx.handler}
	s.lock.Lock()
	s.listener = ln
	s.http = srv
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.lock.Unlock()

	s.state.Store(int32(StateReady))
	s.cfg.Logger.Printf("live server listening on %s", ln.Addr())
	close(ctx.ready)

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		s.cfg.Logger.Printf("live server exited: %s", err)
	}
}

// Port returns the resolved listening port. Zero until READY.
func (s *Server) Port() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.port
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s:%d", s.host(), s.Port())
}

// Err returns the captured startup error, if any.
func (s *Server) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.bindErr
}

// Terminate stops accepting new connections, waits for in-flight handlers
// to finish, joins the background goroutine, and reverts the shared
// connection flags. It is idempotent and safe to call on a server that
// never reached READY, or was never started at all.
func (s *Server) Terminate() {
	s.terminate.Do(func() {
		s.state.Store(int32(StateStopping))

		s.lock.Lock()
		srv := s.http
		started := s.started
		s.lock.Unlock()

		if srv != nil {
			if err := srv.Shutdown(context.Background()); err != nil {
				s.cfg.Logger.Printf("live server shutdown: %s", err)
			}
		}
		if started {
			<-s.done
		}

		s.lock.Lock()
		s.revertSharedLocked()
		s.lock.Unlock()
		s.state.Store(int32(StateStopped))
	})
}

// revertSharedLocked undoes every thread-shareable flag this server set.
// Callers hold s.lock.
func (s *Server) revertSharedLocked() {
	for _, alias := range s.shared {
		if err := s.cfg.Registry.SetShareable(alias, false); err != nil {
			s.cfg.Logger.Printf("reverting thread-shareable flag on %q: %s", alias, err)
		}
	}
	s.shared = nil
}
