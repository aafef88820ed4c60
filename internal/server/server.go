// Package server is the HTTP layer of the project file host: the lifecycle
// controller, the route table, and the resource handlers that keep the
// on-disk tree and the metadata store in step.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"project-host/internal/fsys"
	"project-host/internal/store"
)

// LogSink receives one formatted line per handled request and per privileged
// action. The control panel registers one to show live activity.
type LogSink func(line string)

// Metadata is the query surface the handlers need from the metadata store.
// *store.Store satisfies it; tests substitute an in-memory fake.
type Metadata interface {
	FindUserByEmail(ctx context.Context, email string) (store.User, error)
	FindUserByName(ctx context.Context, name string) (store.User, error)
	InsertUser(ctx context.Context, name, email, passwordHash string) (int64, error)
	UpsertFile(ctx context.Context, userID int64, project, name string, sizeBytes int64) error
	DeleteFile(ctx context.Context, userID int64, project, name string) (bool, error)
	DeleteProjectFiles(ctx context.Context, userID int64, project string) (int64, error)
	CountProjectFiles(ctx context.Context, userID int64, project string) (int64, error)
	FileExists(ctx context.Context, userID int64, project, name string) (bool, error)
	ListProjectFiles(ctx context.Context, userID int64, project string) ([]store.FileInfo, error)
}

// Config carries everything a Server needs at construction time. Host, Port,
// and UseTLS can be changed later through the controller setters; changes
// take effect on the next Start.
type Config struct {
	Host        string
	Port        int
	UseTLS      bool
	CertFile    string
	KeyFile     string
	ContentRoot string // directory served at "/", conventionally "html"
	Store       Metadata
	Mirror      *Mirror // optional object-storage mirror, nil disables it
	LogSink     LogSink
}

// Server is the lifecycle controller plus the request handlers. Start, Stop,
// and Restart are mutually exclusive across callers; the bind settings are
// read concurrently by handlers and guarded separately.
type Server struct {
	lifecycleMu sync.Mutex // serializes Start/Stop/Restart

	mu       sync.RWMutex // guards the fields below
	host     string
	port     int
	useTLS   bool
	certFile string
	keyFile  string
	running  bool
	// effective bind settings of the running listener
	effHost string
	effPort int
	effTLS  bool

	httpServer *http.Server
	serveDone  chan struct{}

	meta     Metadata
	layout   fsys.Layout
	mirror   *Mirror
	sink     LogSink
	received *receivedLog
	locks    *keyedMutex
	handler  http.Handler
}

// New builds a stopped Server with its route table constructed once.
func New(cfg Config) *Server {
	root := cfg.ContentRoot
	if root == "" {
		root = "html"
	}
	s := &Server{
		host:     cfg.Host,
		port:     cfg.Port,
		useTLS:   cfg.UseTLS,
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
		meta:     cfg.Store,
		layout:   fsys.New(root),
		mirror:   cfg.Mirror,
		sink:     cfg.LogSink,
		received: newReceivedLog(),
		locks:    newKeyedMutex(),
	}
	s.handler = requestIDMiddleware(s.loggingMiddleware(s.buildRoutes()))
	return s
}

// SetHost changes the bind host for the next Start.
func (s *Server) SetHost(host string) {
	s.mu.Lock()
	s.host = host
	s.mu.Unlock()
}

// SetPort changes the bind port for the next Start.
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
}

// EnableTLS selects plain or TLS transport for the next Start.
func (s *Server) EnableTLS(enable bool) {
	s.mu.Lock()
	s.useTLS = enable
	s.mu.Unlock()
}

// Host returns the configured bind host.
func (s *Server) Host() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host
}

// Port returns the listener's port while running, otherwise the configured
// one. The distinction matters when starting with port 0.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.running {
		return s.effPort
	}
	return s.port
}

// Running reports whether the listener is accepting connections.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// HostURL is the public base URL of the server, e.g. "http://localhost:8000".
// Shipped HTML forms are rewritten to target it.
func (s *Server) HostURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scheme, host, port := "http", s.host, s.port
	if s.running {
		host, port = s.effHost, s.effPort
		if s.effTLS {
			scheme = "https"
		}
	} else if s.useTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// Start binds the listener and begins serving in the background. Starting a
// running server is a no-op. A failed bind or certificate load is returned
// before any state changes.
func (s *Server) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.Running() {
		log.Printf("service=project-host msg=%q", "server already running")
		return nil
	}

	s.mu.RLock()
	host, port, useTLS := s.host, s.port, s.useTLS
	certFile, keyFile := s.certFile, s.keyFile
	s.mu.RUnlock()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	var ln net.Listener
	var err error
	if useTLS {
		cert, cerr := tls.LoadX509KeyPair(certFile, keyFile)
		if cerr != nil {
			return fmt.Errorf("load tls keypair: %w", cerr)
		}
		ln, err = tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.httpServer = httpServer
	s.serveDone = done
	s.running = true
	s.effHost = host
	s.effTLS = useTLS
	s.effPort = port
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.effPort = tcp.Port
	}
	s.mu.Unlock()

	go func() {
		defer close(done)
		if serr := httpServer.Serve(ln); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			log.Printf("service=project-host msg=%q err=%v", "serve stopped", serr)
		}
	}()

	log.Printf("service=project-host msg=%q url=%s", "server started", s.HostURL())
	return nil
}

// Stop drains in-flight requests and closes the listener. Stopping a stopped
// server is a no-op.
func (s *Server) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.stopLocked()
}

func (s *Server) stopLocked() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		log.Printf("service=project-host msg=%q", "server is not running")
		return nil
	}
	httpServer := s.httpServer
	done := s.serveDone
	s.running = false
	s.httpServer = nil
	s.serveDone = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-done
	log.Printf("service=project-host msg=%q", "server stopped")
	return nil
}

// Restart stops the server if running, then starts it with the current
// settings. When the start fails the server stays stopped and the error is
// surfaced to the caller.
func (s *Server) Restart() error {
	s.lifecycleMu.Lock()
	if err := s.stopLocked(); err != nil {
		s.lifecycleMu.Unlock()
		return err
	}
	s.lifecycleMu.Unlock()
	return s.Start()
}

// Compile-time check that the real store satisfies the handler contract.
var _ Metadata = (*store.Store)(nil)
