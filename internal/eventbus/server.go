// Package eventbus embeds a NATS server and client in-process so the
// Execution Driver's lifecycle events (node queued/running/done/failed,
// queue depth changes) reach any connected UI or external subscriber
// without standing up a separate broker.
package eventbus

import (
	"fmt"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// ServerConfig configures the embedded NATS server.
type ServerConfig struct {
	Port          int    // TCP port for client connections.
	WebSocketPort int    // WebSocket port, 0 disables it.
	JetStream     bool   // Enable JetStream persistence.
	DataDir       string // Required when JetStream is enabled.
}

// Server wraps an embedded NATS server instance.
type Server struct {
	server  *natsserver.Server
	config  ServerConfig
	mu      sync.RWMutex
	running bool
}

// NewServer builds an unstarted embedded server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Port <= 0 {
		config.Port = 4222
	}
	if config.JetStream && config.DataDir == "" {
		return nil, fmt.Errorf("eventbus: DataDir required when JetStream is enabled")
	}
	return &Server{config: config}, nil
}

// Start launches the embedded server and blocks until it accepts connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("eventbus: server already running")
	}

	opts := &natsserver.Options{
		Host:       "127.0.0.1",
		Port:       s.config.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if s.config.WebSocketPort > 0 {
		opts.Websocket = natsserver.WebsocketOpts{
			Host:  "127.0.0.1",
			Port:  s.config.WebSocketPort,
			NoTLS: true,
		}
	}
	if s.config.JetStream {
		opts.JetStream = true
		opts.StoreDir = s.config.DataDir
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return fmt.Errorf("eventbus: create server: %w", err)
	}
	s.server = ns
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("eventbus: server not ready for connections")
	}
	s.running = true
	return nil
}

// Shutdown stops the embedded server, waiting for in-flight work to drain.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.server == nil {
		return
	}
	s.server.Shutdown()
	s.server.WaitForShutdown()
	s.running = false
	s.server = nil
}

// URL returns the client connection URL.
func (s *Server) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", s.config.Port)
}

// IsRunning reports whether the server has been started.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
