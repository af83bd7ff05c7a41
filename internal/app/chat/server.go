/*
Package chat contains the core logic of the chat service: the connection
session state machine, the membership registry, and the message router.

This file defines the Server struct, which owns the TCP accept loop, the
shared registry and router, and the per-IP accept limiter. Each accepted
connection gets its own session goroutine; one session's failure never
blocks or aborts another's.
*/
package chat

import (
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"beatrice/internal/configs"
	"beatrice/internal/pkg/limiter"
	"beatrice/internal/pkg/logx"
	"beatrice/internal/transport"
)

const (
	// AcceptRate is the sustained per-IP connection accept rate (per second).
	AcceptRate = 0.5

	// AcceptBurst is the per-IP connection accept burst.
	AcceptBurst = 5
)

// Server accepts chat connections and runs one session per connection.
type Server struct {
	cfg      *configs.AppConfig
	registry *Registry
	router   *Router

	// accepts throttles connection attempts per client IP.
	accepts *limiter.IPRateLimiter

	mu       sync.Mutex
	listener net.Listener

	// wg tracks live session goroutines for shutdown.
	wg sync.WaitGroup

	// structured logger with Server context.
	logger zerolog.Logger
}

// NewServer constructs a server with a fresh registry, router, and accept limiter.
func NewServer(cfg *configs.AppConfig) *Server {
	registry := NewRegistry(cfg.MessageRateLimit)

	return &Server{
		cfg:      cfg,
		registry: registry,
		router:   NewRouter(registry),
		accepts:  limiter.NewIPRateLimiter(rate.Limit(AcceptRate), AcceptBurst),
		logger:   logx.Logger().With().Str("component", "Server").Logger(),
	}
}

// Registry exposes the membership registry to the gateway and to tests.
func (srv *Server) Registry() *Registry {
	return srv.registry
}

// AcceptLimiter exposes the per-IP accept limiter so the gateway applies the
// same budget to WebSocket upgrades.
func (srv *Server) AcceptLimiter() *limiter.IPRateLimiter {
	return srv.accepts
}

// ListenAndServe binds the configured chat address and accepts connections
// until Shutdown closes the listener. It blocks.
func (srv *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", srv.cfg.ChatAddr)
	if err != nil {
		return err
	}

	srv.mu.Lock()
	srv.listener = ln
	srv.mu.Unlock()

	srv.logger.Info().Str("addr", srv.cfg.ChatAddr).Msg("Chat server listening.")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			srv.logger.Error().Err(err).Msg("Accept failed.")
			continue
		}

		if !srv.accepts.AllowAddr(conn.RemoteAddr().String()) {
			srv.logger.Warn().
				Str("remote_addr", logx.AnonymizeIP(conn.RemoteAddr().String())).
				Msg("Connection rejected: accept rate exceeded.")
			conn.Close()
			continue
		}

		srv.HandleConn(transport.NewTCPConn(conn))
	}
}

// HandleConn starts a session for an already-framed connection. The gateway
// feeds WebSocket bridges through here so both transports share one lifecycle.
func (srv *Server) HandleConn(conn transport.Conn) {
	session := NewSession(conn, srv.registry, srv.router)

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		session.Run()
	}()
}

// Shutdown stops accepting, closes every live session, and waits for their
// cleanup to finish.
func (srv *Server) Shutdown() {
	srv.logger.Info().Msg("Shutting down chat server...")

	srv.mu.Lock()
	if srv.listener != nil {
		srv.listener.Close()
	}
	srv.mu.Unlock()

	srv.registry.CloseAll()
	srv.wg.Wait()

	srv.logger.Info().Msg("Chat server shutdown complete.")
}
