// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const wsWriteTimeout = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

type wsClient struct {
	conn *websocket.Conn
	send chan Snapshot
}

// WebServer serves the latest snapshot at /api/motion and streams snapshots
// to websocket clients at /ws.
type WebServer struct {
	addr   string
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	latest  Snapshot
	have    bool
	clients map[*wsClient]struct{}

	server   *http.Server
	listener net.Listener
}

// NewWebServer returns a server for addr. Call Start to begin listening, or
// mount Handler elsewhere.
func NewWebServer(addr string, logger *zap.SugaredLogger) *WebServer {
	s := &WebServer{
		addr:    addr,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/motion", s.handleMotion)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start binds addr and serves in the background.
func (s *WebServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.addr)
	}
	s.listener = ln
	s.logger.Infow("web server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("web server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *WebServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *WebServer) handleMotion(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap, have := s.latest, s.have
	s.mu.RUnlock()

	if !have {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Debugw("json encode error", "error", err)
	}
}

func (s *WebServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade error", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan Snapshot, 1)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	if s.have {
		c.send <- s.latest
	}
	s.mu.Unlock()
	s.logger.Debugw("websocket client connected", "remote", r.RemoteAddr)

	go s.writeLoop(c)

	// Reads only serve to notice the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debugw("websocket read error", "error", err)
			}
			break
		}
	}
	s.drop(c)
}

func (s *WebServer) writeLoop(c *wsClient) {
	for snap := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			break
		}
		if err := c.conn.WriteJSON(snap); err != nil {
			s.logger.Debugw("websocket write error", "error", err)
			break
		}
	}
	c.conn.Close()
}

func (s *WebServer) drop(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
}

// Name implements Sink.
func (s *WebServer) Name() string { return "web" }

// Publish implements Sink. It stores snap as the latest and queues it for
// every websocket client, replacing anything the client has not sent yet.
func (s *WebServer) Publish(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	s.have = true

	for c := range s.clients {
		select {
		case <-c.send:
		default:
		}
		c.send <- snap
	}
	return nil
}

// Close shuts the HTTP server and disconnects websocket clients.
func (s *WebServer) Close() error {
	err := s.server.Close()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	s.mu.Lock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
		err = multierr.Append(err, ignoreClosed(c.conn.Close()))
	}
	s.mu.Unlock()
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
