// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/imu_pipeline/internal/imu"
)

// ErrConnectionBroken is returned by a connection's send loop after too many
// consecutive write failures.
var ErrConnectionBroken = errors.New("connection broken")

const (
	defaultSendBackoff     = 100 * time.Millisecond
	defaultAcceptBackoff   = 100 * time.Millisecond
	defaultMaxSendFailures = 5
	defaultWriteTimeout    = time.Second
)

// Publisher serves a stream of encoded samples to one consumer at a time.
type Publisher struct {
	socketPath string
	period     time.Duration
	src        imu.Source
	logger     *zap.SugaredLogger

	clock           clock.Clock
	sendBackoff     time.Duration
	acceptBackoff   time.Duration
	maxSendFailures int
	writeTimeout    time.Duration

	mu       sync.Mutex
	listener net.Listener

	sent atomic.Uint64
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherClock sets the clock driving the send ticker and backoffs.
func WithPublisherClock(c clock.Clock) PublisherOption {
	return func(p *Publisher) { p.clock = c }
}

// WithSendBackoff sets the pause after a failed send.
func WithSendBackoff(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.sendBackoff = d }
}

// WithMaxSendFailures sets how many consecutive failed sends break a connection.
func WithMaxSendFailures(n int) PublisherOption {
	return func(p *Publisher) { p.maxSendFailures = n }
}

// WithWriteTimeout bounds a single frame write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.writeTimeout = d }
}

// NewPublisher returns a Publisher that sends one sample from src every
// 1/frequency on the socket at socketPath.
func NewPublisher(
	socketPath string,
	frequency physic.Frequency,
	src imu.Source,
	logger *zap.SugaredLogger,
	opts ...PublisherOption,
) (*Publisher, error) {
	if frequency <= 0 {
		return nil, errors.Errorf("publish frequency must be positive, got %s", frequency)
	}
	p := &Publisher{
		socketPath:      socketPath,
		period:          frequency.Period(),
		src:             src,
		logger:          logger,
		clock:           clock.New(),
		sendBackoff:     defaultSendBackoff,
		acceptBackoff:   defaultAcceptBackoff,
		maxSendFailures: defaultMaxSendFailures,
		writeTimeout:    defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.period <= 0 {
		return nil, errors.Errorf("publish frequency %s is too high", frequency)
	}
	return p, nil
}

// Listen binds the socket, replacing any stale file at the path and creating
// the parent directory if needed.
func (p *Publisher) Listen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener != nil {
		return nil
	}

	if err := os.Remove(p.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove stale socket %s", p.socketPath)
	}
	if err := os.MkdirAll(filepath.Dir(p.socketPath), 0o755); err != nil {
		return errors.Wrapf(err, "create socket directory for %s", p.socketPath)
	}

	ln, err := net.Listen("unix", p.socketPath)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", p.socketPath)
	}
	p.listener = ln
	p.logger.Infow("publisher listening", "socket", p.socketPath, "period", p.period)
	return nil
}

// Addr returns the socket path.
func (p *Publisher) Addr() string {
	return p.socketPath
}

// Sent returns the number of frames written since the Publisher was created.
func (p *Publisher) Sent() uint64 {
	return p.sent.Load()
}

// Run accepts consumers one at a time and streams samples to each until its
// connection breaks. It returns nil once ctx is done or the Publisher is
// closed.
func (p *Publisher) Run(ctx context.Context) error {
	if err := p.Listen(); err != nil {
		return err
	}
	p.mu.Lock()
	ln := p.listener
	p.mu.Unlock()
	if ln == nil {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		if err := p.closeListener(); err != nil {
			p.logger.Debugw("closing listener", "error", err)
		}
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			p.logger.Errorw("accept failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-p.clock.After(p.acceptBackoff):
			}
			continue
		}

		p.logger.Info("consumer connected")
		err = p.serve(ctx, conn)
		if cerr := conn.Close(); cerr != nil {
			p.logger.Debugw("closing consumer connection", "error", cerr)
		}

		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrConnectionBroken):
			p.logger.Warnw("consumer connection lost, waiting for a new consumer", "error", err)
		case err != nil:
			return err
		}
	}
}

// serve streams frames to conn on every tick until the connection breaks or
// ctx is done. A send that wrote nothing is retried on the next tick. A frame
// cut off after part of it went out ends the connection.
func (p *Publisher) serve(ctx context.Context, conn net.Conn) error {
	ticker := p.clock.Ticker(p.period)
	defer ticker.Stop()

	cw := &countingWriter{w: conn}
	w := bufio.NewWriter(cw)
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		before := cw.n
		err := p.send(conn, w, imu.Encode(p.src.Generate()))
		if err == nil {
			failures = 0
			p.sent.Add(1)
			continue
		}

		if cw.n != before {
			return errors.Wrapf(ErrConnectionBroken, "frame cut off after %d bytes: %v", cw.n-before, err)
		}

		failures++
		p.logger.Warnw("failed to send sample", "attempt", failures, "error", err)
		if failures >= p.maxSendFailures {
			return errors.Wrapf(ErrConnectionBroken, "%d consecutive send failures, last: %v", failures, err)
		}
		// a bufio.Writer keeps returning its first error until reset
		w.Reset(cw)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.sendBackoff):
		}
	}
}

func (p *Publisher) send(conn net.Conn, w *bufio.Writer, payload []byte) error {
	if p.writeTimeout > 0 {
		// socket deadlines always use the wall clock
		if err := conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return errors.Wrap(err, "set write deadline")
		}
	}
	if err := WriteFrame(w, payload); err != nil {
		return err
	}
	return errors.Wrap(w.Flush(), "flush frame")
}

// countingWriter counts the bytes that actually reached the connection.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}

func (p *Publisher) closeListener() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	err := p.listener.Close()
	p.listener = nil
	return err
}

// Close stops accepting consumers and removes the socket file.
func (p *Publisher) Close() error {
	err := p.closeListener()
	if rerr := os.Remove(p.socketPath); rerr != nil && !os.IsNotExist(rerr) {
		err = multierr.Append(err, errors.Wrapf(rerr, "remove socket %s", p.socketPath))
	}
	return err
}
