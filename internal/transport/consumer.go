// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relabs-tech/imu_pipeline/internal/imu"
)

// ErrConnect matches any failure to reach the publisher socket.
var ErrConnect = errors.New("cannot connect to publisher")

// ConnectError wraps the dial failure. errors.Is(err, ErrConnect) holds and
// the underlying net.Error stays reachable through errors.As.
type ConnectError struct {
	Path string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%v at %s: %v", ErrConnect, e.Path, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is reports ErrConnect as a match.
func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

// Timeout reports whether the dial gave up because of the connect timeout.
func (e *ConnectError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Handler receives every decoded sample, in stream order.
type Handler func(imu.Sample)

// Stats counts what a Consumer has read.
type Stats struct {
	Frames         uint64 `json:"frames"`
	Samples        uint64 `json:"samples"`
	EmptyFrames    uint64 `json:"empty_frames"`
	DecodeFailures uint64 `json:"decode_failures"`
}

// Consumer reads frames from a publisher socket and hands decoded samples to
// a Handler.
type Consumer struct {
	socketPath string
	timeout    time.Duration
	handler    Handler
	logger     *zap.SugaredLogger

	frames         atomic.Uint64
	samples        atomic.Uint64
	emptyFrames    atomic.Uint64
	decodeFailures atomic.Uint64
}

// NewConsumer returns a Consumer for socketPath. timeout bounds the connect
// attempt only.
func NewConsumer(socketPath string, timeout time.Duration, handler Handler, logger *zap.SugaredLogger) *Consumer {
	return &Consumer{
		socketPath: socketPath,
		timeout:    timeout,
		handler:    handler,
		logger:     logger,
	}
}

// Run connects once and reads until the publisher closes the stream (nil),
// ctx is done (nil), or the stream is broken (error). Malformed payloads and
// empty frames are logged and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return &ConnectError{Path: c.socketPath, Err: err}
	}
	defer conn.Close()
	c.logger.Infow("connected to publisher", "socket", c.socketPath)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	r := bufio.NewReader(conn)
	for {
		payload, err := ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Info("publisher closed the connection")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read frame")
		}
		c.frames.Add(1)

		if len(payload) == 0 {
			c.emptyFrames.Add(1)
			c.logger.Warn("received empty frame, skipping")
			continue
		}

		s, err := imu.Decode(payload)
		if err != nil {
			c.decodeFailures.Add(1)
			c.logger.Warnw("failed to decode sample, skipping", "bytes", len(payload), "error", err)
			continue
		}
		c.samples.Add(1)
		c.handler(s)
	}
}

// Stats returns the current counters. Safe to call while Run is active.
func (c *Consumer) Stats() Stats {
	return Stats{
		Frames:         c.frames.Load(),
		Samples:        c.samples.Load(),
		EmptyFrames:    c.emptyFrames.Load(),
		DecodeFailures: c.decodeFailures.Load(),
	}
}
