// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sink receives snapshots. Publish is called from a single goroutine per
// sink.
type Sink interface {
	Name() string
	Publish(ctx context.Context, s Snapshot) error
	Close() error
}

type worker struct {
	sink Sink
	ch   chan Snapshot
}

// Dispatcher fans snapshots out to sinks at a bounded rate. Each sink has a
// single slot; a slow sink only ever sees the newest snapshot and never holds
// up Offer.
type Dispatcher struct {
	logger  *zap.SugaredLogger
	limiter *rate.Limiter
	workers []*worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher returns a Dispatcher that forwards at most ratePerSec
// snapshots per second.
func NewDispatcher(ratePerSec float64, logger *zap.SugaredLogger, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
	}
	for _, s := range sinks {
		d.workers = append(d.workers, &worker{sink: s, ch: make(chan Snapshot, 1)})
	}
	return d
}

// Start launches one goroutine per sink.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for _, w := range d.workers {
		d.wg.Add(1)
		go func(w *worker) {
			defer d.wg.Done()
			d.run(ctx, w)
		}(w)
	}
}

func (d *Dispatcher) run(ctx context.Context, w *worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-w.ch:
			if err := w.sink.Publish(ctx, s); err != nil {
				d.logger.Warnw("telemetry sink failed", "sink", w.sink.Name(), "error", err)
			}
		}
	}
}

// Offer hands s to every sink unless the rate limit says to drop it. It
// never blocks and reports whether s was forwarded.
func (d *Dispatcher) Offer(s Snapshot) bool {
	if len(d.workers) == 0 || !d.limiter.Allow() {
		return false
	}
	for _, w := range d.workers {
		select {
		case w.ch <- s:
			continue
		default:
		}
		// replace the stale snapshot still waiting in the slot
		select {
		case <-w.ch:
		default:
		}
		select {
		case w.ch <- s:
		default:
		}
	}
	return true
}

// Close stops the workers and closes every sink.
func (d *Dispatcher) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	var err error
	for _, w := range d.workers {
		err = multierr.Append(err, w.sink.Close())
	}
	return err
}
