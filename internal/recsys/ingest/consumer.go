// Copyright 2026 The recsys Authors. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ingest consumes raw events from the streaming bus: schema
// validation at the boundary, a dead-letter sink for rejects, durable writes
// into the event store, and bounded-concurrency processing with pause/resume
// backpressure toward the bus.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"recsys/internal/recsys/event"
	"recsys/internal/recsys/store"
	"recsys/internal/recsys/telemetry"
)

// Handler is the optional in-process hook fed with every persisted event
// (the serving engine's online-metrics tap).
type Handler func(ctx context.Context, ev event.Event)

// Config tunes the consumer. Concurrency is the worker-pool size; the
// pause and resume watermarks derive from it.
type Config struct {
	Topic       string
	GroupID     string
	Concurrency int
}

// Consumer runs the ingest loop: one fetcher, Concurrency workers, and a
// backpressure controller that pauses the bus when in-flight work exceeds
// 5x concurrency and resumes below 2x. Messages are the unit of work.
type Consumer struct {
	bus     Bus
	store   store.EventStore
	dead    DeadLetter
	handler Handler
	cfg     Config
	log     *zap.Logger

	tasks   chan Message
	bp      *backpressure
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped uint32
}

// NewConsumer wires a consumer. handler may be nil.
func NewConsumer(bus Bus, st store.EventStore, dead DeadLetter, handler Handler, cfg Config, log *zap.Logger) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Consumer{
		bus:     bus,
		store:   st,
		dead:    dead,
		handler: handler,
		cfg:     cfg,
		log:     log,
		tasks:   make(chan Message, 5*cfg.Concurrency),
		bp:      newBackpressure(bus, cfg, log),
	}
}

// Start launches the fetch loop and the worker pool.
func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.log.Info("starting ingest consumer",
		zap.String("topic", c.cfg.Topic),
		zap.String("groupId", c.cfg.GroupID),
		zap.Int("concurrency", c.cfg.Concurrency))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.fetchLoop(ctx)
	}()
	for i := 0; i < c.cfg.Concurrency; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.workerLoop(ctx)
		}()
	}
}

// Stop cancels the loops and waits for in-flight work to drain. Stopping a
// consumer that was never started is a no-op.
func (c *Consumer) Stop() {
	if c.cancel == nil {
		return
	}
	if !atomic.CompareAndSwapUint32(&c.stopped, 0, 1) {
		return
	}
	c.log.Info("stopping ingest consumer")
	c.cancel()
	c.wg.Wait()
}

func (c *Consumer) fetchLoop(ctx context.Context) {
	for {
		msg, err := c.bus.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("bus fetch failed, stopping fetch loop", zap.Error(err))
			return
		}
		c.bp.acquire()
		select {
		case c.tasks <- msg:
		case <-ctx.Done():
			c.bp.release()
			return
		}
	}
}

func (c *Consumer) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case msg := <-c.tasks:
					c.process(context.Background(), msg)
					c.bp.release()
				default:
					return
				}
			}
		case msg := <-c.tasks:
			c.process(ctx, msg)
			c.bp.release()
		}
	}
}

// process validates, persists, and forwards one message. Validation
// failures dead-letter and the consumer moves on; store failures are logged
// and counted but never stop the loop.
func (c *Consumer) process(ctx context.Context, msg Message) {
	ev, err := event.Decode(msg.Value)
	if err != nil {
		telemetry.IncDeadLetter()
		if dlErr := c.dead.Reject(ctx, msg, err.Error()); dlErr != nil {
			c.log.Error("dead-letter sink failed", zap.Error(dlErr))
		}
		return
	}
	if err := c.store.Append(ctx, ev); err != nil {
		telemetry.IncError("ingest")
		c.log.Error("event append failed",
			zap.String("type", string(ev.Type)),
			zap.String("userId", ev.UserID),
			zap.Error(err))
		return
	}
	telemetry.IncIngested(string(ev.Type))
	if c.handler != nil {
		c.handler(ctx, ev)
	}
}

// backpressure tracks in-flight work and drives bus pause/resume with the
// (5x, 2x) concurrency watermarks. The gap between the two keeps the bus
// from flapping under steady load.
type backpressure struct {
	bus      Bus
	topic    string
	pauseAt  int64
	resumeAt int64
	log      *zap.Logger

	mu       sync.Mutex
	inflight int64
	paused   bool
}

func newBackpressure(bus Bus, cfg Config, log *zap.Logger) *backpressure {
	return &backpressure{
		bus:      bus,
		topic:    cfg.Topic,
		pauseAt:  int64(5 * cfg.Concurrency),
		resumeAt: int64(2 * cfg.Concurrency),
		log:      log,
	}
}

func (b *backpressure) acquire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight++
	if !b.paused && b.inflight > b.pauseAt {
		b.paused = true
		b.bus.Pause(b.topic)
		telemetry.IncBackpressure("pause")
		b.log.Warn("backpressure: pausing bus",
			zap.Int64("inflight", b.inflight),
			zap.Int64("pauseAt", b.pauseAt))
	}
}

func (b *backpressure) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight--
	if b.paused && b.inflight < b.resumeAt {
		b.paused = false
		b.bus.Resume(b.topic)
		telemetry.IncBackpressure("resume")
		b.log.Info("backpressure: resuming bus",
			zap.Int64("inflight", b.inflight),
			zap.Int64("resumeAt", b.resumeAt))
	}
}

// Inflight reports the current in-flight count; used by tests.
func (c *Consumer) Inflight() int64 {
	c.bp.mu.Lock()
	defer c.bp.mu.Unlock()
	return c.bp.inflight
}
