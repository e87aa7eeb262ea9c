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

package ingest

import (
	"context"
	"fmt"
	"sync"

	"recsys/internal/recsys/recerr"
)

// Message is one raw record from the streaming bus.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Bus is a minimal abstraction over a streaming-bus consumer. We
// intentionally avoid importing a specific broker client; production
// implementations wrap one and must honor Pause/Resume flow control.
//
// Fetch blocks until a message is available, the bus is closed, or ctx is
// done. Pause stops delivery for the given topics until Resume; a paused
// Fetch blocks rather than erroring.
type Bus interface {
	Fetch(ctx context.Context) (Message, error)
	Pause(topics ...string)
	Resume(topics ...string)
	Close() error
}

// ChannelBus is an in-process Bus over a buffered channel. It backs tests
// and single-binary deployments where the producer lives in the same
// process.
type ChannelBus struct {
	ch chan Message

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}
	closed   bool
}

// NewChannelBus creates a bus with the given delivery buffer.
func NewChannelBus(buffer int) *ChannelBus {
	resumed := make(chan struct{})
	close(resumed)
	return &ChannelBus{ch: make(chan Message, buffer), resumeCh: resumed}
}

// Publish enqueues a message, blocking when the buffer is full.
func (b *ChannelBus) Publish(msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: bus closed", recerr.ErrBusUnavailable)
	}
	b.ch <- msg
	return nil
}

// Fetch returns the next message, honoring pause state.
func (b *ChannelBus) Fetch(ctx context.Context) (Message, error) {
	for {
		b.mu.Lock()
		paused, resumeCh := b.paused, b.resumeCh
		b.mu.Unlock()
		if paused {
			select {
			case <-ctx.Done():
				return Message{}, ctx.Err()
			case <-resumeCh:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case m, ok := <-b.ch:
			if !ok {
				return Message{}, fmt.Errorf("%w: bus closed", recerr.ErrBusUnavailable)
			}
			return m, nil
		}
	}
}

// Pause suspends delivery. Topic arguments are accepted for interface
// parity; the in-process bus has a single stream.
func (b *ChannelBus) Pause(...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.paused {
		b.paused = true
		b.resumeCh = make(chan struct{})
	}
}

// Resume lifts a pause.
func (b *ChannelBus) Resume(...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		b.paused = false
		close(b.resumeCh)
	}
}

// Close ends delivery; pending buffered messages are still fetchable.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}
