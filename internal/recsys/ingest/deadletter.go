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
	"sync"

	"go.uber.org/zap"
)

// DeadLetter receives bus messages that failed schema validation, together
// with the rejection reason. Implementations must keep the original payload
// intact.
type DeadLetter interface {
	Reject(ctx context.Context, msg Message, reason string) error
}

// LogDeadLetter records rejections in the service log. The default sink when
// no durable dead-letter topic is configured.
type LogDeadLetter struct {
	log *zap.Logger
}

// NewLogDeadLetter wraps a logger as a dead-letter sink.
func NewLogDeadLetter(log *zap.Logger) *LogDeadLetter {
	return &LogDeadLetter{log: log}
}

func (d *LogDeadLetter) Reject(_ context.Context, msg Message, reason string) error {
	d.log.Warn("dead-letter",
		zap.String("topic", msg.Topic),
		zap.ByteString("payload", msg.Value),
		zap.String("reason", reason))
	return nil
}

// MemoryDeadLetter buffers rejections in memory for inspection in tests.
type MemoryDeadLetter struct {
	mu      sync.Mutex
	entries []RejectedMessage
}

// RejectedMessage is one dead-lettered record.
type RejectedMessage struct {
	Message Message
	Reason  string
}

func (d *MemoryDeadLetter) Reject(_ context.Context, msg Message, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, RejectedMessage{Message: msg, Reason: reason})
	return nil
}

// Entries returns a snapshot of the rejected messages.
func (d *MemoryDeadLetter) Entries() []RejectedMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RejectedMessage, len(d.entries))
	copy(out, d.entries)
	return out
}
