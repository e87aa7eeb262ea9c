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

// Package store provides the append-only event store facade: durable writes,
// time-range scans with typed filters, and the telemetry aggregations. All
// reads are capped by a configurable row limit and report truncation through
// a partial flag instead of buffering unbounded result sets.
package store

import (
	"context"
	"time"

	"recsys/internal/recsys/event"
)

// DefaultRowCap bounds any single scan.
const DefaultRowCap = 100000

// Filter narrows a Range scan. Zero values mean "no constraint". Types and
// Variant combine with the time window; UserID and ItemID are exact matches.
type Filter struct {
	Types   []event.Type
	UserID  string
	ItemID  string
	Variant event.Variant
}

// RangeResult is a capped, ts-ascending slice of events. Partial is set when
// the row cap truncated the scan.
type RangeResult struct {
	Events  []event.Event
	Partial bool
}

// FunnelStage is one step of the conversion funnel.
type FunnelStage struct {
	Type          event.Type `json:"type"`
	Count         int64      `json:"count"`
	DistinctUsers int64      `json:"distinctUsers"`
}

// FunnelReport aggregates event counts per type since a cut-off, optionally
// restricted to one variant's recommend traffic.
type FunnelReport struct {
	Since   time.Time     `json:"since"`
	Variant event.Variant `json:"variant,omitempty"`
	Stages  []FunnelStage `json:"stages"`
}

// ItemTrend is the interaction profile of one item.
type ItemTrend struct {
	ItemID        string `json:"itemId"`
	Plays         int64  `json:"plays"`
	Views         int64  `json:"views"`
	Skips         int64  `json:"skips"`
	DistinctUsers int64  `json:"distinctUsers"`
}

// ItemTrendReport lists item interaction trends, most interacted first.
type ItemTrendReport struct {
	Since time.Time   `json:"since"`
	Items []ItemTrend `json:"items"`
}

// UserEngagement is the activity profile of one user.
type UserEngagement struct {
	UserID        string `json:"userId"`
	Events        int64  `json:"events"`
	DistinctItems int64  `json:"distinctItems"`
}

// EngagementReport summarizes per-user activity since a cut-off.
type EngagementReport struct {
	Since         time.Time        `json:"since"`
	ActiveUsers   int64            `json:"activeUsers"`
	TotalEvents   int64            `json:"totalEvents"`
	DistinctItems int64            `json:"distinctItems"`
	TopUsers      []UserEngagement `json:"topUsers"`
}

// EventStore is the facade the rest of the system reads and writes through.
// Append is strictly additive and durable on return. Range returns events
// with ts in [from, to], ascending by ts with insertion order breaking ties.
type EventStore interface {
	Append(ctx context.Context, ev event.Event) error
	Range(ctx context.Context, from, to time.Time, f Filter) (RangeResult, error)
	AggregateFunnel(ctx context.Context, from time.Time, variant event.Variant) (FunnelReport, error)
	AggregateItemTrend(ctx context.Context, from time.Time, itemID string) (ItemTrendReport, error)
	AggregateUserEngagement(ctx context.Context, from time.Time) (EngagementReport, error)
	Ping(ctx context.Context) error
}
