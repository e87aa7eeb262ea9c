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

// Package serving implements the prediction path: variant assignment,
// artifact lookup, top-N scoring, provenance trace, and the synthetic
// recommend event that closes the loop back into the event store.
package serving

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recsys/internal/recsys/assign"
	"recsys/internal/recsys/event"
	"recsys/internal/recsys/registry"
	"recsys/internal/recsys/store"
	"recsys/internal/recsys/telemetry"
)

// DefaultLimit is the top-N size when the caller does not specify one.
const DefaultLimit = 10

// Provenance carries the build identity stamped onto every trace.
type Provenance struct {
	PipelineGitSha       string
	ContainerImageDigest string
}

// Result is the caller-visible prediction output.
type Result struct {
	RequestID       string                `json:"requestId"`
	Variant         event.Variant         `json:"variant"`
	ModelVersion    string                `json:"modelVersion"`
	DataSnapshotID  string                `json:"dataSnapshotId,omitempty"`
	Recommendations []registry.ScoredItem `json:"recommendations"`
}

// Engine serves predictions. It holds no locks across store calls; every
// request is independent.
type Engine struct {
	reg    registry.Registry
	events store.EventStore
	prov   Provenance
	log    *zap.Logger

	now          func() time.Time
	newRequestID func() string
}

// NewEngine wires a serving engine.
func NewEngine(reg registry.Registry, events store.EventStore, prov Provenance, log *zap.Logger) *Engine {
	return &Engine{
		reg:          reg,
		events:       events,
		prov:         prov,
		log:          log,
		now:          time.Now,
		newRequestID: uuid.NewString,
	}
}

// Recommend runs the full prediction path for one user. requestID may be
// empty, in which case one is generated; re-serving the same id overwrites
// its trace. Failures before scoring surface to the caller with the
// requestId attached; trace and event emission failures are logged only and
// never fail the prediction.
func (e *Engine) Recommend(ctx context.Context, userID string, limit int, requestID string) (Result, error) {
	start := e.now()
	if requestID == "" {
		requestID = e.newRequestID()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	res := Result{RequestID: requestID}

	variant := assign.Variant(userID)
	res.Variant = variant

	artifact, err := e.reg.GetServingModel(ctx, variant)
	if err != nil {
		telemetry.IncError("serving")
		return res, err
	}
	res.ModelVersion = artifact.Version
	res.DataSnapshotID = artifact.DataSnapshotID
	res.Recommendations = TopN(artifact.Counts, limit)

	latency := e.now().Sub(start)
	telemetry.ObservePredictionLatency(string(variant), latency)
	telemetry.IncRequest("serving")

	trace := registry.Trace{
		RequestID:            requestID,
		UserID:               userID,
		Variant:              variant,
		ModelVersion:         artifact.Version,
		DataSnapshotID:       artifact.DataSnapshotID,
		PipelineGitSha:       e.prov.PipelineGitSha,
		ContainerImageDigest: e.prov.ContainerImageDigest,
		Recommendations:      res.Recommendations,
		LatencyMs:            float64(latency.Microseconds()) / 1000.0,
		CreatedAt:            e.now().UTC(),
	}
	if err := e.reg.PutTrace(ctx, trace); err != nil {
		telemetry.IncError("trace")
		e.log.Error("trace upsert failed",
			zap.String("requestId", requestID), zap.Error(err))
	}

	items := make([]string, len(res.Recommendations))
	for i, r := range res.Recommendations {
		items[i] = r.ItemID
	}
	rec := event.Event{
		Type:         event.TypeRecommend,
		UserID:       userID,
		TS:           e.now().UTC(),
		Items:        items,
		Variant:      variant,
		RequestID:    requestID,
		ModelVersion: artifact.Version,
		Limit:        limit,
	}
	if err := e.events.Append(ctx, rec); err != nil {
		telemetry.IncError("recommend-event")
		e.log.Error("recommend event emission failed",
			zap.String("requestId", requestID), zap.Error(err))
	}

	return res, nil
}

// TopN ranks a counts table: score descending, itemId ascending on ties.
func TopN(counts map[string]float64, n int) []registry.ScoredItem {
	ranked := make([]registry.ScoredItem, 0, len(counts))
	for id, score := range counts {
		ranked = append(ranked, registry.ScoredItem{ItemID: id, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ItemID < ranked[j].ItemID
	})
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}
