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

// Package experiment attributes interaction successes to recommendation
// exposures and decides ship / rollback / keep-running with a two-proportion
// z-test.
//
// Attribution scans events in strict ts-ascending order. Each recommend
// event opens (or overwrites) the user's success window; the first matching
// interaction inside the window credits one success to the window's variant
// and consumes it. A window can therefore credit at most one success.
package experiment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"recsys/internal/recsys/assign"
	"recsys/internal/recsys/event"
	"recsys/internal/recsys/recerr"
	"recsys/internal/recsys/registry"
	"recsys/internal/recsys/store"
	"recsys/pkg/stats"
)

// ExperimentID is the only experiment this deployment runs.
const ExperimentID = "rec-engine"

// DefaultWindowHours is used when the caller does not pass a window.
const DefaultWindowHours = 24

// VariantSummary is one arm's aggregate.
type VariantSummary struct {
	Version        string  `json:"version,omitempty"`
	Exposures      int64   `json:"exposures"`
	Successes      int64   `json:"successes"`
	ConversionRate float64 `json:"conversionRate"`
}

// Summary is the experiment report.
type Summary struct {
	ExperimentID string                           `json:"experimentId"`
	WindowHours  int                              `json:"windowHours"`
	Variants     map[event.Variant]VariantSummary `json:"variants"`
	Stats        stats.TwoProportionResult        `json:"stats"`
	Partial      bool                             `json:"partial,omitempty"`
}

// Engine computes experiment summaries on demand from the raw event store.
type Engine struct {
	events     store.EventStore
	reg        registry.Registry
	recSuccess time.Duration
	alpha      float64
	log        *zap.Logger
	now        func() time.Time
}

// NewEngine wires an experiment engine. recSuccess is the attribution
// window; zero selects 15 minutes. alpha zero selects 0.05.
func NewEngine(events store.EventStore, reg registry.Registry, recSuccess time.Duration, alpha float64, log *zap.Logger) *Engine {
	if recSuccess <= 0 {
		recSuccess = 15 * time.Minute
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = stats.DefaultAlpha
	}
	return &Engine{
		events:     events,
		reg:        reg,
		recSuccess: recSuccess,
		alpha:      alpha,
		log:        log,
		now:        time.Now,
	}
}

// window is one user's open success window.
type window struct {
	items   map[string]struct{}
	expires time.Time
	variant event.Variant
}

// Summarize scans the last windowHours of events and runs the significance
// test on the two arms.
func (e *Engine) Summarize(ctx context.Context, windowHours int) (Summary, error) {
	if windowHours <= 0 {
		windowHours = DefaultWindowHours
	}
	nowTS := e.now()
	from := nowTS.Add(-time.Duration(windowHours) * time.Hour)

	res, err := e.events.Range(ctx, from, nowTS, store.Filter{
		Types: []event.Type{event.TypeRecommend, event.TypePlay, event.TypeView},
	})
	if err != nil {
		return Summary{}, fmt.Errorf("experiment scan: %w", err)
	}

	exposures := map[event.Variant]int64{}
	successes := map[event.Variant]int64{}
	windows := map[string]*window{}

	for _, ev := range res.Events {
		switch ev.Type {
		case event.TypeRecommend:
			variant := ev.Variant
			if variant == "" {
				// Old events without a recorded variant fall back to the
				// current assignment hash.
				variant = assign.Variant(ev.UserID)
			}
			items := make(map[string]struct{}, len(ev.Items)+1)
			for _, it := range ev.Items {
				items[it] = struct{}{}
			}
			if ev.ItemID != "" {
				items[ev.ItemID] = struct{}{}
			}
			windows[ev.UserID] = &window{
				items:   items,
				expires: ev.TS.Add(e.recSuccess),
				variant: variant,
			}
			exposures[variant]++
		case event.TypePlay, event.TypeView:
			w, ok := windows[ev.UserID]
			if !ok {
				continue
			}
			if ev.TS.After(w.expires) {
				delete(windows, ev.UserID)
				continue
			}
			if len(w.items) == 0 {
				successes[w.variant]++
				delete(windows, ev.UserID)
				continue
			}
			if _, hit := w.items[ev.ItemID]; hit {
				successes[w.variant]++
				delete(windows, ev.UserID)
			}
		}
	}

	test := stats.TwoProportionTest(
		successes[event.VariantControl], exposures[event.VariantControl],
		successes[event.VariantTreatment], exposures[event.VariantTreatment],
		e.alpha)

	summary := Summary{
		ExperimentID: ExperimentID,
		WindowHours:  windowHours,
		Variants:     map[event.Variant]VariantSummary{},
		Stats:        test,
		Partial:      res.Partial,
	}
	for _, v := range []event.Variant{event.VariantControl, event.VariantTreatment} {
		vs := VariantSummary{
			Exposures: exposures[v],
			Successes: successes[v],
			Version:   e.servingVersion(ctx, v),
		}
		if vs.Exposures > 0 {
			vs.ConversionRate = float64(vs.Successes) / float64(vs.Exposures)
		}
		summary.Variants[v] = vs
	}
	if res.Partial {
		e.log.Warn("experiment scan truncated by row cap",
			zap.Int("windowHours", windowHours))
	}
	return summary, nil
}

// servingVersion annotates an arm with the version it currently serves.
// Registry failures degrade to an empty version rather than failing the
// summary.
func (e *Engine) servingVersion(ctx context.Context, v event.Variant) string {
	version, err := e.reg.GetServingVersion(ctx, v)
	if err != nil {
		e.log.Warn("serving version lookup failed",
			zap.String("variant", string(v)), zap.Error(err))
		return ""
	}
	return version
}

// ValidateID checks the experiment id of an incoming summary request.
func ValidateID(id string) error {
	if id != ExperimentID {
		return fmt.Errorf("%w: experiment %s", recerr.ErrNotFound, id)
	}
	return nil
}
