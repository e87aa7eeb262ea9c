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

// Package fairness analyzes exposure equity over recommend events: per-item
// exposure shares, Gini concentration, intra-list diversity, coverage, and
// Shannon entropy, plus the control/treatment comparison.
//
// A note on the diversity metric: single-item lists score 0 rather than
// being skipped, matching the historical behavior; it biases the mean
// downward when one-item recommendations are common.
package fairness

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recsys/internal/recsys/event"
	"recsys/internal/recsys/recerr"
	"recsys/internal/recsys/store"
	"recsys/pkg/stats"
)

const (
	// MaxExposureWindowHours caps a raw exposure scan (30 days).
	MaxExposureWindowHours = 720
	// MaxComparisonWindowHours caps the full two-variant comparison (7 days).
	MaxComparisonWindowHours = 168
	// cacheTTL bounds staleness of per-process cached reports.
	cacheTTL = 5 * time.Minute

	// fairnessThreshold separates "fair"/"similar" from "unfair"/"different"
	// when comparing the two arms.
	fairnessThreshold = 0.1
)

// ItemShare is one item's slice of total exposure.
type ItemShare struct {
	ItemID string  `json:"itemId"`
	Count  int64   `json:"count"`
	Share  float64 `json:"share"`
}

// ExposureReport is the per-variant (or global) fairness profile.
type ExposureReport struct {
	Variant        event.Variant `json:"variant,omitempty"`
	WindowHours    int           `json:"windowHours"`
	RecEvents      int64         `json:"recEvents"`
	TotalExposures int64         `json:"totalExposures"`
	Coverage       int           `json:"coverage"`
	Gini           float64       `json:"gini"`
	Entropy        float64       `json:"entropy"`
	MeanDiversity  float64       `json:"meanDiversity"`
	TopItems       []ItemShare   `json:"topItems"`
	Partial        bool          `json:"partial,omitempty"`
}

// Comparison summarizes the two arms against each other.
type Comparison struct {
	ExposureFairness    string  `json:"exposureFairness"`
	DiversityComparison string  `json:"diversityComparison"`
	GiniDelta           float64 `json:"giniDelta"`
	DiversityDelta      float64 `json:"diversityDelta"`
}

// Report is the full fairness evaluation across both variants.
type Report struct {
	WindowHours int            `json:"windowHours"`
	Control     ExposureReport `json:"control"`
	Treatment   ExposureReport `json:"treatment"`
	Summary     Comparison     `json:"summary"`
	Partial     bool           `json:"partial,omitempty"`
}

// Analyzer computes fairness reports with a small per-process TTL cache.
// Construct once at startup; the cache needs no background sweeper because
// TTL is enforced on read.
type Analyzer struct {
	events store.EventStore
	log    *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	windowHours int
	variant     event.Variant
}

type cacheEntry struct {
	report   ExposureReport
	storedAt time.Time
}

// NewAnalyzer wires a fairness analyzer.
func NewAnalyzer(events store.EventStore, log *zap.Logger) *Analyzer {
	return &Analyzer{
		events: events,
		log:    log,
		now:    time.Now,
		cache:  make(map[cacheKey]cacheEntry),
	}
}

// AnalyzeExposure computes the exposure profile of one variant (or of all
// traffic when variant is empty) over the trailing window. Results are
// cached per (windowHours, variant) for five minutes.
func (a *Analyzer) AnalyzeExposure(ctx context.Context, windowHours int, variant event.Variant) (ExposureReport, error) {
	if windowHours <= 0 || windowHours > MaxExposureWindowHours {
		return ExposureReport{}, fmt.Errorf("%w: windowHours must be in (0, %d]", recerr.ErrRangeTooLarge, MaxExposureWindowHours)
	}
	key := cacheKey{windowHours: windowHours, variant: variant}
	if rep, ok := a.cached(key); ok {
		return rep, nil
	}

	nowTS := a.now()
	from := nowTS.Add(-time.Duration(windowHours) * time.Hour)
	res, err := a.events.Range(ctx, from, nowTS, store.Filter{
		Types:   []event.Type{event.TypeRecommend},
		Variant: variant,
	})
	if err != nil {
		return ExposureReport{}, fmt.Errorf("exposure scan: %w", err)
	}

	rep := buildExposureReport(res.Events, windowHours, variant)
	rep.Partial = res.Partial

	a.mu.Lock()
	a.cache[key] = cacheEntry{report: rep, storedAt: nowTS}
	a.mu.Unlock()
	return rep, nil
}

func (a *Analyzer) cached(key cacheKey) (ExposureReport, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.cache[key]
	if !ok {
		return ExposureReport{}, false
	}
	if a.now().Sub(e.storedAt) > cacheTTL {
		delete(a.cache, key)
		return ExposureReport{}, false
	}
	return e.report, true
}

// buildExposureReport folds recommend events into the fairness metrics.
// An exposure is one item slot in one recommend event.
func buildExposureReport(events []event.Event, windowHours int, variant event.Variant) ExposureReport {
	rep := ExposureReport{Variant: variant, WindowHours: windowHours}

	counts := map[string]int64{}
	var diversitySum float64
	var diversityN int64
	for _, ev := range events {
		rep.RecEvents++
		k := len(ev.Items)
		for _, it := range ev.Items {
			counts[it]++
			rep.TotalExposures++
		}
		switch {
		case k == 0:
			// No items: skipped entirely.
		case k == 1:
			diversitySum += 0
			diversityN++
		default:
			distinct := map[string]struct{}{}
			for _, it := range ev.Items {
				distinct[it] = struct{}{}
			}
			diversitySum += float64(len(distinct)) / float64(k)
			diversityN++
		}
	}
	rep.Coverage = len(counts)
	if diversityN > 0 {
		rep.MeanDiversity = diversitySum / float64(diversityN)
	}

	if rep.TotalExposures > 0 {
		shares := make([]float64, 0, len(counts))
		countList := make([]int64, 0, len(counts))
		items := make([]ItemShare, 0, len(counts))
		for id, c := range counts {
			share := float64(c) / float64(rep.TotalExposures)
			shares = append(shares, share)
			countList = append(countList, c)
			items = append(items, ItemShare{ItemID: id, Count: c, Share: share})
		}
		rep.Gini = stats.Gini(shares)
		rep.Entropy = stats.Entropy(countList)
		sort.Slice(items, func(i, j int) bool {
			if items[i].Count != items[j].Count {
				return items[i].Count > items[j].Count
			}
			return items[i].ItemID < items[j].ItemID
		})
		if len(items) > 20 {
			items = items[:20]
		}
		rep.TopItems = items
	}
	return rep
}

// Evaluate runs the full two-variant comparison. The scans run in parallel;
// a failure on one side degrades to zeroed data for that side and the
// report still returns (partial-failure semantics).
func (a *Analyzer) Evaluate(ctx context.Context, windowHours int) (Report, error) {
	if windowHours <= 0 || windowHours > MaxComparisonWindowHours {
		return Report{}, fmt.Errorf("%w: windowHours must be in (0, %d]", recerr.ErrRangeTooLarge, MaxComparisonWindowHours)
	}

	var control, treatment ExposureReport
	var controlErr, treatmentErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		control, controlErr = a.AnalyzeExposure(gctx, windowHours, event.VariantControl)
		return nil
	})
	g.Go(func() error {
		treatment, treatmentErr = a.AnalyzeExposure(gctx, windowHours, event.VariantTreatment)
		return nil
	})
	_ = g.Wait()

	rep := Report{WindowHours: windowHours}
	if controlErr != nil {
		a.log.Warn("control fairness scan failed, zero-filling", zap.Error(controlErr))
		control = ExposureReport{Variant: event.VariantControl, WindowHours: windowHours}
		rep.Partial = true
	}
	if treatmentErr != nil {
		a.log.Warn("treatment fairness scan failed, zero-filling", zap.Error(treatmentErr))
		treatment = ExposureReport{Variant: event.VariantTreatment, WindowHours: windowHours}
		rep.Partial = true
	}
	rep.Control = control
	rep.Treatment = treatment

	giniDelta := math.Abs(control.Gini - treatment.Gini)
	diversityDelta := math.Abs(control.MeanDiversity - treatment.MeanDiversity)
	rep.Summary = Comparison{
		GiniDelta:      giniDelta,
		DiversityDelta: diversityDelta,
	}
	if giniDelta < fairnessThreshold {
		rep.Summary.ExposureFairness = "fair"
	} else {
		rep.Summary.ExposureFairness = "unfair"
	}
	if diversityDelta < fairnessThreshold {
		rep.Summary.DiversityComparison = "similar"
	} else {
		rep.Summary.DiversityComparison = "different"
	}
	return rep, nil
}
