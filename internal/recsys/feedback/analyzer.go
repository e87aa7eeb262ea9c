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

// Package feedback detects recommendation feedback loops: items the system
// recommends, users interact with, and the system then recommends again.
// It also measures interaction amplification around the first recommendation
// and flags anomalies (short cycles, extreme amplification, exposure
// concentration).
package feedback

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"recsys/internal/recsys/event"
	"recsys/internal/recsys/recerr"
	"recsys/internal/recsys/store"
)

const (
	// MaxWindowHours caps a feedback scan (30 days).
	MaxWindowHours = 720

	// shortCycle is the loop duration below which a loop is anomalous.
	shortCycle = time.Hour
	// extremeAmplification is the finite before/after ratio threshold.
	extremeAmplification = 10.0
	// concentrationShare flags the top-10 items when they carry more than
	// this share of recommendation slots.
	concentrationShare = 0.5

	SummaryAnomalies   = "anomalies_detected"
	SummaryNoAnomalies = "no_anomalies"

	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Loop is one detected rec -> interact -> rec cycle for an item.
type Loop struct {
	ItemID            string    `json:"itemId"`
	FirstRecommended  time.Time `json:"firstRecommended"`
	FirstInteracted   time.Time `json:"firstInteracted"`
	SecondRecommended time.Time `json:"secondRecommended"`
	CycleTimeHours    float64   `json:"cycleTimeHours"`
}

// LoopReport aggregates detected loops.
type LoopReport struct {
	FeedbackLoops     int     `json:"feedbackLoops"`
	AvgCycleTimeHours float64 `json:"avgCycleTimeHours"`
	Loops             []Loop  `json:"loops,omitempty"`
}

// Amplification is one item's interaction ratio around its first
// recommendation. Infinite marks before=0 with after>0; Ratio is then 0
// because JSON cannot carry infinity.
type Amplification struct {
	ItemID   string  `json:"itemId"`
	Before   int64   `json:"before"`
	After    int64   `json:"after"`
	Ratio    float64 `json:"ratio"`
	Infinite bool    `json:"infinite,omitempty"`
}

// AmplificationReport aggregates per-item amplification.
type AmplificationReport struct {
	MeanFiniteRatio float64         `json:"meanFiniteRatio"`
	TopItems        []Amplification `json:"topItems,omitempty"`
}

// Anomaly is one flagged condition.
type Anomaly struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	ItemID   string `json:"itemId,omitempty"`
	Detail   string `json:"detail"`
}

// AnomalyReport carries the flags and the roll-up summary.
type AnomalyReport struct {
	Summary   string    `json:"summary"`
	Anomalies []Anomaly `json:"anomalies"`
}

// Report is the full feedback-loop analysis.
type Report struct {
	WindowHours   int                 `json:"windowHours"`
	Loops         LoopReport          `json:"loops"`
	Amplification AmplificationReport `json:"amplification"`
	Anomalies     AnomalyReport       `json:"anomalies"`
	Partial       bool                `json:"partial,omitempty"`
}

// Analyzer scans the event store on demand; it holds no state between calls.
type Analyzer struct {
	events store.EventStore
	log    *zap.Logger
	now    func() time.Time
}

// NewAnalyzer wires a feedback-loop analyzer.
func NewAnalyzer(events store.EventStore, log *zap.Logger) *Analyzer {
	return &Analyzer{events: events, log: log, now: time.Now}
}

// itemState tracks one item's loop lifecycle during the ascending scan.
// secondRecommended is only eligible once firstInteracted is set; a repeat
// recommendation with no interleaved interaction does not close a loop.
type itemState struct {
	firstRecommended  time.Time
	firstInteracted   time.Time
	secondRecommended time.Time
	hasRec            bool
	hasInteract       bool
	hasSecond         bool

	interactBefore int64
	interactAfter  int64
	recSlots       int64
}

// Analyze scans the trailing window for loops, amplification, and anomalies.
func (a *Analyzer) Analyze(ctx context.Context, windowHours int) (Report, error) {
	if windowHours <= 0 || windowHours > MaxWindowHours {
		return Report{}, fmt.Errorf("%w: windowHours must be in (0, %d]", recerr.ErrRangeTooLarge, MaxWindowHours)
	}
	nowTS := a.now()
	from := nowTS.Add(-time.Duration(windowHours) * time.Hour)

	res, err := a.events.Range(ctx, from, nowTS, store.Filter{
		Types: []event.Type{event.TypeRecommend, event.TypePlay, event.TypeView},
	})
	if err != nil {
		return Report{}, fmt.Errorf("feedback scan: %w", err)
	}
	if res.Partial {
		a.log.Warn("feedback scan truncated by row cap",
			zap.Int("windowHours", windowHours))
	}

	states := map[string]*itemState{}
	var totalRecSlots int64
	itemAt := func(id string) *itemState {
		s, ok := states[id]
		if !ok {
			s = &itemState{}
			states[id] = s
		}
		return s
	}

	for _, ev := range res.Events {
		switch ev.Type {
		case event.TypeRecommend:
			for _, id := range ev.Items {
				s := itemAt(id)
				s.recSlots++
				totalRecSlots++
				switch {
				case !s.hasRec:
					s.firstRecommended = ev.TS
					s.hasRec = true
				case s.hasInteract && !s.hasSecond:
					s.secondRecommended = ev.TS
					s.hasSecond = true
				}
			}
		case event.TypePlay, event.TypeView:
			if ev.ItemID == "" {
				continue
			}
			s := itemAt(ev.ItemID)
			if !s.hasRec {
				s.interactBefore++
				continue
			}
			s.interactAfter++
			if !s.hasInteract {
				s.firstInteracted = ev.TS
				s.hasInteract = true
			}
		}
	}

	rep := Report{WindowHours: windowHours, Partial: res.Partial}
	rep.Loops = buildLoopReport(states)
	rep.Amplification = buildAmplificationReport(states)
	rep.Anomalies = buildAnomalyReport(rep.Loops, states, totalRecSlots)
	return rep, nil
}

func buildLoopReport(states map[string]*itemState) LoopReport {
	var rep LoopReport
	var cycleSum float64
	for id, s := range states {
		if !s.hasSecond {
			continue
		}
		cycle := s.secondRecommended.Sub(s.firstRecommended)
		hours := cycle.Hours()
		rep.Loops = append(rep.Loops, Loop{
			ItemID:            id,
			FirstRecommended:  s.firstRecommended,
			FirstInteracted:   s.firstInteracted,
			SecondRecommended: s.secondRecommended,
			CycleTimeHours:    hours,
		})
		cycleSum += hours
	}
	rep.FeedbackLoops = len(rep.Loops)
	if rep.FeedbackLoops > 0 {
		rep.AvgCycleTimeHours = cycleSum / float64(rep.FeedbackLoops)
	}
	sort.Slice(rep.Loops, func(i, j int) bool {
		if rep.Loops[i].CycleTimeHours != rep.Loops[j].CycleTimeHours {
			return rep.Loops[i].CycleTimeHours < rep.Loops[j].CycleTimeHours
		}
		return rep.Loops[i].ItemID < rep.Loops[j].ItemID
	})
	if len(rep.Loops) > 20 {
		rep.Loops = rep.Loops[:20]
	}
	return rep
}

func buildAmplificationReport(states map[string]*itemState) AmplificationReport {
	var rep AmplificationReport
	var finiteSum float64
	var finiteN int64
	all := make([]Amplification, 0, len(states))
	for id, s := range states {
		if s.interactBefore == 0 && s.interactAfter == 0 {
			continue
		}
		amp := Amplification{ItemID: id, Before: s.interactBefore, After: s.interactAfter}
		if s.interactBefore == 0 {
			amp.Infinite = true
		} else {
			amp.Ratio = float64(s.interactAfter) / float64(s.interactBefore)
			finiteSum += amp.Ratio
			finiteN++
		}
		all = append(all, amp)
	}
	if finiteN > 0 {
		rep.MeanFiniteRatio = finiteSum / float64(finiteN)
	}
	// Infinite ratios rank above every finite one.
	sort.Slice(all, func(i, j int) bool {
		if all[i].Infinite != all[j].Infinite {
			return all[i].Infinite
		}
		if all[i].Ratio != all[j].Ratio {
			return all[i].Ratio > all[j].Ratio
		}
		return all[i].ItemID < all[j].ItemID
	})
	if len(all) > 10 {
		all = all[:10]
	}
	rep.TopItems = all
	return rep
}

func buildAnomalyReport(loops LoopReport, states map[string]*itemState, totalRecSlots int64) AnomalyReport {
	anomalies := []Anomaly{}

	for _, l := range loops.Loops {
		if l.CycleTimeHours < shortCycle.Hours() {
			anomalies = append(anomalies, Anomaly{
				Type:     "short_feedback_cycle",
				Severity: SeverityHigh,
				ItemID:   l.ItemID,
				Detail:   fmt.Sprintf("loop closed in %.4f hours", l.CycleTimeHours),
			})
		}
	}

	// Scan every item, not just the reported top-10: a finite offender can
	// be pushed out of the list by infinite ratios.
	extreme := make([]Amplification, 0)
	for id, s := range states {
		if s.interactBefore == 0 {
			continue
		}
		if r := float64(s.interactAfter) / float64(s.interactBefore); r > extremeAmplification {
			extreme = append(extreme, Amplification{ItemID: id, Ratio: r})
		}
	}
	sort.Slice(extreme, func(i, j int) bool {
		if extreme[i].Ratio != extreme[j].Ratio {
			return extreme[i].Ratio > extreme[j].Ratio
		}
		return extreme[i].ItemID < extreme[j].ItemID
	})
	for _, it := range extreme {
		anomalies = append(anomalies, Anomaly{
			Type:     "extreme_amplification",
			Severity: SeverityMedium,
			ItemID:   it.ItemID,
			Detail:   fmt.Sprintf("interaction ratio %.2f after first recommendation", it.Ratio),
		})
	}

	// Concentration only means something once the catalog in-window is
	// bigger than the top-10 itself.
	if len(states) > 10 && totalRecSlots > 0 {
		slots := make([]int64, 0, len(states))
		for _, s := range states {
			if s.recSlots > 0 {
				slots = append(slots, s.recSlots)
			}
		}
		sort.Slice(slots, func(i, j int) bool { return slots[i] > slots[j] })
		var top int64
		for i := 0; i < len(slots) && i < 10; i++ {
			top += slots[i]
		}
		if share := float64(top) / float64(totalRecSlots); share > concentrationShare {
			anomalies = append(anomalies, Anomaly{
				Type:     "high_concentration",
				Severity: SeverityMedium,
				Detail:   fmt.Sprintf("top-10 items carry %.0f%% of recommendation slots", share*100),
			})
		}
	}

	rep := AnomalyReport{Summary: SummaryNoAnomalies, Anomalies: anomalies}
	if len(anomalies) > 0 {
		rep.Summary = SummaryAnomalies
	}
	return rep
}
