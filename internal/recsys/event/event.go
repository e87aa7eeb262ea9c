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

// Package event defines the raw behavioral event, the atom every other
// component consumes. Payloads arrive as loose JSON from the bus; this
// package normalizes them at the boundary so the core only ever sees one
// shape. In particular, recommend payload items may be plain strings or
// {"itemId": "..."} objects on the wire and are folded into []string here.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"recsys/internal/recsys/recerr"
)

// Type discriminates the raw-event union.
type Type string

const (
	TypeRecommend Type = "recommend"
	TypePlay      Type = "play"
	TypeView      Type = "view"
	TypeSkip      Type = "skip"
)

// KnownType reports whether t is one of the accepted event types.
func KnownType(t Type) bool {
	switch t {
	case TypeRecommend, TypePlay, TypeView, TypeSkip:
		return true
	}
	return false
}

// IsInteraction reports whether t counts toward attribution and feedback
// analysis. Skips are stored but never credited.
func (t Type) IsInteraction() bool {
	return t == TypePlay || t == TypeView
}

// Variant is the A/B bucket a user belongs to.
type Variant string

const (
	VariantControl   Variant = "control"
	VariantTreatment Variant = "treatment"
)

// Event is a single normalized raw event. Items is populated only for
// recommend events; Variant, RequestID, ModelVersion and Limit are the
// optional recommend provenance fields. Payload retains any extra fields
// verbatim for passthrough.
type Event struct {
	Type   Type      `json:"type"`
	UserID string    `json:"userId"`
	ItemID string    `json:"itemId,omitempty"`
	TS     time.Time `json:"ts"`

	Items        []string `json:"items,omitempty"`
	Variant      Variant  `json:"variant,omitempty"`
	RequestID    string   `json:"requestId,omitempty"`
	ModelVersion string   `json:"modelVersion,omitempty"`
	Limit        int      `json:"limit,omitempty"`

	Payload map[string]json.RawMessage `json:"payload,omitempty"`
}

// wireEvent matches the bus message layout, with the dynamic payload kept
// raw until validated.
type wireEvent struct {
	Type    Type                       `json:"type"`
	UserID  string                     `json:"userId"`
	ItemID  string                     `json:"itemId"`
	TS      json.RawMessage            `json:"ts"`
	Payload map[string]json.RawMessage `json:"payload"`
}

// Decode parses and validates a raw bus message into an Event. Violations
// of the schema return an error wrapping recerr.ErrValidation with a reason
// suitable for the dead-letter record.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: malformed JSON: %v", recerr.ErrValidation, err)
	}
	if w.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", recerr.ErrValidation)
	}
	if !KnownType(w.Type) {
		return Event{}, fmt.Errorf("%w: unknown type %q", recerr.ErrValidation, w.Type)
	}
	if w.UserID == "" {
		return Event{}, fmt.Errorf("%w: missing userId", recerr.ErrValidation)
	}
	ts, err := parseTS(w.TS)
	if err != nil {
		return Event{}, fmt.Errorf("%w: bad ts: %v", recerr.ErrValidation, err)
	}

	ev := Event{
		Type:    w.Type,
		UserID:  w.UserID,
		ItemID:  w.ItemID,
		TS:      ts,
		Payload: w.Payload,
	}
	if err := normalizePayload(&ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// parseTS accepts an RFC 3339 string or a Unix epoch in milliseconds.
func parseTS(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("missing ts")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
		return t, nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("ts must be RFC3339 or epoch millis")
}

// normalizePayload lifts the typed fields out of the dynamic payload map.
// Recommend events must carry items; play/view events must carry an itemId
// either top-level or in the payload.
func normalizePayload(ev *Event) error {
	p := ev.Payload
	if p != nil {
		if raw, ok := p["itemId"]; ok && ev.ItemID == "" {
			_ = json.Unmarshal(raw, &ev.ItemID)
		}
		if raw, ok := p["variant"]; ok {
			var v string
			_ = json.Unmarshal(raw, &v)
			ev.Variant = Variant(v)
		}
		if raw, ok := p["requestId"]; ok {
			_ = json.Unmarshal(raw, &ev.RequestID)
		}
		if raw, ok := p["modelVersion"]; ok {
			_ = json.Unmarshal(raw, &ev.ModelVersion)
		}
		if raw, ok := p["limit"]; ok {
			_ = json.Unmarshal(raw, &ev.Limit)
		}
	}

	switch ev.Type {
	case TypeRecommend:
		raw, ok := p["items"]
		if !ok {
			return fmt.Errorf("%w: recommend payload missing items", recerr.ErrValidation)
		}
		items, err := NormalizeItems(raw)
		if err != nil {
			return err
		}
		ev.Items = items
	case TypePlay, TypeView:
		if ev.ItemID == "" {
			return fmt.Errorf("%w: %s payload missing itemId", recerr.ErrValidation, ev.Type)
		}
	}
	return nil
}

// itemRef is the object form an items entry may take on the wire.
type itemRef struct {
	ItemID string `json:"itemId"`
}

// NormalizeItems folds a raw items list, whose entries are strings or
// {itemId} objects, into a []string. Entries that are neither are rejected;
// empty ids are dropped.
func NormalizeItems(raw json.RawMessage) ([]string, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: items must be an array: %v", recerr.ErrValidation, err)
	}
	items := make([]string, 0, len(entries))
	for i, e := range entries {
		var s string
		if err := json.Unmarshal(e, &s); err == nil {
			if s != "" {
				items = append(items, s)
			}
			continue
		}
		var ref itemRef
		if err := json.Unmarshal(e, &ref); err == nil {
			if ref.ItemID != "" {
				items = append(items, ref.ItemID)
			}
			continue
		}
		return nil, fmt.Errorf("%w: items[%d] is neither a string nor {itemId}", recerr.ErrValidation, i)
	}
	return items, nil
}
