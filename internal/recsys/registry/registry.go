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

// Package registry is the model registry and trace store: versioned model
// artifacts with full provenance, the serving-state singleton that binds A/B
// variants to artifact versions, and per-request prediction traces. The
// canonical store is a key-document database; serving and experimentation
// hold only version strings and dereference through this package on each
// read.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"recsys/internal/recsys/event"
	"recsys/internal/recsys/recerr"
)

// Status is an artifact's position in the serving lifecycle.
type Status string

const (
	StatusStaging  Status = "staging"
	StatusActive   Status = "active"
	StatusShadow   Status = "shadow"
	StatusArchived Status = "archived"
)

// Target selects which serving binding a switch applies to.
type Target string

const (
	TargetAll       Target = "all"
	TargetControl   Target = "control"
	TargetTreatment Target = "treatment"
)

// ServingStateKey is the id of the serving-state singleton document.
const ServingStateKey = "model-serving-state"

// Artifact is one versioned model with its provenance. Counts is the scoring
// table produced by training: itemId to popularity score.
type Artifact struct {
	Version              string             `json:"version"`
	Status               Status             `json:"status"`
	Counts               map[string]float64 `json:"counts"`
	TrainedAt            time.Time          `json:"trainedAt"`
	Metrics              map[string]float64 `json:"metrics,omitempty"`
	DataSnapshotID       string             `json:"dataSnapshotId,omitempty"`
	PipelineGitSha       string             `json:"pipelineGitSha,omitempty"`
	ContainerImageDigest string             `json:"containerImageDigest,omitempty"`
	ArtifactURI          string             `json:"artifactUri,omitempty"`
}

// ServingState is the singleton binding variants to versions. Variants is
// the source of truth for lookups; DefaultVersion is the fallback when a
// variant entry is absent.
type ServingState struct {
	DefaultVersion string                   `json:"defaultVersion,omitempty"`
	Variants       map[event.Variant]string `json:"variants"`
	UpdatedAt      time.Time                `json:"updatedAt"`
}

// ScoredItem is a single ranked recommendation.
type ScoredItem struct {
	ItemID string  `json:"itemId"`
	Score  float64 `json:"score"`
}

// Trace is the idempotently-stored provenance record of one prediction.
// RequestID is the unique key; re-serving the same id overwrites.
type Trace struct {
	RequestID            string         `json:"requestId"`
	UserID               string         `json:"userId"`
	Variant              event.Variant  `json:"variant"`
	ModelVersion         string         `json:"modelVersion"`
	DataSnapshotID       string         `json:"dataSnapshotId,omitempty"`
	PipelineGitSha       string         `json:"pipelineGitSha,omitempty"`
	ContainerImageDigest string         `json:"containerImageDigest,omitempty"`
	Recommendations      []ScoredItem   `json:"recommendations"`
	LatencyMs            float64        `json:"latencyMs"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
}

// Registry is the store interface serving, experimentation and the control
// plane read through.
type Registry interface {
	PutArtifact(ctx context.Context, a Artifact) error
	GetArtifact(ctx context.Context, version string) (Artifact, error)
	ListArtifacts(ctx context.Context) ([]Artifact, error)
	GetServingState(ctx context.Context) (ServingState, error)
	SetServingVersion(ctx context.Context, version string, target Target) (ServingState, error)
	GetServingVersion(ctx context.Context, variant event.Variant) (string, error)
	GetServingModel(ctx context.Context, variant event.Variant) (Artifact, error)
	ComputeNextVersion(ctx context.Context, bump string) (string, error)
	PutTrace(ctx context.Context, tr Trace) error
	GetTrace(ctx context.Context, requestID string) (Trace, error)
	Ping(ctx context.Context) error
}

// ParseVersion splits a "major.minor.patch" version string.
func ParseVersion(v string) (major, minor, patch int, err error) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: version %q is not major.minor.patch", recerr.ErrValidation, v)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("%w: version %q has non-numeric component %q", recerr.ErrValidation, v, p)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

// CompareVersions orders two semver-like versions: -1, 0 or +1. Unparseable
// versions sort lowest so they never win a "newest" scan.
func CompareVersions(a, b string) int {
	am, an, ap, aerr := ParseVersion(a)
	bm, bn, bp, berr := ParseVersion(b)
	if aerr != nil && berr != nil {
		return strings.Compare(a, b)
	}
	if aerr != nil {
		return -1
	}
	if berr != nil {
		return 1
	}
	for _, d := range []int{am - bm, an - bn, ap - bp} {
		if d < 0 {
			return -1
		}
		if d > 0 {
			return 1
		}
	}
	return 0
}

// BumpVersion increments v by the requested bump kind. Empty or unknown bump
// means minor. The zero starting point "0.0.0" bumps to "0.0.1" so the first
// registered model is always 0.0.1 regardless of bump kind.
func BumpVersion(v, bump string) (string, error) {
	major, minor, patch, err := ParseVersion(v)
	if err != nil {
		return "", err
	}
	if major == 0 && minor == 0 && patch == 0 {
		return "0.0.1", nil
	}
	switch bump {
	case "major":
		return fmt.Sprintf("%d.0.0", major+1), nil
	case "patch":
		return fmt.Sprintf("%d.%d.%d", major, minor, patch+1), nil
	default: // minor
		return fmt.Sprintf("%d.%d.0", major, minor+1), nil
	}
}

// ParseTarget validates a switch target string.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetAll, TargetControl, TargetTreatment:
		return Target(s), nil
	}
	return "", fmt.Errorf("%w: %q", recerr.ErrInvalidTarget, s)
}
