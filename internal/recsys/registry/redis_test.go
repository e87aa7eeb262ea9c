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

package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"recsys/internal/recsys/event"
	"recsys/internal/recsys/recerr"
)

func newTestRegistry(t *testing.T) *RedisRegistry {
	t.Helper()
	m := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: m.Addr()})
	r := NewRedisRegistryFromClient(c)
	t.Cleanup(func() { r.Close() })
	return r
}

func mustPut(t *testing.T, r *RedisRegistry, version string, status Status) {
	t.Helper()
	require.NoError(t, r.PutArtifact(context.Background(), Artifact{
		Version:   version,
		Status:    status,
		Counts:    map[string]float64{"item1": 10, "item2": 5},
		TrainedAt: time.Now().UTC(),
	}))
}

func TestPutArtifactRejectsDuplicateVersion(t *testing.T) {
	r := newTestRegistry(t)
	mustPut(t, r, "1.0.0", StatusStaging)
	err := r.PutArtifact(context.Background(), Artifact{Version: "1.0.0", Counts: map[string]float64{"x": 1}})
	require.Error(t, err)
	require.True(t, errors.Is(err, recerr.ErrValidation))
}

func TestSetServingVersionAll(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	mustPut(t, r, "1.0.0", StatusActive)
	mustPut(t, r, "1.1.0", StatusShadow)
	mustPut(t, r, "2.0.0", StatusStaging)

	st, err := r.SetServingVersion(ctx, "2.0.0", TargetAll)
	require.NoError(t, err)
	require.Equal(t, "2.0.0", st.DefaultVersion)
	require.Equal(t, "2.0.0", st.Variants[event.VariantControl])
	require.Equal(t, "2.0.0", st.Variants[event.VariantTreatment])
	require.False(t, st.UpdatedAt.IsZero())

	// Previous active and shadow artifacts are archived; the chosen one is
	// the single active artifact.
	arts, err := r.ListArtifacts(ctx)
	require.NoError(t, err)
	statuses := map[string]Status{}
	for _, a := range arts {
		statuses[a.Version] = a.Status
	}
	require.Equal(t, StatusArchived, statuses["1.0.0"])
	require.Equal(t, StatusArchived, statuses["1.1.0"])
	require.Equal(t, StatusActive, statuses["2.0.0"])
}

func TestSetServingVersionTreatmentShadow(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	mustPut(t, r, "1.0.0", StatusStaging)
	mustPut(t, r, "2.0.0", StatusStaging)

	_, err := r.SetServingVersion(ctx, "1.0.0", TargetAll)
	require.NoError(t, err)

	st, err := r.SetServingVersion(ctx, "2.0.0", TargetTreatment)
	require.NoError(t, err)
	require.Equal(t, "1.0.0", st.DefaultVersion)
	require.Equal(t, "1.0.0", st.Variants[event.VariantControl])
	require.Equal(t, "2.0.0", st.Variants[event.VariantTreatment])

	v1, err := r.GetArtifact(ctx, "1.0.0")
	require.NoError(t, err)
	require.Equal(t, StatusActive, v1.Status)
	v2, err := r.GetArtifact(ctx, "2.0.0")
	require.NoError(t, err)
	require.Equal(t, StatusShadow, v2.Status)
}

func TestSetServingVersionTreatmentReplacesShadow(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	mustPut(t, r, "0.1.0", StatusStaging)
	mustPut(t, r, "0.2.0", StatusStaging)
	mustPut(t, r, "0.3.0", StatusStaging)

	_, err := r.SetServingVersion(ctx, "0.1.0", TargetAll)
	require.NoError(t, err)
	_, err = r.SetServingVersion(ctx, "0.2.0", TargetTreatment)
	require.NoError(t, err)
	st, err := r.SetServingVersion(ctx, "0.3.0", TargetTreatment)
	require.NoError(t, err)
	require.Equal(t, "0.3.0", st.Variants[event.VariantTreatment])

	// Only the latest treatment binding stays shadow; the replaced one is
	// archived and the active artifact is untouched.
	arts, err := r.ListArtifacts(ctx)
	require.NoError(t, err)
	statuses := map[string]Status{}
	shadows := 0
	for _, a := range arts {
		statuses[a.Version] = a.Status
		if a.Status == StatusShadow {
			shadows++
		}
	}
	require.Equal(t, 1, shadows)
	require.Equal(t, StatusActive, statuses["0.1.0"])
	require.Equal(t, StatusArchived, statuses["0.2.0"])
	require.Equal(t, StatusShadow, statuses["0.3.0"])
}

func TestSetServingVersionControlArchivesActive(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	mustPut(t, r, "1.0.0", StatusStaging)
	mustPut(t, r, "2.0.0", StatusStaging)
	_, err := r.SetServingVersion(ctx, "1.0.0", TargetAll)
	require.NoError(t, err)

	st, err := r.SetServingVersion(ctx, "2.0.0", TargetControl)
	require.NoError(t, err)
	require.Equal(t, "2.0.0", st.DefaultVersion)
	require.Equal(t, "2.0.0", st.Variants[event.VariantControl])
	// Treatment binding is untouched.
	require.Equal(t, "1.0.0", st.Variants[event.VariantTreatment])

	v1, err := r.GetArtifact(ctx, "1.0.0")
	require.NoError(t, err)
	require.Equal(t, StatusArchived, v1.Status)
}

func TestSetServingVersionErrors(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	mustPut(t, r, "1.0.0", StatusStaging)

	_, err := r.SetServingVersion(ctx, "1.0.0", Target("canary"))
	require.True(t, errors.Is(err, recerr.ErrInvalidTarget))

	_, err = r.SetServingVersion(ctx, "9.9.9", TargetAll)
	require.True(t, errors.Is(err, recerr.ErrNotFound))
}

func TestGetServingVersionFallbackChain(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	// Empty registry: no version at all.
	v, err := r.GetServingVersion(ctx, event.VariantControl)
	require.NoError(t, err)
	require.Empty(t, v)

	// Newest artifact wins when nothing is active or bound.
	mustPut(t, r, "1.0.0", StatusStaging)
	mustPut(t, r, "1.2.0", StatusStaging)
	v, err = r.GetServingVersion(ctx, event.VariantControl)
	require.NoError(t, err)
	require.Equal(t, "1.2.0", v)

	// Latest active beats newest.
	mustPut(t, r, "1.1.0", StatusActive)
	v, err = r.GetServingVersion(ctx, event.VariantControl)
	require.NoError(t, err)
	require.Equal(t, "1.1.0", v)

	// Variant binding beats everything.
	_, err = r.SetServingVersion(ctx, "1.2.0", TargetControl)
	require.NoError(t, err)
	v, err = r.GetServingVersion(ctx, event.VariantControl)
	require.NoError(t, err)
	require.Equal(t, "1.2.0", v)

	// Unbound variant falls back to defaultVersion.
	v, err = r.GetServingVersion(ctx, event.VariantTreatment)
	require.NoError(t, err)
	require.Equal(t, "1.2.0", v)
}

func TestComputeNextVersion(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	// Empty registry starts the sequence.
	v, err := r.ComputeNextVersion(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "0.0.1", v)

	mustPut(t, r, "1.2.3", StatusStaging)
	v, err = r.ComputeNextVersion(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "1.3.0", v)
	v, err = r.ComputeNextVersion(ctx, "patch")
	require.NoError(t, err)
	require.Equal(t, "1.2.4", v)
	v, err = r.ComputeNextVersion(ctx, "major")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", v)
}

func TestComputeNextVersionMonotone(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	prev := "0.0.0"
	for i := 0; i < 5; i++ {
		next, err := r.ComputeNextVersion(ctx, "minor")
		require.NoError(t, err)
		require.Equal(t, 1, CompareVersions(next, prev), "expected %s > %s", next, prev)
		mustPut(t, r, next, StatusStaging)
		prev = next
	}
}

func TestTraceUpsertIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	tr := Trace{
		RequestID:    "req-1",
		UserID:       "u1",
		Variant:      event.VariantControl,
		ModelVersion: "1.0.0",
		Recommendations: []ScoredItem{
			{ItemID: "item1", Score: 10},
		},
		LatencyMs: 1.5,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, r.PutTrace(ctx, tr))

	tr.LatencyMs = 2.5
	require.NoError(t, r.PutTrace(ctx, tr))

	got, err := r.GetTrace(ctx, "req-1")
	require.NoError(t, err)
	require.Equal(t, 2.5, got.LatencyMs)
	require.Equal(t, "u1", got.UserID)

	_, err = r.GetTrace(ctx, "missing")
	require.True(t, errors.Is(err, recerr.ErrNotFound))
}

func TestPutTraceRequiresRequestID(t *testing.T) {
	r := newTestRegistry(t)
	err := r.PutTrace(context.Background(), Trace{UserID: "u1"})
	require.True(t, errors.Is(err, recerr.ErrValidation))
}

func TestGetServingModelFallsBackToNewest(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.GetServingModel(ctx, event.VariantControl)
	require.True(t, errors.Is(err, recerr.ErrNotFound))

	mustPut(t, r, "0.1.0", StatusStaging)
	a, err := r.GetServingModel(ctx, event.VariantControl)
	require.NoError(t, err)
	require.Equal(t, "0.1.0", a.Version)
}
