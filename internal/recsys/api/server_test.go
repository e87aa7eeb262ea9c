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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"recsys/internal/recsys/event"
	"recsys/internal/recsys/experiment"
	"recsys/internal/recsys/fairness"
	"recsys/internal/recsys/feedback"
	"recsys/internal/recsys/registry"
	"recsys/internal/recsys/serving"
	"recsys/internal/recsys/store"
)

const testAdminKey = "test-admin-key"

func newTestServer(t *testing.T) (*httptest.Server, *registry.RedisRegistry, *store.SQLiteStore) {
	t.Helper()
	m := miniredis.RunT(t)
	reg := registry.NewRedisRegistryFromClient(redis.NewClient(&redis.Options{Addr: m.Addr()}))
	t.Cleanup(func() { reg.Close() })

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := zap.NewNop()
	srv := NewServer(
		serving.NewEngine(reg, st, serving.Provenance{PipelineGitSha: "abc123"}, log),
		experiment.NewEngine(st, reg, 15*time.Minute, 0.05, log),
		fairness.NewAnalyzer(st, log),
		feedback.NewAnalyzer(st, log),
		st, reg, testAdminKey, log,
	)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, reg, st
}

func registerModel(t *testing.T, reg *registry.RedisRegistry, version string) {
	t.Helper()
	require.NoError(t, reg.PutArtifact(context.Background(), registry.Artifact{
		Version:        version,
		Counts:         map[string]float64{"i1": 10, "i2": 5, "i3": 1},
		DataSnapshotID: "snap-" + version,
		TrainedAt:      time.Now().UTC(),
	}))
	_, err := reg.SetServingVersion(context.Background(), version, registry.TargetAll)
	require.NoError(t, err)
}

func postJSON(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func getWith(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestRecommendationsRequiresUserID(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/recommendations", `{"limit": 5}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	require.Equal(t, "userId_required", body["error"])
}

func TestRecommendationsHappyPath(t *testing.T) {
	ts, reg, _ := newTestServer(t)
	registerModel(t, reg, "1.0.0")

	resp := postJSON(t, ts.URL+"/recommendations", `{"userId":"u42","limit":2}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		RequestID       string `json:"requestId"`
		Variant         string `json:"variant"`
		ModelVersion    string `json:"modelVersion"`
		Recommendations []struct {
			ItemID string  `json:"itemId"`
			Score  float64 `json:"score"`
		} `json:"recommendations"`
	}
	decode(t, resp, &body)
	require.NotEmpty(t, body.RequestID)
	require.Contains(t, []string{"control", "treatment"}, body.Variant)
	require.Equal(t, "1.0.0", body.ModelVersion)
	require.Len(t, body.Recommendations, 2)
	require.Equal(t, "i1", body.Recommendations[0].ItemID)
}

func TestRecommendationsNoModelIsPredictionFailed(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/recommendations", `{"userId":"u1"}`, nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	require.Equal(t, "prediction_failed", body["error"])
	require.NotEmpty(t, body["requestId"])
}

func TestExperimentSummaryUnknownIDIs404(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := getWith(t, ts.URL+"/experiments/other/summary", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestExperimentSummaryHappyPath(t *testing.T) {
	ts, _, st := newTestServer(t)
	now := time.Now()
	require.NoError(t, st.Append(context.Background(), event.Event{
		Type: event.TypeRecommend, UserID: "u1", Variant: event.VariantControl,
		TS: now.Add(-time.Minute), Items: []string{"i1"},
	}))

	resp := getWith(t, ts.URL+"/experiments/rec-engine/summary?windowHours=24", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ExperimentID string `json:"experimentId"`
		WindowHours  int    `json:"windowHours"`
	}
	decode(t, resp, &body)
	require.Equal(t, "rec-engine", body.ExperimentID)
	require.Equal(t, 24, body.WindowHours)
}

func TestFairnessWindowCapIs400(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := getWith(t, ts.URL+"/fairness?windowHours=999", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	require.Equal(t, "range-too-large", body["error"])
}

func TestFeedbackLoopsEmptyUniverse(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := getWith(t, ts.URL+"/feedback-loops?windowHours=168", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Loops struct {
			FeedbackLoops     int     `json:"feedbackLoops"`
			AvgCycleTimeHours float64 `json:"avgCycleTimeHours"`
		} `json:"loops"`
		Anomalies struct {
			Summary   string `json:"summary"`
			Anomalies []any  `json:"anomalies"`
		} `json:"anomalies"`
	}
	decode(t, resp, &body)
	require.Equal(t, 0, body.Loops.FeedbackLoops)
	require.Equal(t, 0.0, body.Loops.AvgCycleTimeHours)
	require.Equal(t, "no_anomalies", body.Anomalies.Summary)
	require.Empty(t, body.Anomalies.Anomalies)
}

func TestTelemetryEndpoints(t *testing.T) {
	ts, _, st := newTestServer(t)
	now := time.Now()
	require.NoError(t, st.Append(context.Background(), event.Event{
		Type: event.TypeRecommend, UserID: "u1", Variant: event.VariantControl,
		TS: now.Add(-time.Minute), Items: []string{"i1"},
	}))
	require.NoError(t, st.Append(context.Background(), event.Event{
		Type: event.TypePlay, UserID: "u1", ItemID: "i1", TS: now,
	}))

	for _, path := range []string{
		"/telemetry/conversion-funnel",
		"/telemetry/item-trends",
		"/telemetry/user-engagement",
	} {
		resp := getWith(t, ts.URL+path, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func TestTraceLookup(t *testing.T) {
	ts, reg, _ := newTestServer(t)
	registerModel(t, reg, "1.0.0")

	resp := postJSON(t, ts.URL+"/recommendations", `{"userId":"u7"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec struct {
		RequestID string `json:"requestId"`
	}
	decode(t, resp, &rec)

	resp = getWith(t, ts.URL+"/traces/"+rec.RequestID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr struct {
		RequestID      string `json:"requestId"`
		UserID         string `json:"userId"`
		PipelineGitSha string `json:"pipelineGitSha"`
	}
	decode(t, resp, &tr)
	require.Equal(t, rec.RequestID, tr.RequestID)
	require.Equal(t, "u7", tr.UserID)
	require.Equal(t, "abc123", tr.PipelineGitSha)

	resp = getWith(t, ts.URL+"/traces/no-such-request", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAdminRequiresKey(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := getWith(t, ts.URL+"/admin/models", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = getWith(t, ts.URL+"/admin/models", map[string]string{"X-Admin-Key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAdminListAndSwitch(t *testing.T) {
	ts, reg, _ := newTestServer(t)
	registerModel(t, reg, "1.0.0")
	require.NoError(t, reg.PutArtifact(context.Background(), registry.Artifact{
		Version: "1.1.0", Counts: map[string]float64{"i9": 1},
	}))
	auth := map[string]string{"X-Admin-Key": testAdminKey}

	resp := getWith(t, ts.URL+"/admin/models", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Models []struct {
			Version string `json:"version"`
		} `json:"models"`
		ServingState struct {
			DefaultVersion string `json:"defaultVersion"`
		} `json:"servingState"`
	}
	decode(t, resp, &list)
	require.Len(t, list.Models, 2)
	require.Equal(t, "1.0.0", list.ServingState.DefaultVersion)

	resp = postJSON(t, ts.URL+"/admin/switch-model", `{"version":"1.1.0","target":"treatment"}`, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state struct {
		Variants map[string]string `json:"variants"`
	}
	decode(t, resp, &state)
	require.Equal(t, "1.1.0", state.Variants["treatment"])
	require.Equal(t, "1.0.0", state.Variants["control"])
}

func TestAdminSwitchInvalidTarget(t *testing.T) {
	ts, reg, _ := newTestServer(t)
	registerModel(t, reg, "1.0.0")
	auth := map[string]string{"X-Admin-Key": testAdminKey}

	resp := postJSON(t, ts.URL+"/admin/switch-model", `{"version":"1.0.0","target":"everyone"}`, auth)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]any
	decode(t, resp, &body)
	require.Equal(t, "invalid-target", body["error"])
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := getWith(t, ts.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	decode(t, resp, &body)
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "ok", body.Components["eventStore"])
	require.Equal(t, "ok", body.Components["registry"])
}

func TestMetricsExposed(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := getWith(t, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
