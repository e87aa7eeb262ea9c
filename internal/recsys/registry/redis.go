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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"

	"recsys/internal/recsys/event"
	"recsys/internal/recsys/recerr"
)

const (
	artifactKeyPrefix = "model:"
	traceKeyPrefix    = "trace:"
	modelSetKey       = "models"
)

// RedisRegistry implements Registry on a Redis key-document layout:
//
//	model:{version}     artifact document (JSON)
//	models              set of registered versions
//	model-serving-state serving-state singleton (JSON)
//	trace:{requestId}   prediction trace (JSON)
//
// Mutations come only from the control plane and training import, so plain
// last-writer-wins documents are sufficient; readers see point-in-time
// snapshots.
type RedisRegistry struct {
	c              *redis.Client
	defaultTimeout time.Duration
}

// NewRedisRegistry wraps an address like "127.0.0.1:6379".
func NewRedisRegistry(addr string) *RedisRegistry {
	return &RedisRegistry{
		c:              redis.NewClient(&redis.Options{Addr: addr}),
		defaultTimeout: 5 * time.Second,
	}
}

// NewRedisRegistryFromClient wraps an existing client; used by tests.
func NewRedisRegistryFromClient(c *redis.Client) *RedisRegistry {
	return &RedisRegistry{c: c, defaultTimeout: 5 * time.Second}
}

// Close releases the underlying client.
func (r *RedisRegistry) Close() error { return r.c.Close() }

// Ping verifies the store is reachable.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()
	if err := r.c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", recerr.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisRegistry) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && r.defaultTimeout > 0 {
		return context.WithTimeout(ctx, r.defaultTimeout)
	}
	return ctx, func() {}
}

// PutArtifact registers a new artifact. Versions are unique: registering an
// existing version fails validation.
func (r *RedisRegistry) PutArtifact(ctx context.Context, a Artifact) error {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	if _, _, _, err := ParseVersion(a.Version); err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = StatusStaging
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: marshal artifact: %v", recerr.ErrInternal, err)
	}
	ok, err := r.c.SetNX(ctx, artifactKeyPrefix+a.Version, b, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: put artifact: %v", recerr.ErrStoreUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: version %s already registered", recerr.ErrValidation, a.Version)
	}
	if err := r.c.SAdd(ctx, modelSetKey, a.Version).Err(); err != nil {
		return fmt.Errorf("%w: index artifact: %v", recerr.ErrStoreUnavailable, err)
	}
	return nil
}

// GetArtifact loads one artifact document.
func (r *RedisRegistry) GetArtifact(ctx context.Context, version string) (Artifact, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	raw, err := r.c.Get(ctx, artifactKeyPrefix+version).Bytes()
	if errors.Is(err, redis.Nil) {
		return Artifact{}, fmt.Errorf("%w: model version %s", recerr.ErrNotFound, version)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: get artifact: %v", recerr.ErrStoreUnavailable, err)
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return Artifact{}, fmt.Errorf("%w: decode artifact: %v", recerr.ErrInternal, err)
	}
	return a, nil
}

// putArtifactDoc overwrites an artifact document in place (status changes).
func (r *RedisRegistry) putArtifactDoc(ctx context.Context, a Artifact) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: marshal artifact: %v", recerr.ErrInternal, err)
	}
	if err := r.c.Set(ctx, artifactKeyPrefix+a.Version, b, 0).Err(); err != nil {
		return fmt.Errorf("%w: update artifact: %v", recerr.ErrStoreUnavailable, err)
	}
	return nil
}

// ListArtifacts returns all artifacts, newest version first.
func (r *RedisRegistry) ListArtifacts(ctx context.Context) ([]Artifact, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	versions, err := r.c.SMembers(ctx, modelSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list artifacts: %v", recerr.ErrStoreUnavailable, err)
	}
	arts := make([]Artifact, 0, len(versions))
	for _, v := range versions {
		a, err := r.GetArtifact(ctx, v)
		if errors.Is(err, recerr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		arts = append(arts, a)
	}
	sort.Slice(arts, func(i, j int) bool {
		return CompareVersions(arts[i].Version, arts[j].Version) > 0
	})
	return arts, nil
}

// GetServingState loads the singleton. A missing document is not an error:
// it returns the zero state and callers fall through the lookup chain.
func (r *RedisRegistry) GetServingState(ctx context.Context) (ServingState, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	raw, err := r.c.Get(ctx, ServingStateKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return ServingState{Variants: map[event.Variant]string{}}, nil
	}
	if err != nil {
		return ServingState{}, fmt.Errorf("%w: get serving state: %v", recerr.ErrStoreUnavailable, err)
	}
	var st ServingState
	if err := json.Unmarshal(raw, &st); err != nil {
		return ServingState{}, fmt.Errorf("%w: decode serving state: %v", recerr.ErrInternal, err)
	}
	if st.Variants == nil {
		st.Variants = map[event.Variant]string{}
	}
	return st, nil
}

func (r *RedisRegistry) putServingState(ctx context.Context, st ServingState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("%w: marshal serving state: %v", recerr.ErrInternal, err)
	}
	if err := r.c.Set(ctx, ServingStateKey, b, 0).Err(); err != nil {
		return fmt.Errorf("%w: put serving state: %v", recerr.ErrStoreUnavailable, err)
	}
	return nil
}

// SetServingVersion drives the artifact state machine. Targets:
//
//	all:       archive every active and shadow artifact, activate the chosen
//	           version, point default and both variants at it.
//	control:   archive the current active artifact, activate the chosen
//	           version, point control and default at it; treatment unchanged.
//	treatment: archive any previous shadow, mark the chosen version shadow
//	           (the active artifact stays active), point treatment at it.
func (r *RedisRegistry) SetServingVersion(ctx context.Context, version string, target Target) (ServingState, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	if _, err := ParseTarget(string(target)); err != nil {
		return ServingState{}, err
	}
	chosen, err := r.GetArtifact(ctx, version)
	if err != nil {
		return ServingState{}, err
	}
	arts, err := r.ListArtifacts(ctx)
	if err != nil {
		return ServingState{}, err
	}
	st, err := r.GetServingState(ctx)
	if err != nil {
		return ServingState{}, err
	}

	archive := func(statuses ...Status) error {
		for _, a := range arts {
			if a.Version == chosen.Version {
				continue
			}
			for _, s := range statuses {
				if a.Status == s {
					a.Status = StatusArchived
					if err := r.putArtifactDoc(ctx, a); err != nil {
						return err
					}
					break
				}
			}
		}
		return nil
	}

	switch target {
	case TargetAll:
		if err := archive(StatusActive, StatusShadow); err != nil {
			return ServingState{}, err
		}
		chosen.Status = StatusActive
		st.DefaultVersion = version
		st.Variants[event.VariantControl] = version
		st.Variants[event.VariantTreatment] = version
	case TargetControl:
		if err := archive(StatusActive); err != nil {
			return ServingState{}, err
		}
		chosen.Status = StatusActive
		st.DefaultVersion = version
		st.Variants[event.VariantControl] = version
	case TargetTreatment:
		// At most one artifact is shadow at a time.
		if err := archive(StatusShadow); err != nil {
			return ServingState{}, err
		}
		chosen.Status = StatusShadow
		st.Variants[event.VariantTreatment] = version
	}

	if err := r.putArtifactDoc(ctx, chosen); err != nil {
		return ServingState{}, err
	}
	st.UpdatedAt = time.Now().UTC()
	if err := r.putServingState(ctx, st); err != nil {
		return ServingState{}, err
	}
	return st, nil
}

// GetServingVersion resolves the version a variant should serve:
// variant binding, then default, then the latest active artifact, then the
// newest artifact, then empty.
func (r *RedisRegistry) GetServingVersion(ctx context.Context, variant event.Variant) (string, error) {
	st, err := r.GetServingState(ctx)
	if err != nil {
		return "", err
	}
	if v := st.Variants[variant]; v != "" {
		return v, nil
	}
	if st.DefaultVersion != "" {
		return st.DefaultVersion, nil
	}
	arts, err := r.ListArtifacts(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range arts {
		if a.Status == StatusActive {
			return a.Version, nil
		}
	}
	if len(arts) > 0 {
		return arts[0].Version, nil
	}
	return "", nil
}

// GetServingModel resolves and dereferences the artifact for a variant,
// falling back to the newest artifact when the resolved version is missing.
func (r *RedisRegistry) GetServingModel(ctx context.Context, variant event.Variant) (Artifact, error) {
	version, err := r.GetServingVersion(ctx, variant)
	if err != nil {
		return Artifact{}, err
	}
	if version != "" {
		a, err := r.GetArtifact(ctx, version)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, recerr.ErrNotFound) {
			return Artifact{}, err
		}
	}
	arts, err := r.ListArtifacts(ctx)
	if err != nil {
		return Artifact{}, err
	}
	if len(arts) == 0 {
		return Artifact{}, fmt.Errorf("%w: no model artifacts registered", recerr.ErrNotFound)
	}
	return arts[0], nil
}

// ComputeNextVersion bumps the newest registered version (default bump
// minor). With no artifacts the sequence starts at 0.0.1.
func (r *RedisRegistry) ComputeNextVersion(ctx context.Context, bump string) (string, error) {
	arts, err := r.ListArtifacts(ctx)
	if err != nil {
		return "", err
	}
	latest := "0.0.0"
	if len(arts) > 0 {
		latest = arts[0].Version
	}
	return BumpVersion(latest, bump)
}

// PutTrace upserts a trace keyed by requestId; concurrent writers resolve
// last-writer-wins.
func (r *RedisRegistry) PutTrace(ctx context.Context, tr Trace) error {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	if tr.RequestID == "" {
		return fmt.Errorf("%w: trace requestId required", recerr.ErrValidation)
	}
	b, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("%w: marshal trace: %v", recerr.ErrInternal, err)
	}
	if err := r.c.Set(ctx, traceKeyPrefix+tr.RequestID, b, 0).Err(); err != nil {
		return fmt.Errorf("%w: put trace: %v", recerr.ErrStoreUnavailable, err)
	}
	return nil
}

// GetTrace loads one trace document.
func (r *RedisRegistry) GetTrace(ctx context.Context, requestID string) (Trace, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	raw, err := r.c.Get(ctx, traceKeyPrefix+requestID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Trace{}, fmt.Errorf("%w: trace %s", recerr.ErrNotFound, requestID)
	}
	if err != nil {
		return Trace{}, fmt.Errorf("%w: get trace: %v", recerr.ErrStoreUnavailable, err)
	}
	var tr Trace
	if err := json.Unmarshal(raw, &tr); err != nil {
		return Trace{}, fmt.Errorf("%w: decode trace: %v", recerr.ErrInternal, err)
	}
	return tr, nil
}
