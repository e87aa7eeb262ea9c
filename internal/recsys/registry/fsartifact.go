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
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"recsys/internal/recsys/recerr"
)

// Training writes advisory files under {root}/{version}/: model.json with
// the counts table and metadata.json with provenance. The document store is
// canonical; these files only feed the import path.

type diskModel struct {
	Counts map[string]float64 `json:"counts"`
}

type diskMetadata struct {
	Version              string             `json:"version"`
	DataSnapshotID       string             `json:"dataSnapshotId"`
	PipelineGitSha       string             `json:"pipelineGitSha"`
	ContainerImageDigest string             `json:"containerImageDigest"`
	ArtifactURI          string             `json:"artifactUri"`
	Metrics              map[string]float64 `json:"metrics"`
	TrainedAt            time.Time          `json:"trainedAt"`
}

// LoadDiskArtifact reads a training output from {root}/{version}/ and
// returns it as a staging artifact, not yet registered.
func LoadDiskArtifact(root, version string) (Artifact, error) {
	dir := filepath.Join(root, version)

	var m diskModel
	if err := readJSON(filepath.Join(dir, "model.json"), &m); err != nil {
		return Artifact{}, err
	}
	if len(m.Counts) == 0 {
		return Artifact{}, fmt.Errorf("%w: %s/model.json has no counts", recerr.ErrValidation, dir)
	}
	var md diskMetadata
	if err := readJSON(filepath.Join(dir, "metadata.json"), &md); err != nil {
		return Artifact{}, err
	}
	if md.Version == "" {
		md.Version = version
	}
	if md.Version != version {
		return Artifact{}, fmt.Errorf("%w: metadata version %q does not match directory %q", recerr.ErrValidation, md.Version, version)
	}
	return Artifact{
		Version:              md.Version,
		Status:               StatusStaging,
		Counts:               m.Counts,
		TrainedAt:            md.TrainedAt,
		Metrics:              md.Metrics,
		DataSnapshotID:       md.DataSnapshotID,
		PipelineGitSha:       md.PipelineGitSha,
		ContainerImageDigest: md.ContainerImageDigest,
		ArtifactURI:          md.ArtifactURI,
	}, nil
}

// ImportDiskArtifact loads a disk artifact and registers it as staging.
func ImportDiskArtifact(ctx context.Context, reg Registry, root, version string) (Artifact, error) {
	a, err := LoadDiskArtifact(root, version)
	if err != nil {
		return Artifact{}, err
	}
	if err := reg.PutArtifact(ctx, a); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

func readJSON(path string, out any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", recerr.ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", recerr.ErrStoreUnavailable, path, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: parse %s: %v", recerr.ErrValidation, path, err)
	}
	return nil
}
