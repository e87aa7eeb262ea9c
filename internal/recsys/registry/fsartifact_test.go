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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"recsys/internal/recsys/recerr"
)

func writeDiskArtifact(t *testing.T, root, version, model, metadata string) {
	t.Helper()
	dir := filepath.Join(root, version)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), []byte(model), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(metadata), 0o644))
}

func TestLoadDiskArtifact(t *testing.T) {
	root := t.TempDir()
	writeDiskArtifact(t, root, "1.0.0",
		`{"counts":{"item1":42,"item2":7}}`,
		`{"version":"1.0.0","dataSnapshotId":"snap-9","pipelineGitSha":"abc123",
		  "containerImageDigest":"sha256:feed","artifactUri":"s3://models/1.0.0",
		  "metrics":{"coverage":0.8},"trainedAt":"2026-08-20T00:00:00Z"}`)

	a, err := LoadDiskArtifact(root, "1.0.0")
	require.NoError(t, err)
	require.Equal(t, StatusStaging, a.Status)
	require.Equal(t, 42.0, a.Counts["item1"])
	require.Equal(t, "snap-9", a.DataSnapshotID)
	require.Equal(t, "abc123", a.PipelineGitSha)
}

func TestLoadDiskArtifactErrors(t *testing.T) {
	root := t.TempDir()

	_, err := LoadDiskArtifact(root, "9.9.9")
	require.True(t, errors.Is(err, recerr.ErrNotFound))

	writeDiskArtifact(t, root, "1.0.0", `{"counts":{}}`, `{"version":"1.0.0"}`)
	_, err = LoadDiskArtifact(root, "1.0.0")
	require.True(t, errors.Is(err, recerr.ErrValidation))

	writeDiskArtifact(t, root, "2.0.0", `{"counts":{"a":1}}`, `{"version":"3.0.0"}`)
	_, err = LoadDiskArtifact(root, "2.0.0")
	require.True(t, errors.Is(err, recerr.ErrValidation))
}

func TestImportDiskArtifactRegistersStaging(t *testing.T) {
	root := t.TempDir()
	writeDiskArtifact(t, root, "0.1.0", `{"counts":{"a":1}}`, `{"version":"0.1.0"}`)

	r := newTestRegistry(t)
	a, err := ImportDiskArtifact(context.Background(), r, root, "0.1.0")
	require.NoError(t, err)
	require.Equal(t, StatusStaging, a.Status)

	got, err := r.GetArtifact(context.Background(), "0.1.0")
	require.NoError(t, err)
	require.Equal(t, 1.0, got.Counts["a"])
}
