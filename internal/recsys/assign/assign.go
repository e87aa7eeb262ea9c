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

// Package assign implements deterministic A/B bucket assignment. The hash
// must be stable across processes and language implementations, so it uses
// SHA-256 over the UTF-8 bytes of the user id: the first byte's parity is
// uniform and reproducible everywhere.
package assign

import (
	"crypto/sha256"

	"recsys/internal/recsys/event"
)

// Variant assigns a user to control or treatment. Pure and deterministic;
// an empty user id maps to control.
func Variant(userID string) event.Variant {
	if userID == "" {
		return event.VariantControl
	}
	sum := sha256.Sum256([]byte(userID))
	if sum[0]&1 == 0 {
		return event.VariantControl
	}
	return event.VariantTreatment
}
