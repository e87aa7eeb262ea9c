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

// Package recerr defines the shared error taxonomy. Components wrap these
// sentinels with fmt.Errorf("...: %w", ...) and the HTTP layer maps them to
// machine codes and status classes with errors.Is.
package recerr

import "errors"

var (
	ErrValidation       = errors.New("validation")
	ErrNotFound         = errors.New("not-found")
	ErrRangeTooLarge    = errors.New("range-too-large")
	ErrInsufficientData = errors.New("insufficient-data")
	ErrStoreUnavailable = errors.New("store-unavailable")
	ErrBusUnavailable   = errors.New("bus-unavailable")
	ErrPartialFailure   = errors.New("partial-failure")
	ErrInvalidTarget    = errors.New("invalid-target")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInternal         = errors.New("internal")
)

// Code returns the short machine code for err, or "internal" when the error
// does not match any sentinel in the taxonomy.
func Code(err error) string {
	for _, s := range []error{
		ErrValidation, ErrNotFound, ErrRangeTooLarge, ErrInsufficientData,
		ErrStoreUnavailable, ErrBusUnavailable, ErrPartialFailure,
		ErrInvalidTarget, ErrUnauthorized,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return ErrInternal.Error()
}
