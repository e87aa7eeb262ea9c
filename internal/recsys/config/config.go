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

// Package config reads the service configuration from the environment.
// Every knob has a default suitable for local development; production
// deployments override through the container environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full environment-derived configuration shared by the API
// server and the ingest worker.
type Config struct {
	// Event store.
	EventStoreURI string
	EventStoreDB  string

	// Streaming bus.
	BusBroker        string
	BusTopic         string
	BusKey           string
	BusSecret        string
	BusGroupID       string
	BusSASLMechanism string

	// Analyzer knobs.
	RecSuccessWindow   time.Duration
	OnlineMetricWindow time.Duration

	// Control plane and provenance.
	ModelAdminAPIKey     string
	PipelineGitSha       string
	ContainerImageDigest string

	// Serving infrastructure.
	RegistryRedisAddr string
	HTTPAddr          string
	ModelRegistryRoot string
}

// FromEnv builds a Config from the process environment.
func FromEnv() Config {
	return Config{
		EventStoreURI: getenv("EVENT_STORE_URI", "recsys-events.db"),
		EventStoreDB:  getenv("EVENT_STORE_DB", "recsys"),

		BusBroker:        os.Getenv("BUS_BROKER"),
		BusTopic:         getenv("BUS_TOPIC", "events"),
		BusKey:           os.Getenv("BUS_KEY"),
		BusSecret:        os.Getenv("BUS_SECRET"),
		BusGroupID:       getenv("BUS_GROUP_ID", "recsys-ingest"),
		BusSASLMechanism: getenv("BUS_SASL_MECHANISM", "PLAIN"),

		RecSuccessWindow:   time.Duration(getenvInt("REC_SUCCESS_MINUTES", 15)) * time.Minute,
		OnlineMetricWindow: time.Duration(getenvInt("ONLINE_METRIC_WINDOW_MIN", 30)) * time.Minute,

		ModelAdminAPIKey:     os.Getenv("MODEL_ADMIN_API_KEY"),
		PipelineGitSha:       os.Getenv("PIPELINE_GIT_SHA"),
		ContainerImageDigest: os.Getenv("CONTAINER_IMAGE_DIGEST"),

		RegistryRedisAddr: getenv("REGISTRY_REDIS_ADDR", "localhost:6379"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		ModelRegistryRoot: os.Getenv("MODEL_REGISTRY_ROOT"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
