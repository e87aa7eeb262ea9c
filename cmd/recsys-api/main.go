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

// Package main is the entry point for the recommendation API server.
//
// It wires the full read-and-serve surface: the SQLite event store, the
// Redis model registry, the serving engine, the three analyzers, and the
// HTTP server, then blocks until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"recsys/internal/recsys/api"
	"recsys/internal/recsys/config"
	"recsys/internal/recsys/experiment"
	"recsys/internal/recsys/fairness"
	"recsys/internal/recsys/feedback"
	"recsys/internal/recsys/registry"
	"recsys/internal/recsys/serving"
	"recsys/internal/recsys/store"
)

func main() {
	cfg := config.FromEnv()

	// Flags override the environment for local runs.
	httpAddr := flag.String("http_addr", cfg.HTTPAddr, "HTTP listen address (e.g., :8080)")
	eventStoreURI := flag.String("event_store", cfg.EventStoreURI, "SQLite event store path or URI")
	redisAddr := flag.String("redis_addr", cfg.RegistryRedisAddr, "Redis address for the model registry")
	importVersion := flag.String("import_version", "", "If non-empty, import this artifact version from the model registry root at startup")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	st, err := store.NewSQLiteStore(*eventStoreURI, store.DefaultRowCap)
	if err != nil {
		log.Fatal("event store open failed", zap.String("uri", *eventStoreURI), zap.Error(err))
	}
	defer st.Close()

	reg := registry.NewRedisRegistry(*redisAddr)
	defer reg.Close()

	if *importVersion != "" {
		if cfg.ModelRegistryRoot == "" {
			log.Fatal("import_version set but MODEL_REGISTRY_ROOT is empty")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := registry.ImportDiskArtifact(ctx, reg, cfg.ModelRegistryRoot, *importVersion); err != nil {
			cancel()
			log.Fatal("artifact import failed",
				zap.String("version", *importVersion), zap.Error(err))
		}
		cancel()
		log.Info("artifact imported", zap.String("version", *importVersion))
	}

	srv := api.NewServer(
		serving.NewEngine(reg, st, serving.Provenance{
			PipelineGitSha:       cfg.PipelineGitSha,
			ContainerImageDigest: cfg.ContainerImageDigest,
		}, log),
		experiment.NewEngine(st, reg, cfg.RecSuccessWindow, 0, log),
		fairness.NewAnalyzer(st, log),
		feedback.NewAnalyzer(st, log),
		st, reg, cfg.ModelAdminAPIKey, log,
	)
	httpServer := srv.NewHTTPServer(*httpAddr)

	go func() {
		log.Info("api server listening", zap.String("addr", *httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	log.Info("server stopped")
}
