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

// Package main is the entry point for the ingest worker.
//
// It consumes behavioral events from the streaming bus, validates and
// persists them into the event store, and feeds the online metrics window.
// The in-process channel bus stands in until a broker adapter is plugged
// behind the ingest.Bus interface.
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

	"recsys/internal/recsys/config"
	"recsys/internal/recsys/event"
	"recsys/internal/recsys/ingest"
	"recsys/internal/recsys/store"
	"recsys/internal/recsys/telemetry"
)

func main() {
	cfg := config.FromEnv()

	eventStoreURI := flag.String("event_store", cfg.EventStoreURI, "SQLite event store path or URI")
	concurrency := flag.Int("concurrency", 4, "Ingest worker-pool size per topic")
	busBuffer := flag.Int("bus_buffer", 1024, "In-process bus buffer size")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9091)")
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

	bus := ingest.NewChannelBus(*busBuffer)
	online := telemetry.NewOnlineWindow(cfg.OnlineMetricWindow)

	consumer := ingest.NewConsumer(
		bus,
		st,
		ingest.NewLogDeadLetter(log),
		func(_ context.Context, ev event.Event) { online.Record(ev) },
		ingest.Config{
			Topic:       cfg.BusTopic,
			GroupID:     cfg.BusGroupID,
			Concurrency: *concurrency,
		},
		log,
	)
	consumer.Start()
	log.Info("ingest worker started",
		zap.String("topic", cfg.BusTopic),
		zap.String("groupId", cfg.BusGroupID),
		zap.Int("concurrency", *concurrency))

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", telemetry.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	done := make(chan struct{})
	go func() {
		consumer.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn("consumer drain timed out")
	}
	if err := bus.Close(); err != nil {
		log.Error("bus close failed", zap.Error(err))
	}
	log.Info("worker stopped")
}
