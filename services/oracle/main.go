// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/OracleFOSS/pkg/logging"
	"github.com/AleutianAI/OracleFOSS/services/oracle/bundle"
	"github.com/AleutianAI/OracleFOSS/services/oracle/canonical"
	"github.com/AleutianAI/OracleFOSS/services/oracle/config"
	"github.com/AleutianAI/OracleFOSS/services/oracle/gateway"
	"github.com/AleutianAI/OracleFOSS/services/oracle/handlers"
	"github.com/AleutianAI/OracleFOSS/services/oracle/middleware"
	"github.com/AleutianAI/OracleFOSS/services/oracle/observability"
	"github.com/AleutianAI/OracleFOSS/services/oracle/orchestrator"
	"github.com/AleutianAI/OracleFOSS/services/oracle/store"
	badgerstore "github.com/AleutianAI/OracleFOSS/services/oracle/store/badger"
	"github.com/AleutianAI/OracleFOSS/services/oracle/versiongraph"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("oracle-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	configPath := flag.String("config", os.Getenv("ORACLE_CONFIG"), "Path to the YAML config file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Service: "oracle",
		JSON:    true,
	})
	defer logger.Close()
	slogger := logger.Slog()
	slog.SetDefault(slogger)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	observability.InitMetrics()

	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			log.Fatalf("FATAL: failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	}

	// --- Storage ---
	badgerCfg := badgerstore.DefaultConfig()
	badgerCfg.Path = filepath.Join(cfg.DataDir, "badger")
	badgerCfg.Logger = slogger
	db, err := badgerstore.Open(badgerCfg)
	if err != nil {
		log.Fatalf("FATAL: could not open badger at %s: %v", cfg.DataDir, err)
	}
	defer db.Close()

	st, err := store.New(cfg.DataDir, db, slogger)
	if err != nil {
		log.Fatalf("FATAL: could not initialize store: %v", err)
	}
	graph := versiongraph.New(db, slogger)

	// --- Inference network gateway ---
	var gw gateway.Gateway
	if cfg.Router.MockMode {
		slogger.Info("mock mode enabled, using deterministic in-process gateway",
			"seed", cfg.Router.MockSeed)
		gw = gateway.NewMockGateway(cfg.Router.MockSeed)
	} else {
		clientCfg := gateway.DefaultClientConfig()
		clientCfg.RouterURL = cfg.Router.URL
		clientCfg.APIKey = cfg.Router.APIKey
		clientCfg.SessionID = cfg.Router.SessionID
		clientCfg.RetryAttempts = cfg.Jobs.MaxRetries
		clientCfg.RequestsPerSecond = cfg.Router.RequestsPerSecond
		clientCfg.Logger = slogger
		gw, err = gateway.NewRouterClient(clientCfg)
		if err != nil {
			log.Fatalf("FATAL: could not configure router client: %v", err)
		}
	}

	// --- Claim extraction ---
	var llm canonical.ClaimExtractor
	if openaiExtractor, err := canonical.NewOpenAIExtractor(); err == nil {
		slogger.Info("LLM claim extractor enabled")
		llm = openaiExtractor
	} else {
		slogger.Info("LLM claim extractor unavailable, heuristic only", "reason", err)
	}

	var publisher bundle.Publisher = bundle.NopPublisher{}
	if cfg.PublishDir != "" {
		publisher = &bundle.FilesystemPublisher{Dir: cfg.PublishDir, Logger: slogger}
	}

	h := handlers.New(handlers.Handlers{
		Extractor:    canonical.NewExtractor(llm, slogger),
		Graph:        graph,
		Store:        st,
		Orchestrator: orchestrator.New(gw, st, slogger),
		Gateway:      gw,
		Publisher:    publisher,
		Metrics:      observability.DefaultMetrics,
		Logger:       slogger,
		Defaults:     cfg.JobConfig(),
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("oracle-service"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", h.HandleHealth())

	v1 := router.Group("/v1")
	v1.Use(middleware.BearerAuth(cfg.AuthToken))
	handlers.RegisterRoutes(v1, h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slogger.Info("starting oracle server", "address", cfg.HTTPAddr, "data_dir", cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slogger.Info("shutting down oracle server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("graceful shutdown failed", "error", err)
	}
}
