// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/eyescafe/chat-core/composer"
	"github.com/eyescafe/chat-core/conversation"
	"github.com/eyescafe/chat-core/datatypes"
	"github.com/eyescafe/chat-core/embedding"
	"github.com/eyescafe/chat-core/index"
	"github.com/eyescafe/chat-core/llm"
	"github.com/eyescafe/chat-core/observability"
	"github.com/eyescafe/chat-core/retrieval"
	"github.com/eyescafe/chat-core/routes"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "eyescafe-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chat-core")))
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

// newWeaviateClient parses WEAVIATE_SERVICE_URL and connects. Returns nil
// when the URL is unset or invalid; the caller falls back to lightweight
// mode with in-process storage.
func newWeaviateClient() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set. Running in lightweight mode (in-memory index and store).")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Running in lightweight mode.",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	datatypes.EnsureWeaviateSchema(client)
	return client
}

// newEmbeddingProvider selects a backend from EMBEDDING_BACKEND. Supported
// values are "http" (default, the in-house embedding service) and "openai".
func newEmbeddingProvider() (embedding.Provider, error) {
	switch os.Getenv("EMBEDDING_BACKEND") {
	case "openai":
		slog.Info("Using OpenAI embedding backend")
		return embedding.NewOpenAIProvider()
	default:
		slog.Info("Using HTTP embedding backend")
		return embedding.NewHTTPProvider(os.Getenv("EMBEDDING_SERVICE_URL"))
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using process environment")
	}

	port := os.Getenv("CHAT_CORE_PORT")
	if port == "" {
		port = "12310"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	// Storage: Weaviate when configured, in-process otherwise.
	var (
		docIndex index.DocumentIndex
		store    conversation.Store
	)
	if client := newWeaviateClient(); client != nil {
		docIndex = index.NewWeaviateIndex(client)
		store = conversation.NewWeaviateStore(client)
	} else {
		docIndex = index.NewMemoryIndex()
		store = conversation.NewMemoryStore()
	}

	embedder, err := newEmbeddingProvider()
	if err != nil {
		log.Fatalf("Failed to initialize embedding provider: %v", err)
	}

	log.Println("Configuring the LLM client")
	llmClient, err := llm.NewClientFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	manager := conversation.NewManager(store)
	retriever := retrieval.NewRetriever(docIndex, embedder)
	comp := composer.NewComposer(llmClient)

	router := gin.Default()
	router.Use(otelgin.Middleware("chat-core"))

	routes.SetupRoutes(router, docIndex, embedder, manager, retriever, comp)

	log.Println("Starting the chat core server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
