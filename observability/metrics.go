// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the service's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "eyescafe"

const chatSubsystem = "chat"

// ChatMetrics holds all Prometheus metrics for the chat core.
//
// # Thread Safety
//
// All operations are thread-safe.
type ChatMetrics struct {
	// RequestsTotal counts chat requests by endpoint and status.
	// Labels: endpoint (chat_stream, ingest), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TokensStreamedTotal counts content chunks sent to clients.
	// Labels: endpoint
	TokensStreamedTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to the first content chunk.
	// Labels: endpoint
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by endpoint and error kind.
	// Labels: endpoint, error_kind
	ErrorsTotal *prometheus.CounterVec

	// RetrievalResults observes how many results each retrieval returned.
	RetrievalResults prometheus.Histogram

	// DocumentsIngestedTotal counts indexed document chunks.
	// Labels: document_type
	DocumentsIngestedTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent.
	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *ChatMetrics

// InitMetrics registers all metrics with the default registry. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *ChatMetrics {
	DefaultMetrics = &ChatMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Total number of requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TokensStreamedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "tokens_streamed_total",
				Help:      "Total content chunks streamed to clients",
			},
			[]string{"endpoint"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first content chunk in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and error kind",
			},
			[]string{"endpoint", "error_kind"},
		),

		RetrievalResults: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "retrieval_results",
				Help:      "Number of results returned per retrieval",
				Buckets:   []float64{0, 1, 2, 4, 8, 16},
			},
		),

		DocumentsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "documents_ingested_total",
				Help:      "Total document chunks added to the index",
			},
			[]string{"document_type"},
		),

		KeepAlivesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
			[]string{"endpoint"},
		),
	}

	return DefaultMetrics
}

// Endpoint labels a request path for metrics.
type Endpoint string

const (
	// EndpointChatStream is the streaming chat endpoint.
	EndpointChatStream Endpoint = "chat_stream"

	// EndpointIngest is the document ingest endpoint.
	EndpointIngest Endpoint = "ingest"

	// EndpointConversations is the conversation fetch endpoint.
	EndpointConversations Endpoint = "conversations"
)

// RecordRequest increments the request counter.
func (m *ChatMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError increments the error counter for a taxonomy kind.
func (m *ChatMetrics) RecordError(endpoint Endpoint, kind string) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), kind).Inc()
}

// StreamStarted increments the active-stream gauge.
func (m *ChatMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active-stream gauge.
func (m *ChatMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordToken counts one streamed content chunk.
func (m *ChatMetrics) RecordToken(endpoint Endpoint) {
	m.TokensStreamedTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordTimeToFirstToken records latency to the first content chunk.
func (m *ChatMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records total stream duration.
func (m *ChatMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

// RecordRetrieval observes the size of one retrieval result set.
func (m *ChatMetrics) RecordRetrieval(numResults int) {
	m.RetrievalResults.Observe(float64(numResults))
}

// RecordIngest counts indexed chunks for a document type.
func (m *ChatMetrics) RecordIngest(documentType string, chunks int) {
	m.DocumentsIngestedTotal.WithLabelValues(documentType).Add(float64(chunks))
}

// RecordKeepAlive counts one keepalive ping.
func (m *ChatMetrics) RecordKeepAlive(endpoint Endpoint) {
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}
