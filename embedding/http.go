// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/eyescafe/chat-core/datatypes"
)

var tracer = otel.Tracer("eyescafe.chatcore.embedding")

// embedRequest is the payload of the embedding service's /embed endpoint.
type embedRequest struct {
	Text string `json:"text"`
}

// embedResponse is the embedding service's response shape.
type embedResponse struct {
	Id        string    `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
}

// HTTPProvider calls the dedicated embedding sidecar service.
//
// The service URL comes from EMBEDDING_SERVICE_URL (the /embed endpoint).
type HTTPProvider struct {
	url        string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider for the embedding service at the given
// URL. An empty url falls back to EMBEDDING_SERVICE_URL.
func NewHTTPProvider(url string) (*HTTPProvider, error) {
	if url == "" {
		url = os.Getenv("EMBEDDING_SERVICE_URL")
	}
	if url == "" {
		return nil, fmt.Errorf("EMBEDDING_SERVICE_URL is not set")
	}

	return &HTTPProvider{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Embed computes the embedding for text via the embedding service.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "HTTPProvider.Embed")
	defer span.End()

	reqBody, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, datatypes.WrapError(datatypes.KindUpstreamError, "failed to marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, datatypes.WrapError(datatypes.KindUpstreamError, "failed to create embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding service call failed")
		return nil, classifyTransportError(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("Failed to close embedding response body", "error", err)
		}
	}()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, "embedding service non-200")
		return nil, datatypes.NewError(datatypes.KindUpstreamError,
			fmt.Sprintf("embedding service returned status %d", resp.StatusCode))
	}

	var embResp embedResponse
	if err := json.Unmarshal(bodyBytes, &embResp); err != nil {
		return nil, datatypes.WrapError(datatypes.KindUpstreamError, "failed to parse embedding response", err)
	}
	if len(embResp.Vector) == 0 {
		return nil, datatypes.NewError(datatypes.KindUpstreamError, "embedding service returned an empty vector")
	}

	return embResp.Vector, nil
}

// classifyTransportError maps transport failures onto the error taxonomy:
// deadline problems become upstream_timeout, everything else upstream_error.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return datatypes.WrapError(datatypes.KindUpstreamTimeout, "embedding provider timed out", err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return datatypes.WrapError(datatypes.KindUpstreamTimeout, "embedding provider timed out", err)
	}
	return datatypes.WrapError(datatypes.KindUpstreamError, "embedding provider unavailable", err)
}
