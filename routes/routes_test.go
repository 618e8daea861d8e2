// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyescafe/chat-core/composer"
	"github.com/eyescafe/chat-core/conversation"
	"github.com/eyescafe/chat-core/index"
	"github.com/eyescafe/chat-core/llm"
	"github.com/eyescafe/chat-core/retrieval"
)

type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type noopLLM struct{}

func (noopLLM) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	return "ok", nil
}

func (noopLLM) ChatStream(_ context.Context, _ []llm.Message, _ llm.GenerationParams, callback llm.StreamCallback) error {
	if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: "ok"}); err != nil {
		return err
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	idx := index.NewMemoryIndex()
	manager := conversation.NewManager(conversation.NewMemoryStore())
	retriever := retrieval.NewRetriever(idx, noopEmbedder{})
	comp := composer.NewComposer(noopLLM{})

	SetupRoutes(router, idx, noopEmbedder{}, manager, retriever, comp)
	return router
}

func TestSetupRoutes_RegistersAllEndpoints(t *testing.T) {
	router := newTestRouter()

	expected := map[string]string{
		"/health":               http.MethodGet,
		"/metrics":              http.MethodGet,
		"/v1/chat/stream":       http.MethodPost,
		"/v1/conversations/:id": http.MethodGet,
		"/v1/documents":         http.MethodPost,
	}

	registered := make(map[string]string)
	for _, route := range router.Routes() {
		registered[route.Path] = route.Method
	}

	for path, method := range expected {
		assert.Equal(t, method, registered[path], "route %s", path)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "healthy")
	assert.Contains(t, recorder.Body.String(), "chat-core")
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
}
