// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the HTTP surface of the chat core.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eyescafe/chat-core/composer"
	"github.com/eyescafe/chat-core/conversation"
	"github.com/eyescafe/chat-core/embedding"
	"github.com/eyescafe/chat-core/handlers"
	"github.com/eyescafe/chat-core/index"
	"github.com/eyescafe/chat-core/retrieval"
)

// SetupRoutes registers all endpoints on the router.
func SetupRoutes(router *gin.Engine, idx index.DocumentIndex, embedder embedding.Provider,
	manager *conversation.Manager, retriever *retrieval.Retriever, comp *composer.Composer) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chatHandler := handlers.NewChatHandler(manager, retriever, comp)

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/stream", chatHandler.HandleChatStream)
		v1.GET("/conversations/:id", chatHandler.HandleGetConversation)
		v1.POST("/documents", handlers.IngestDocument(idx, embedder))
	}
}
