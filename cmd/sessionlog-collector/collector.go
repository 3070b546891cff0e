// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/bureau-foundation/sessionlog/lib/transport"
)

// maxBody bounds one upload body.
const maxBody = 32 << 20

// collector stores everything it receives in memory.
type collector struct {
	failEvery int
	logger    *slog.Logger

	mu         sync.Mutex
	uploads    int
	failed     int
	duplicates int
	seen       map[string]bool
	sessions   map[string]int
	events     int
	items      map[string]transport.Item
}

func newCollector(failEvery int, logger *slog.Logger) *collector {
	return &collector{
		failEvery: failEvery,
		logger:    logger,
		seen:      make(map[string]bool),
		sessions:  make(map[string]int),
		items:     make(map[string]transport.Item),
	}
}

// statusResponse is the GET /v1/status body.
type statusResponse struct {
	Uploads    int            `json:"uploads"`
	Failed     int            `json:"failed"`
	Duplicates int            `json:"duplicates"`
	Events     int            `json:"events"`
	Sessions   map[string]int `json:"sessions"`
	Items      []string       `json:"items"`
}

func newRouter(c *collector, token string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.Use(bearerAuth(token))
	v1.POST("/sessions", c.handleIngest)
	v1.GET("/status", c.handleStatus)
	return router
}

func bearerAuth(token string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := strings.TrimSpace(ctx.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") || strings.TrimSpace(header[7:]) != token {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx.Next()
	}
}

func (c *collector) handleIngest(ctx *gin.Context) {
	if contentType := ctx.ContentType(); contentType != transport.ContentType {
		ctx.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "content type must be " + transport.ContentType})
		return
	}
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxBody+1))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body) > maxBody {
		ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}
	payload, digest, err := transport.Decode(body, ctx.GetHeader("Content-Encoding"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key := ctx.GetHeader("Idempotency-Key")
	if key != "" && key != digest {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "idempotency key does not match body"})
		return
	}

	c.mu.Lock()
	c.uploads++
	if c.failEvery > 0 && c.uploads%c.failEvery == 0 {
		c.failed++
		c.mu.Unlock()
		c.logger.Info("upload rejected by fault injection", "idempotency_key", digest)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "injected failure"})
		return
	}
	duplicate := c.seen[digest]
	if duplicate {
		c.duplicates++
	} else {
		c.seen[digest] = true
		for _, batch := range payload.Sessions {
			c.sessions[batch.Session.SessionID] += len(batch.Events)
			c.events += len(batch.Events)
		}
		for _, item := range payload.Items {
			c.items[item.Kind+"/"+item.Key] = item
		}
	}
	c.mu.Unlock()

	c.logger.Info("upload received",
		"idempotency_key", digest,
		"duplicate", duplicate,
		"sessions", len(payload.Sessions),
		"events", payload.Records(),
		"items", len(payload.Items),
		"body_bytes", len(body),
		"content_encoding", ctx.GetHeader("Content-Encoding"),
	)
	ctx.JSON(http.StatusAccepted, gin.H{"duplicate": duplicate})
}

func (c *collector) handleStatus(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.status())
}

func (c *collector) status() statusResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	response := statusResponse{
		Uploads:    c.uploads,
		Failed:     c.failed,
		Duplicates: c.duplicates,
		Events:     c.events,
		Sessions:   make(map[string]int, len(c.sessions)),
		Items:      make([]string, 0, len(c.items)),
	}
	for id, count := range c.sessions {
		response.Sessions[id] = count
	}
	for key := range c.items {
		response.Items = append(response.Items, key)
	}
	return response
}
