// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sessionlog-collector is a mock ingest endpoint for development and
// integration tests. It accepts the upload protocol exactly (CBOR body,
// optional lz4/zstd Content-Encoding, bearer auth, Idempotency-Key),
// keeps what it receives in memory, and logs a line per upload.
//
// Endpoints:
//   - POST /v1/sessions (authenticated): ingest one payload
//   - GET /v1/status (authenticated): received counts
//   - GET /healthz: liveness
//
// --fail-every N answers every Nth upload with 503, for exercising
// client retry and failure isolation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sessionlog/lib/process"
	"github.com/bureau-foundation/sessionlog/lib/transport"
	"github.com/bureau-foundation/sessionlog/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listen      string
		token       string
		tokenPath   string
		failEvery   int
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("sessionlog-collector", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", "127.0.0.1:8089", "address to listen on")
	flagSet.StringVar(&token, "token", "", "bearer token clients must present")
	flagSet.StringVar(&tokenPath, "token-file", "", "read the bearer token from this file")
	flagSet.IntVar(&failEvery, "fail-every", 0, "answer every Nth upload with 503 (0 = never)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("sessionlog-collector")
		return nil
	}
	if tokenPath != "" {
		loaded, err := transport.TokenFile{Path: tokenPath}.Token(context.Background())
		if err != nil {
			return err
		}
		token = loaded
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("--token or --token-file is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := process.SignalContext()
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	collector := newCollector(failEvery, logger)
	server := &http.Server{
		Addr:              listen,
		Handler:           newRouter(collector, token),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.ListenAndServe()
	}()
	logger.Info("collector listening", "address", listen, "fail_every", failEvery)

	select {
	case err := <-serveDone:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serveDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
