// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/sessionlog/lib/clock"
	"github.com/bureau-foundation/sessionlog/lib/config"
	"github.com/bureau-foundation/sessionlog/lib/eventstore"
	"github.com/bureau-foundation/sessionlog/lib/lifecycle"
	"github.com/bureau-foundation/sessionlog/lib/logbridge"
	"github.com/bureau-foundation/sessionlog/lib/outbox"
	"github.com/bureau-foundation/sessionlog/lib/sessionreader"
	"github.com/bureau-foundation/sessionlog/lib/sessionstorage"
	"github.com/bureau-foundation/sessionlog/lib/sessionsync"
	"github.com/bureau-foundation/sessionlog/lib/syncmanager"
	"github.com/bureau-foundation/sessionlog/lib/transport"
)

// OutboxItemKind is the item kind outbox records are uploaded as.
const OutboxItemKind = "outbox"

// Options are the runtime collaborators that do not belong in a
// configuration file. Every field is optional.
type Options struct {
	// Logger receives the client's own diagnostics. Defaults to JSON
	// on stderr at logging.level. It must not route into LogHandler.
	Logger *slog.Logger

	Clock clock.Clock

	// Tokens overrides transport.token_path.
	Tokens transport.TokenSource

	// HTTPClient is used for uploads.
	HTTPClient *http.Client

	// NewSessionID generates session ids.
	NewSessionID func() string
}

// Client is an assembled session log: storage, sync, lifecycle
// handling, and the optional outbox.
type Client struct {
	logger    *slog.Logger
	storage   *sessionstorage.Storage
	outbox    *outbox.Outbox
	manager   *syncmanager.Manager
	lifecycle *lifecycle.Controller
	bridge    *logbridge.Handler

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	runDone chan struct{}
	closed  bool
}

// Open validates cfg and builds every component. No goroutine other
// than the storage worker runs until Start.
func Open(ctx context.Context, cfg *config.Config, options Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sessionlog: invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, fmt.Errorf("sessionlog: %w", err)
	}
	logger := options.Logger
	if logger == nil {
		level, _ := logbridge.ParseLevel(cfg.Logging.Level)
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	fileMode, _ := cfg.FileMode()
	compression, _ := cfg.Compression()

	reader, err := sessionreader.New(sessionreader.Config{
		BasePath: cfg.Paths.Base,
		LockPath: cfg.Storage.LockPath,
		FileMode: fileMode,
		Clock:    options.Clock,
		Logger:   logger.With("component", "sessionreader"),
		NewID:    options.NewSessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("sessionlog: %w", err)
	}
	storage, err := sessionstorage.New(sessionstorage.Config{
		Reader:     reader,
		Clock:      options.Clock,
		Logger:     logger.With("component", "sessionstorage"),
		QueueDepth: cfg.Storage.QueueDepth,
	})
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("sessionlog: %w", err)
	}
	client := &Client{logger: logger, storage: storage}

	// Without an endpoint there is no uploader and no auth provider:
	// data accumulates and sync requests are skipped.
	var uploader *transport.Client
	if cfg.Transport.Endpoint != "" {
		tokens := options.Tokens
		if tokens == nil {
			tokens = transport.TokenFile{Path: cfg.Transport.TokenPath}
		}
		uploader, err = transport.NewClient(transport.Config{
			Endpoint:    cfg.Transport.Endpoint,
			Tokens:      tokens,
			Compression: compression,
			Timeout:     timeDuration(cfg.Transport.Timeout),
			HTTPClient:  options.HTTPClient,
			UserAgent:   cfg.Transport.UserAgent,
			Logger:      logger.With("component", "transport"),
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("sessionlog: %w", err), client.closeComponents())
		}
	}

	if path := cfg.OutboxPath(); path != "" {
		client.outbox, err = outbox.Open(ctx, outbox.Config{
			Path:   path,
			Clock:  options.Clock,
			Logger: logger.With("component", "outbox"),
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("sessionlog: %w", err), client.closeComponents())
		}
	}

	managerConfig := syncmanager.Config{
		Interval: timeDuration(cfg.Sync.Interval),
		Clock:    options.Clock,
		Logger:   logger.With("component", "syncmanager"),
	}
	if uploader != nil {
		managerConfig.AuthProvider = uploader
		managerConfig.Modules = append(managerConfig.Modules, sessionsync.New(sessionsync.Config{
			Storage:          storage,
			Uploader:         uploader,
			MaxBatchBytes:    cfg.Sync.MaxBatchBytes,
			MaxBatchSessions: cfg.Sync.MaxBatchSessions,
			Logger:           logger.With("component", "sessionsync"),
		}))
		if client.outbox != nil {
			module, err := outbox.NewModule(outbox.ModuleConfig{
				Outbox:   client.outbox,
				Send:     sendItems(uploader),
				MaxBatch: cfg.Sync.OutboxBatch,
				Logger:   logger.With("component", "outbox"),
			})
			if err != nil {
				return nil, errors.Join(fmt.Errorf("sessionlog: %w", err), client.closeComponents())
			}
			managerConfig.Modules = append(managerConfig.Modules, module)
		}
	}
	client.manager = syncmanager.New(managerConfig)

	client.lifecycle, err = lifecycle.New(lifecycle.Config{
		Storage:          storage,
		Sync:             client.manager,
		Table:            cfg.SignalTable(),
		BackgroundBudget: timeDuration(cfg.Sync.BackgroundBudget),
		Clock:            options.Clock,
		Logger:           logger.With("component", "lifecycle"),
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("sessionlog: %w", err), client.closeComponents())
	}

	if cfg.Logging.BridgeLevel != "" {
		level, _ := logbridge.ParseLevel(cfg.Logging.BridgeLevel)
		client.bridge = logbridge.NewHandler(level)
		client.bridge.SetSink(storage)
	}
	return client, nil
}

// sendItems uploads outbox records as payload items.
func sendItems(uploader *transport.Client) outbox.SendFunc {
	return func(ctx context.Context, records []outbox.Record) error {
		items := make([]transport.Item, len(records))
		for index, record := range records {
			items[index] = transport.Item{
				Kind:      OutboxItemKind,
				Key:       record.Key,
				Value:     record.Value,
				UpdatedAt: record.UpdatedAt,
			}
		}
		return uploader.Upload(ctx, transport.Payload{Items: items})
	}
}

// Start creates or resumes the current session, starts the sync
// manager, and reports the application active. The manager runs until
// Close.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return sessionstorage.ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("sessionlog: already started")
	}
	c.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.runDone = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.runDone)
		if err := c.manager.Run(runCtx); err != nil {
			c.logger.Error("sync manager stopped", "error", err)
		}
	}()

	if err := c.storage.InitializeSessions(ctx); err != nil {
		return fmt.Errorf("sessionlog: initializing sessions: %w", err)
	}
	return c.lifecycle.Handle(ctx, lifecycle.SignalBecameActive)
}

// Close stops the sync manager (after any in-flight cycle), then
// closes storage and the outbox. The current session is suspended, not
// ended, so the next process resumes it.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, runDone := c.cancel, c.runDone
	c.mu.Unlock()

	if c.bridge != nil {
		c.bridge.SetSink(nil)
	}
	c.lifecycle.Stop()
	if cancel != nil {
		cancel()
		<-runDone
	}
	return c.closeComponents()
}

func (c *Client) closeComponents() error {
	var errs []error
	if err := c.storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing storage: %w", err))
	}
	if c.outbox != nil {
		if err := c.outbox.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing outbox: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HandleSignal applies a lifecycle signal.
func (c *Client) HandleSignal(ctx context.Context, signal lifecycle.Signal) error {
	return c.lifecycle.Handle(ctx, signal)
}

// LogEvent records a named event on the current session.
func (c *Client) LogEvent(ctx context.Context, name string, metadata map[string]any) error {
	return c.storage.AppendEvent(ctx, eventstore.Event{Name: name, Metadata: metadata})
}

// Storage returns the session storage.
func (c *Client) Storage() *sessionstorage.Storage { return c.storage }

// Sync returns the sync manager.
func (c *Client) Sync() *syncmanager.Manager { return c.manager }

// Lifecycle returns the lifecycle controller.
func (c *Client) Lifecycle() *lifecycle.Controller { return c.lifecycle }

// Outbox returns the outbox, or nil when it is disabled.
func (c *Client) Outbox() *outbox.Outbox { return c.outbox }

// LogHandler returns the handler that records log entries as session
// events, or nil when logging.bridge_level is unset.
func (c *Client) LogHandler() *logbridge.Handler { return c.bridge }

func timeDuration(d config.Duration) time.Duration { return time.Duration(d) }
