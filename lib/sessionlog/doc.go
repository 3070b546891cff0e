// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionlog assembles a complete client from a
// [config.Config]: the session reader and storage, the HTTP
// transport, the sync modules for the session log and the outbox, the
// sync manager, and the lifecycle controller.
//
//	client, err := sessionlog.Open(ctx, cfg, sessionlog.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	client.LogEvent(ctx, "screen_viewed", map[string]any{"screen": "home"})
//	client.HandleSignal(ctx, lifecycle.SignalWillResignActive)
//
// Components are also reachable individually for callers that need
// more than the convenience methods.
package sessionlog
