// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by the sessionlog
// binaries: reporting a fatal error from run() before or after the
// structured logger exists, and the shutdown signal context.
package process
