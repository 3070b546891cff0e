// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information for the sessionlog
// binaries and the upload User-Agent. Values are injected at build
// time:
//
//	go build -ldflags "-X github.com/bureau-foundation/sessionlog/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
