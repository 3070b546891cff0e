// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads session log client configuration.
//
// Configuration comes from one file, named either by the
// SESSIONLOG_CONFIG environment variable ([Load]) or explicitly
// ([LoadFile]). The file is YAML; a .json or .jsonc file is accepted
// too, with comments and trailing commas stripped before decoding.
// Values not set in the file keep their [Default].
//
// A file may carry development, staging, and production sections that
// override base values when [Config].Environment matches. Production
// without its own section logs at warn.
//
// Path fields and the transport endpoint expand ${HOME},
// ${SESSIONLOG_BASE}, and ${VAR:-default} after loading. No other
// environment variables override config values.
package config
