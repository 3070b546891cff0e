// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package outbox holds keyed values that must reach the server
// eventually, such as answers a user gave while offline. Values live
// in a SQLite database until a send is acknowledged; putting a key
// again before delivery replaces its value, and a delivery that raced
// with such a replacement leaves the newer value pending.
//
// [Module] plugs an Outbox into the sync manager alongside the session
// log.
package outbox
