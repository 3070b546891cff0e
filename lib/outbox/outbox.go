// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/sessionlog/lib/clock"
	"github.com/bureau-foundation/sessionlog/lib/codec"
	"github.com/bureau-foundation/sessionlog/lib/sqlitepool"
)

// migrations is the schema history. Append only.
var migrations = []string{`
CREATE TABLE pending (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	revision   INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX pending_by_update ON pending (updated_at, key);
CREATE TABLE delivered (
	key          TEXT PRIMARY KEY,
	delivered_at INTEGER NOT NULL
);
`}

// Record is one pending value. Value is its CBOR encoding.
type Record struct {
	Key       string
	Value     []byte
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Attempts  int
}

// Decode unmarshals the record's value into v.
func (r Record) Decode(v any) error {
	return codec.Unmarshal(r.Value, v)
}

// Config configures an Outbox.
type Config struct {
	// Path is the database file.
	Path string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Outbox is a durable keyed set of values waiting to be delivered.
// Putting a key that is already pending replaces its value.
type Outbox struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens or creates the outbox database.
func Open(ctx context.Context, config Config) (*Outbox, error) {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:       config.Path,
		Migrations: migrations,
		Logger:     config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox: %w", err)
	}
	return &Outbox{pool: pool, clock: config.Clock, logger: config.Logger}, nil
}

// Close closes the database.
func (o *Outbox) Close() error {
	return o.pool.Close()
}

// Put stores value under key, replacing any pending value and bumping
// its revision. A key that was delivered before becomes pending again.
func (o *Outbox) Put(ctx context.Context, key string, value any) error {
	if key == "" {
		return errors.New("outbox: empty key")
	}
	encoded, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("outbox: encoding %s: %w", key, err)
	}
	now := o.clock.Now().UnixNano()
	return o.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO pending (key, value, revision, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				value = excluded.value,
				revision = pending.revision + 1,
				updated_at = excluded.updated_at`,
			&sqlitex.ExecOptions{Args: []any{key, encoded, now, now}})
		if err != nil {
			return fmt.Errorf("outbox: storing %s: %w", key, err)
		}
		return sqlitex.Execute(conn, "DELETE FROM delivered WHERE key = ?",
			&sqlitex.ExecOptions{Args: []any{key}})
	})
}

// Get returns the pending record for key.
func (o *Outbox) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		record Record
		found  bool
	)
	err := o.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectColumns+" WHERE key = ?", &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record = scanRecord(stmt)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("outbox: reading %s: %w", key, err)
	}
	return record, found, nil
}

// Pending returns up to limit records, least recently updated first.
// A limit of zero or less returns all of them.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	var records []Record
	err := o.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectColumns+" ORDER BY updated_at, key LIMIT ?", &sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				records = append(records, scanRecord(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("outbox: listing pending: %w", err)
	}
	return records, nil
}

// Count returns the number of pending records.
func (o *Outbox) Count(ctx context.Context) (int, error) {
	var count int
	err := o.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT count(*) FROM pending", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("outbox: counting pending: %w", err)
	}
	return count, nil
}

// Delivered reports whether key was acknowledged and not put again
// since.
func (o *Outbox) Delivered(ctx context.Context, key string) (bool, error) {
	var delivered bool
	err := o.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT 1 FROM delivered WHERE key = ?", &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				delivered = true
				return nil
			},
		})
	})
	if err != nil {
		return false, fmt.Errorf("outbox: reading delivery of %s: %w", key, err)
	}
	return delivered, nil
}

// Acknowledge removes records that were delivered. A record whose key
// was put again after it was read (a newer revision) stays pending.
// Returns how many were removed.
func (o *Outbox) Acknowledge(ctx context.Context, records []Record) (int, error) {
	removed := 0
	now := o.clock.Now().UnixNano()
	err := o.pool.Write(ctx, func(conn *sqlite.Conn) error {
		for _, record := range records {
			err := sqlitex.Execute(conn, "DELETE FROM pending WHERE key = ? AND revision = ?",
				&sqlitex.ExecOptions{Args: []any{record.Key, record.Revision}})
			if err != nil {
				return err
			}
			if conn.Changes() == 0 {
				continue
			}
			removed++
			err = sqlitex.Execute(conn, `
				INSERT INTO delivered (key, delivered_at) VALUES (?, ?)
				ON CONFLICT (key) DO UPDATE SET delivered_at = excluded.delivered_at`,
				&sqlitex.ExecOptions{Args: []any{record.Key, now}})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("outbox: acknowledging: %w", err)
	}
	return removed, nil
}

// RecordFailure increments the attempt count of records that could
// not be delivered.
func (o *Outbox) RecordFailure(ctx context.Context, records []Record) error {
	err := o.pool.Write(ctx, func(conn *sqlite.Conn) error {
		for _, record := range records {
			err := sqlitex.Execute(conn, "UPDATE pending SET attempts = attempts + 1 WHERE key = ?",
				&sqlitex.ExecOptions{Args: []any{record.Key}})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox: recording failure: %w", err)
	}
	return nil
}

const selectColumns = "SELECT key, value, revision, created_at, updated_at, attempts FROM pending"

func scanRecord(stmt *sqlite.Stmt) Record {
	value := make([]byte, stmt.ColumnLen(1))
	stmt.ColumnBytes(1, value)
	return Record{
		Key:       stmt.ColumnText(0),
		Value:     value,
		Revision:  stmt.ColumnInt64(2),
		CreatedAt: time.Unix(0, stmt.ColumnInt64(3)).UTC(),
		UpdatedAt: time.Unix(0, stmt.ColumnInt64(4)).UTC(),
		Attempts:  stmt.ColumnInt(5),
	}
}
