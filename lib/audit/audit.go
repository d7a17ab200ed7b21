// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/bureau-root-agent/lib/peercred"
	"github.com/bureau-foundation/bureau-root-agent/lib/sqlitepool"
)

// DefaultQueryLimit applies when a Filter has no positive Limit.
const DefaultQueryLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id          INTEGER PRIMARY KEY,
	request_id  TEXT    NOT NULL,
	time_ns     INTEGER NOT NULL,
	action      TEXT    NOT NULL,
	params      BLOB,
	peer_pid    INTEGER,
	peer_uid    INTEGER,
	peer_gid    INTEGER,
	ok          INTEGER NOT NULL,
	error       TEXT    NOT NULL DEFAULT '',
	duration_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS requests_action ON requests (action, id);
`

// Record is one dispatched request.
type Record struct {
	RequestID string
	Time      time.Time
	Action    string
	Params    map[string]any

	// Peer is nil when credentials could not be read.
	Peer *peercred.Credentials

	OK       bool
	Error    string
	Duration time.Duration
}

// Recorder accepts audit records. *Log implements it; the dispatcher
// takes the interface so tests can capture records in memory.
type Recorder interface {
	Record(ctx context.Context, record Record) error
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	Action string
	Limit  int
}

// Config holds the parameters for opening a Log.
type Config struct {
	Path   string
	Logger *slog.Logger
}

// Log is the SQLite-backed audit log. Safe for concurrent use.
type Log struct {
	pool    *sqlitepool.Pool
	logger  *slog.Logger
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens (creating if needed) the audit database at cfg.Path.
func Open(cfg Config) (*Log, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("audit: zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("audit: zstd decoder: %w", err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		encoder.Close()
		decoder.Close()
		return nil, fmt.Errorf("audit: %w", err)
	}

	return &Log{
		pool:    pool,
		logger:  logger,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	err := l.pool.Close()
	l.encoder.Close()
	l.decoder.Close()
	return err
}

// Record appends one row.
func (l *Log) Record(ctx context.Context, record Record) error {
	var params any
	if len(record.Params) > 0 {
		data, err := json.Marshal(record.Params)
		if err != nil {
			return fmt.Errorf("audit: marshal params: %w", err)
		}
		params = l.encoder.EncodeAll(data, nil)
	}

	ok := 0
	if record.OK {
		ok = 1
	}

	var pid, uid, gid any
	if record.Peer != nil {
		pid = int64(record.Peer.PID)
		uid = int64(record.Peer.UID)
		gid = int64(record.Peer.GID)
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO requests
		(request_id, time_ns, action, params, peer_pid, peer_uid, peer_gid,
		 ok, error, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			record.RequestID,
			record.Time.UnixNano(),
			record.Action,
			params,
			pid, uid, gid,
			ok,
			record.Error,
			int64(record.Duration),
		},
	})
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Query returns the most recent records matching filter, newest first.
func (l *Log) Query(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var conditions []string
	var args []any
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}

	query := `SELECT request_id, time_ns, action, params, peer_pid, peer_uid,
		peer_gid, ok, error, duration_ns FROM requests`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer l.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record := Record{
				RequestID: stmt.ColumnText(0),
				Time:      time.Unix(0, stmt.ColumnInt64(1)),
				Action:    stmt.ColumnText(2),
				OK:        stmt.ColumnInt64(7) != 0,
				Error:     stmt.ColumnText(8),
				Duration:  time.Duration(stmt.ColumnInt64(9)),
			}
			if stmt.ColumnLen(3) > 0 {
				compressed := make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, compressed)
				params, err := l.decodeParams(compressed)
				if err != nil {
					return fmt.Errorf("request %s: %w", record.RequestID, err)
				}
				record.Params = params
			}
			if stmt.ColumnType(4) != sqlite.TypeNull {
				record.Peer = &peercred.Credentials{
					PID: int32(stmt.ColumnInt64(4)),
					UID: uint32(stmt.ColumnInt64(5)),
					GID: uint32(stmt.ColumnInt64(6)),
				}
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return records, nil
}

func (l *Log) decodeParams(compressed []byte) (map[string]any, error) {
	data, err := l.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress params: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var params map[string]any
	if err := decoder.Decode(&params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return params, nil
}
