/*
Copyright (C) 2026  hsearch Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package wal is the Write-Ahead Log (spec §4.1): durable ordering of write
// operations per namespace, surviving a crash between request
// acknowledgement and segment publication. The on-disk frame format is fixed
// by spec §6: "EWAL" + version byte, then repeated u32-length-prefixed,
// CRC32-checksummed entries.
package wal

import (
	"context"
	"time"

	"github.com/shardwave/hsearch/internal/model"
)

// Magic and version identify the on-disk local-file WAL format.
const (
	Magic       = "EWAL"
	FormatVersion = byte(1)

	// SafetyMax bounds a single entry's declared length; anything larger is
	// treated as structural corruption rather than a legitimately huge entry.
	SafetyMax = 100 << 20 // 100 MiB

	// DefaultRotateSize is the suggested per-file rotation threshold.
	DefaultRotateSize = 100 << 20 // 100 MiB

	// DefaultKeepFiles is the suggested number of most-recent local files to retain.
	DefaultKeepFiles = 5
)

// OpKind distinguishes the three WAL operations (spec §3).
type OpKind string

const (
	OpUpsert OpKind = "upsert"
	OpDelete OpKind = "delete"
	OpCommit OpKind = "commit"
)

// Operation is one WAL entry's payload.
type Operation struct {
	Kind      OpKind            `json:"kind"`
	Documents []model.Document  `json:"documents,omitempty"` // OpUpsert
	IDs       []uint64          `json:"ids,omitempty"`       // OpDelete
	BatchID   string            `json:"batch_id,omitempty"`  // OpCommit
}

// Entry is a replayed or freshly-appended WAL record.
type Entry struct {
	Sequence  uint64
	Timestamp time.Time
	Op        Operation
}

// RecoveryReport summarizes a ReadAll pass, per spec §4.1's "Recovered K/N
// entries; M corrupted/truncated" log line.
type RecoveryReport struct {
	Total      int
	Recovered  int
	Corrupted  int
}

// WAL is the per-namespace durable log. Implementations: LocalWAL (one
// rotating file set per namespace) and ObjectWAL (one object-store key per
// append), matching the two backends spec §4.1 allows.
type WAL interface {
	// Append serializes op, durably appends it, and returns its sequence
	// number. Sequence numbers are strictly increasing per namespace (spec
	// §8 invariant 1). Returns a Storage error on I/O failure; callers must
	// not acknowledge the write to the client in that case.
	Append(ctx context.Context, op Operation) (uint64, error)

	// Sync forces any buffered entries to durable medium.
	Sync(ctx context.Context) error

	// ReadAll replays the log for crash recovery, returning salvaged
	// entries in sequence order and a summary report.
	ReadAll(ctx context.Context) ([]Entry, RecoveryReport, error)

	// Truncate deletes all log data for the namespace. Called only after a
	// manifest publish succeeds.
	Truncate(ctx context.Context) error

	// Close releases any open file handles.
	Close() error
}
