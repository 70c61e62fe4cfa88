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

// Package objstore is the Object Store Adapter (spec §4 item 1): bytes over
// keys with conditional PUT (if-match / if-none-match) and range GET. Two
// backends are provided: a local filesystem implementation for development,
// and an S3-compatible implementation for production, matching the teacher's
// PersistenceEngine split between storage/persistence-files.go and
// storage/persistence-s3.go.
package objstore

import (
	"context"
	"errors"
	"io"

	"github.com/shardwave/hsearch/internal/herrors"
)

// ErrNotFound is returned by Get/GetRange/Head when the key does not exist.
var ErrNotFound = errors.New("objstore: key not found")

// ErrPreconditionFailed is returned when a conditional Put's precondition
// (expected ETag, or "must not exist") does not hold.
var ErrPreconditionFailed = errors.New("objstore: precondition failed")

// ObjectInfo describes metadata about a stored object.
type ObjectInfo struct {
	Key  string
	ETag string
	Size int64
}

// Store is the conceptual "bytes over keys" adapter every higher layer
// (WAL, segment codec, manifest) is built on.
type Store interface {
	// Get fetches the full object. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, ObjectInfo, error)

	// GetRange fetches [offset, offset+length) of the object.
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// Put writes unconditionally and returns the new object's ETag.
	Put(ctx context.Context, key string, data []byte) (ObjectInfo, error)

	// PutIfNoneMatch writes only if the key does not already exist
	// ("if-none-match: *"). Returns ErrPreconditionFailed otherwise.
	PutIfNoneMatch(ctx context.Context, key string, data []byte) (ObjectInfo, error)

	// PutIfMatch writes only if the current ETag equals expectedETag
	// ("if-match"). Returns ErrPreconditionFailed on mismatch.
	PutIfMatch(ctx context.Context, key string, data []byte, expectedETag string) (ObjectInfo, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List enumerates keys with the given prefix, lexicographically ordered.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Head returns metadata without fetching the body.
	Head(ctx context.Context, key string) (ObjectInfo, error)
}

// wrapIOErr maps a backend-specific error to the herrors taxonomy. Object
// store failures are Storage unless they are the well-known not-found /
// precondition-failed sentinels, per spec §7.
func wrapIOErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return herrors.New(herrors.NotFound, "objstore: %s %s: not found", op, key)
	case errors.Is(err, ErrPreconditionFailed):
		return herrors.New(herrors.Conflict, "objstore: %s %s: precondition failed", op, key)
	case errors.Is(err, io.EOF):
		return herrors.Wrap(herrors.Storage, err, "objstore: %s %s: truncated read", op, key)
	default:
		return herrors.Wrap(herrors.Storage, err, "objstore: %s %s", op, key)
	}
}
