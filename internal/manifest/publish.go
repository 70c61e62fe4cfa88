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

package manifest

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/objstore"
)

// DefaultMaxPublishRetries bounds the read-mutate-CAS loop in Publish. The
// sharding invariant (spec §4.11: one indexer owns a namespace) means
// contention here should never happen in practice; observed retries are a
// sign of a routing bug and are logged loudly.
const DefaultMaxPublishRetries = 5

// MutateFunc builds the next manifest generation from the previous one (nil
// if this is the namespace's first publish). The returned Manifest's
// Version/Namespace fields are overwritten by Publish; callers only need to
// set Schema/Segments/WALWatermark.
type MutateFunc func(prev *Manifest) (*Manifest, error)

// ReadCurrent resolves a namespace's active manifest by following the
// current.txt pointer. Returns herrors NotFound if the namespace has never
// published (strong read semantics: always re-reads the pointer).
func ReadCurrent(ctx context.Context, store objstore.Store, namespace string) (*Manifest, objstore.ObjectInfo, error) {
	data, info, err := store.Get(ctx, pointerKey(namespace))
	if err != nil {
		return nil, objstore.ObjectInfo{}, err
	}
	var p pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, objstore.ObjectInfo{}, herrors.Wrap(herrors.Corruption, err, "manifest: decoding pointer for %q", namespace)
	}
	m, err := readVersion(ctx, store, namespace, p.Version)
	if err != nil {
		return nil, objstore.ObjectInfo{}, err
	}
	return m, info, nil
}

func readVersion(ctx context.Context, store objstore.Store, namespace string, version int) (*Manifest, error) {
	data, _, err := store.Get(ctx, manifestKey(namespace, version))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, herrors.Wrap(herrors.Corruption, err, "manifest: decoding %s v%d", namespace, version)
	}
	return &m, nil
}

// Publish runs the publication protocol from spec §4.7:
//  1. read the current pointer,
//  2. build the next manifest generation via mutate,
//  3. write it under its own immutable key,
//  4. conditionally swap the pointer (if-match on the previous pointer ETag,
//     or if-none-match when this is the first publish),
//  5. retry from (1) on a conflicting pointer write.
//
// Truncating the WAL up to the published watermark is the caller's
// responsibility (spec §4.10 step 5), done only after Publish returns
// successfully.
func Publish(ctx context.Context, store objstore.Store, namespace string, mutate MutateFunc, logger zerolog.Logger) (*Manifest, error) {
	for attempt := 0; attempt < DefaultMaxPublishRetries; attempt++ {
		prev, pointerInfo, err := ReadCurrent(ctx, store, namespace)
		bootstrapping := false
		if err != nil {
			if herrors.KindOf(err) != herrors.NotFound {
				return nil, err
			}
			bootstrapping = true
			prev = nil
		}

		next, err := mutate(prev)
		if err != nil {
			return nil, err
		}
		next.Namespace = namespace
		if prev == nil {
			next.Version = 1
		} else {
			next.Version = prev.Version + 1
		}
		next.ComputeStats()

		body, err := json.Marshal(next)
		if err != nil {
			return nil, herrors.Wrap(herrors.Storage, err, "manifest: encoding v%d for %q", next.Version, namespace)
		}
		if _, err := store.PutIfNoneMatch(ctx, manifestKey(namespace, next.Version), body); err != nil {
			return nil, herrors.Wrap(herrors.Storage, err, "manifest: writing v%d for %q", next.Version, namespace)
		}

		pointerBody, err := json.Marshal(pointer{Version: next.Version})
		if err != nil {
			return nil, herrors.Wrap(herrors.Storage, err, "manifest: encoding pointer for %q", namespace)
		}

		if bootstrapping {
			_, err = store.PutIfNoneMatch(ctx, pointerKey(namespace), pointerBody)
		} else {
			_, err = store.PutIfMatch(ctx, pointerKey(namespace), pointerBody, pointerInfo.ETag)
		}
		if err == nil {
			return next, nil
		}
		if herrors.KindOf(err) != herrors.Conflict {
			return nil, err
		}
		logger.Warn().Str("namespace", namespace).Int("attempt", attempt).
			Msg("manifest pointer CAS conflict, retrying publish")
	}
	return nil, herrors.New(herrors.Conflict, "manifest: exceeded %d publish retries for %q", DefaultMaxPublishRetries, namespace)
}
