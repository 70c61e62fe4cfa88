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

package fulltext

import (
	"context"
	"fmt"

	"github.com/shardwave/hsearch/internal/objstore"
)

// ObjectKey is the object-store key one field's flushed index is published
// under (spec §4.4's "object-store-backed directory" option, resolved per
// DESIGN.md's Open Question decision).
func ObjectKey(namespace, segmentID, field string) string {
	return fmt.Sprintf("ns/%s/segments/%s/fts/%s.idx", namespace, segmentID, field)
}

// Publish uploads a flushed field index blob to the object store.
func Publish(ctx context.Context, store objstore.Store, namespace, segmentID, field string, blob []byte) error {
	key := ObjectKey(namespace, segmentID, field)
	_, err := store.Put(ctx, key, blob)
	return err
}

// OpenFromObjectStore fetches and parses a field index, for callers that
// are not going through the cache manager (e.g. compaction, which reads
// every field of every input segment once).
func OpenFromObjectStore(ctx context.Context, store objstore.Store, namespace, segmentID, field string) (*Reader, error) {
	data, _, err := store.Get(ctx, ObjectKey(namespace, segmentID, field))
	if err != nil {
		return nil, err
	}
	return Open(data)
}
