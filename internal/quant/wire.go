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

package quant

import (
	"encoding/binary"

	"github.com/shardwave/hsearch/internal/herrors"
)

// SerializeIndex bundles centroids.bin and vidx.bin into the single object
// a segment's manifest entry points its vector index key at, so the
// executor needs one object-store fetch (and one cache entry) per segment
// per query instead of two.
func (idx *PartitionIndex) SerializeIndex() []byte {
	centroids := idx.SerializeCentroids()
	postings := idx.SerializePostings()
	out := make([]byte, 0, 4+len(centroids)+len(postings))
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(centroids)))
	out = append(out, l[:]...)
	out = append(out, centroids...)
	out = append(out, postings...)
	return out
}

// DeserializeIndex reverses SerializeIndex.
func DeserializeIndex(data []byte) (*PartitionIndex, error) {
	if len(data) < 4 {
		return nil, herrors.New(herrors.Corruption, "quant: truncated index bundle length")
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) < 4+n {
		return nil, herrors.New(herrors.Corruption, "quant: truncated centroids section")
	}
	idx, err := DeserializeCentroids(data[4 : 4+n])
	if err != nil {
		return nil, err
	}
	if err := idx.DeserializePostings(data[4+n:]); err != nil {
		return nil, err
	}
	return idx, nil
}
