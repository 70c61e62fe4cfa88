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
	"fmt"
	"sort"

	"github.com/shardwave/hsearch/internal/herrors"
)

// blockTargetBytes is the nominal size of one posting-list block before a
// new block (and its firstID/count skip header) starts, per spec §4.3's
// "4-16 KiB blocks, with a light header per block (first id, count) for
// skip".
const blockTargetBytes = 8 << 10

// PostingEntry is one (document, coarse code) pair inside a cluster's
// posting list.
type PostingEntry struct {
	DocID uint64
	Code  Code
}

// PostingList is one centroid's entries, sorted by DocID ascending so
// DocIDΔ (delta) encoding is always non-negative.
type PostingList struct {
	Entries []PostingEntry
}

// BuildPostingLists groups (docID, code) pairs by their assigned centroid.
func BuildPostingLists(k int, docIDs []uint64, codes []Code, assignments []int) []PostingList {
	lists := make([]PostingList, k)
	for i, a := range assignments {
		lists[a].Entries = append(lists[a].Entries, PostingEntry{DocID: docIDs[i], Code: codes[i]})
	}
	for c := range lists {
		sort.Slice(lists[c].Entries, func(i, j int) bool { return lists[c].Entries[i].DocID < lists[c].Entries[j].DocID })
	}
	return lists
}

// codeWords is the number of uint64 words a Code occupies for a given
// codebook, matching Codebook.Encode's allocation.
func codeWords(dim, bitsPerDim int) int { return (dim*bitsPerDim+63)/64 + 1 }

// Encode serializes one posting list into block-aligned form: repeated
// blocks of [firstID varint][count varint][per-entry: docIDDelta varint,
// code words]], each block sized to blockTargetBytes where possible so a
// reader can skip whole blocks using the header before decoding entries.
func (pl PostingList) Encode(dim, bitsPerDim int) []byte {
	words := codeWords(dim, bitsPerDim)
	entryBytes := words*8 + binary.MaxVarintLen64
	perBlock := blockTargetBytes / entryBytes
	if perBlock < 1 {
		perBlock = 1
	}

	buf := make([]byte, 0, len(pl.Entries)*entryBytes+16)
	varintTmp := make([]byte, binary.MaxVarintLen64)

	for start := 0; start < len(pl.Entries); start += perBlock {
		end := start + perBlock
		if end > len(pl.Entries) {
			end = len(pl.Entries)
		}
		block := pl.Entries[start:end]

		n := binary.PutUvarint(varintTmp, block[0].DocID)
		buf = append(buf, varintTmp[:n]...)
		n = binary.PutUvarint(varintTmp, uint64(len(block)))
		buf = append(buf, varintTmp[:n]...)

		prev := block[0].DocID
		for _, e := range block {
			delta := e.DocID - prev
			n := binary.PutUvarint(varintTmp, delta)
			buf = append(buf, varintTmp[:n]...)
			prev = e.DocID
			for _, w := range e.Code {
				var wb [8]byte
				binary.LittleEndian.PutUint64(wb[:], w)
				buf = append(buf, wb[:]...)
			}
		}
	}
	return buf
}

// DecodePostingList reverses Encode.
func DecodePostingList(data []byte, dim, bitsPerDim int) (PostingList, error) {
	words := codeWords(dim, bitsPerDim)
	var pl PostingList
	pos := 0
	for pos < len(data) {
		firstID, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return PostingList{}, herrors.New(herrors.Corruption, "posting list: truncated block header (firstID)")
		}
		pos += n
		count, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return PostingList{}, herrors.New(herrors.Corruption, "posting list: truncated block header (count)")
		}
		pos += n

		prev := firstID
		for i := uint64(0); i < count; i++ {
			delta, n := binary.Uvarint(data[pos:])
			if n <= 0 {
				return PostingList{}, herrors.New(herrors.Corruption, "posting list: truncated entry delta")
			}
			pos += n
			id := prev + delta
			prev = id

			if pos+words*8 > len(data) {
				return PostingList{}, herrors.New(herrors.Corruption, "posting list: truncated code")
			}
			code := make(Code, words)
			for w := 0; w < words; w++ {
				code[w] = binary.LittleEndian.Uint64(data[pos:])
				pos += 8
			}
			pl.Entries = append(pl.Entries, PostingEntry{DocID: id, Code: code})
		}
	}
	return pl, nil
}

func (pl PostingList) String() string {
	return fmt.Sprintf("PostingList(%d entries)", len(pl.Entries))
}
