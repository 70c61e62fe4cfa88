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

package wal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"time"
)

// opEnvelope is the self-describing binary payload wrapped by the
// length+CRC32 frame. JSON is deterministic here because Go's encoding/json
// always emits object keys in the struct's declared field order, so encoding
// the same Operation twice produces byte-identical output (spec §6:
// "replay is byte-identical"). This mirrors the teacher's own WAL entry
// encoding in storage/persistence-s3.go (encodeS3LogEntry/s3EncInsert), which
// also wraps a JSON payload in a length-prefixed frame.
type opEnvelope struct {
	Sequence  uint64    `json:"seq"`
	Timestamp int64     `json:"ts_unix_nano"`
	Op        Operation `json:"op"`
}

func encodeEntry(seq uint64, ts time.Time, op Operation) ([]byte, error) {
	env := opEnvelope{Sequence: seq, Timestamp: ts.UnixNano(), Op: op}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wal: encoding entry: %w", err)
	}
	return payload, nil
}

func decodeEntry(payload []byte) (Entry, error) {
	var env opEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Entry{}, err
	}
	return Entry{Sequence: env.Sequence, Timestamp: time.Unix(0, env.Timestamp), Op: env.Op}, nil
}

// frame wraps payload as u32(length) || payload || u32(crc32(payload)).
func frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload)+4)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(payload)))
	copy(out[4:4+len(payload)], payload)
	binary.LittleEndian.PutUint32(out[4+len(payload):], crc32.ChecksumIEEE(payload))
	return out
}

// frameReader incrementally parses frames out of a byte stream, classifying
// failures per the recovery algorithm in spec §4.1.
type frameReader struct {
	data []byte
	pos  int
}

type frameResult int

const (
	frameOK frameResult = iota
	frameEndOfStream
	frameStructuralCorruption // length implausible or truncated: stop entirely
	frameCRCMismatch          // skip this entry, continue
)

func (r *frameReader) next() (payload []byte, result frameResult) {
	if r.pos+4 > len(r.data) {
		if r.pos == len(r.data) {
			return nil, frameEndOfStream
		}
		return nil, frameStructuralCorruption // truncated length prefix
	}
	length := binary.LittleEndian.Uint32(r.data[r.pos : r.pos+4])
	if length > SafetyMax {
		return nil, frameStructuralCorruption
	}
	start := r.pos + 4
	end := start + int(length)
	if end+4 > len(r.data) {
		return nil, frameStructuralCorruption // truncated payload or CRC (crash during write)
	}
	body := r.data[start:end]
	storedCRC := binary.LittleEndian.Uint32(r.data[end : end+4])
	r.pos = end + 4
	if crc32.ChecksumIEEE(body) != storedCRC {
		return nil, frameCRCMismatch
	}
	return body, frameOK
}
