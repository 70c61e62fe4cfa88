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

package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStoreGetPutRoundTrip(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()

	info, err := s.Put(ctx, "a/b.txt", []byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, info.ETag)

	data, got, err := s.Get(ctx, "a/b.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.Equal(t, info.ETag, got.ETag)
}

func TestLocalStoreGetMissingIsNotFound(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	_, _, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorePutIfNoneMatchRejectsExisting(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()

	_, err := s.PutIfNoneMatch(ctx, "k", []byte("v1"))
	require.NoError(t, err)

	_, err = s.PutIfNoneMatch(ctx, "k", []byte("v2"))
	require.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestLocalStorePutIfMatchDetectsLostRace(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()

	info, err := s.Put(ctx, "k", []byte("v1"))
	require.NoError(t, err)

	// another writer replaces the object, invalidating info.ETag
	_, err = s.Put(ctx, "k", []byte("v2"))
	require.NoError(t, err)

	_, err = s.PutIfMatch(ctx, "k", []byte("v3"), info.ETag)
	require.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestLocalStoreGetRange(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	_, err := s.Put(ctx, "k", []byte("0123456789"))
	require.NoError(t, err)

	chunk, err := s.GetRange(ctx, "k", 2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("2345"), chunk)
}

func TestLocalStoreListOrdersByKey(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	for _, k := range []string{"ns/b", "ns/a", "ns/c"} {
		_, err := s.Put(ctx, k, []byte("x"))
		require.NoError(t, err)
	}

	items, err := s.List(ctx, "ns/")
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, []string{"ns/a", "ns/b", "ns/c"}, []string{items[0].Key, items[1].Key, items[2].Key})
}
