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

package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/hsearch/internal/cache"
	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/namespace"
	"github.com/shardwave/hsearch/internal/objstore"
	"github.com/shardwave/hsearch/internal/routing"
	"github.com/shardwave/hsearch/internal/wal"
)

// memOpener lazily constructs one in-memory namespace engine per name,
// mirroring cmd/hsearchd's registry-backed Opener without needing a real
// object store per test.
type memOpener struct {
	mu  sync.Mutex
	dir string
	ns  map[string]*namespace.Namespace
}

func newMemOpener(t *testing.T) *memOpener {
	return &memOpener{dir: t.TempDir(), ns: make(map[string]*namespace.Namespace)}
}

func (o *memOpener) Open(name string) (*namespace.Namespace, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ns, ok := o.ns[name]; ok {
		return ns, nil
	}
	store := objstore.NewLocalStore(o.dir)
	cacheMgr, err := cache.NewManager(1<<20, 1<<20, o.dir, zerolog.Nop())
	if err != nil {
		return nil, err
	}
	w, err := wal.OpenLocal(o.dir+"/"+name, zerolog.Nop())
	if err != nil {
		return nil, err
	}
	readCache := manifest.NewReadCache(store, time.Millisecond)
	ns := namespace.New(name, store, w, readCache, cacheMgr, zerolog.Nop())
	o.ns[name] = ns
	return ns, nil
}

func newTestServer(t *testing.T) (*Server, *memOpener) {
	opener := newMemOpener(t)
	return NewServer(opener, nil, nil, zerolog.Nop()), opener
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestCreateNamespaceThenGetMetadata(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPut, "/v1/namespaces/widgets", map[string]any{
		"vector_dim":    4,
		"vector_metric": "cosine",
		"attributes":    map[string]any{},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/namespaces/widgets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "widgets", got["namespace"])
}

func TestCreateNamespaceStrictConflict(t *testing.T) {
	s, _ := newTestServer(t)
	schema := map[string]any{"vector_dim": 2, "vector_metric": "l2", "attributes": map[string]any{}}

	rec := doJSON(t, s, http.MethodPut, "/v1/namespaces/widgets", schema)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPut, "/v1/namespaces/widgets", schema)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpsertThenQueryRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	schema := map[string]any{
		"vector_dim":    3,
		"vector_metric": "l2",
		"attributes": map[string]any{
			"color": map[string]any{"type": "string", "indexed": true, "full_text": "disabled"},
		},
	}
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPut, "/v1/namespaces/widgets", schema).Code)

	upsertBody := map[string]any{
		"documents": []map[string]any{
			{"id": 1, "vector": []float32{1, 0, 0}, "attributes": map[string]any{"color": "red"}},
			{"id": 2, "vector": []float32{0, 1, 0}, "attributes": map[string]any{"color": "blue"}},
		},
	}
	rec := doJSON(t, s, http.MethodPost, "/v1/namespaces/widgets/upsert", upsertBody)
	require.Equal(t, http.StatusOK, rec.Code)

	queryBody := map[string]any{"query_vector": []float32{1, 0, 0}, "top_k": 2}
	rec = doJSON(t, s, http.MethodPost, "/v1/namespaces/widgets/query", queryBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var result resultBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.Hits)
}

func TestDeleteRemovesDocumentFromExport(t *testing.T) {
	s, _ := newTestServer(t)
	schema := map[string]any{"vector_dim": 2, "vector_metric": "l2", "attributes": map[string]any{}}
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPut, "/v1/namespaces/widgets", schema).Code)

	upsertBody := map[string]any{"documents": []map[string]any{{"id": 1, "vector": []float32{1, 2}}}}
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/v1/namespaces/widgets/upsert", upsertBody).Code)

	rec := doJSON(t, s, http.MethodPost, "/v1/namespaces/widgets/delete", map[string]any{"ids": []uint64{1}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/namespaces/widgets/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Empty(t, got["documents"])
}

func TestQueryAgainstMissingNamespaceReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/namespaces/ghost/query", map[string]any{"top_k": 5})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedUpsertBodyReturns400(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/namespaces/widgets/upsert", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteToNonOwningNodeRedirects(t *testing.T) {
	opener := newMemOpener(t)
	table := routing.NewTable([]string{"node-a", "node-b"}, "node-a")
	owner := table.Owner("widgets")
	var notSelf string
	if owner == "node-a" {
		notSelf = "node-b"
	} else {
		notSelf = "node-a"
	}
	selfTable := routing.NewTable([]string{"node-a", "node-b"}, notSelf)
	s := NewServer(opener, nil, selfTable, zerolog.Nop())

	schema := map[string]any{"vector_dim": 2, "vector_metric": "l2", "attributes": map[string]any{}}
	rec := doJSON(t, s, http.MethodPut, "/v1/namespaces/widgets", schema)
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Namespace-Owner"))
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hsearch_http_requests_total")
}

// sanity check that OpenerFunc satisfies Opener, and that herrors.KindOf
// (which writeError uses to pick the status) recovers the error's Kind.
func TestOpenerFuncAdapts(t *testing.T) {
	var o Opener = OpenerFunc(func(name string) (*namespace.Namespace, error) {
		return nil, herrors.New(herrors.NotFound, "no such namespace %q", name)
	})
	_, err := o.Open("x")
	require.Error(t, err)
	require.Equal(t, herrors.NotFound, herrors.KindOf(err))
}
