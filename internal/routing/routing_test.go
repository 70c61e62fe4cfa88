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

package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardwave/hsearch/internal/config"
	"github.com/shardwave/hsearch/internal/herrors"
)

func TestOwnerIsStableAcrossIdenticalTables(t *testing.T) {
	a := NewTable([]string{"node-a", "node-b", "node-c"}, "node-a")
	b := NewTable([]string{"node-c", "node-b", "node-a"}, "node-b")

	require.Equal(t, a.Owner("tenant-42"), b.Owner("tenant-42"))
}

func TestOwnsMatchesOwner(t *testing.T) {
	tbl := NewTable([]string{"node-a", "node-b"}, "node-a")
	owner := tbl.Owner("tenant-1")
	require.Equal(t, owner == "node-a", tbl.Owns("tenant-1"))
}

func TestCheckOwnerRedirectsToOwner(t *testing.T) {
	tbl := NewTable([]string{"node-a", "node-b", "node-c"}, "node-a")

	var redirected, local int
	for _, ns := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		err := tbl.CheckOwner(ns)
		if err == nil {
			local++
			continue
		}
		redirected++
		var herr *herrors.Error
		require.ErrorAs(t, err, &herr)
		require.Equal(t, herrors.WrongOwner, herr.Kind)
		require.Equal(t, tbl.Owner(ns), herr.Owner)
		require.NotEqual(t, "node-a", herr.Owner)
	}
	require.Positive(t, local)
	require.Positive(t, redirected)
}

func TestNewTableDeduplicatesAndSortsMembers(t *testing.T) {
	tbl := NewTable([]string{"b", "a", "b", "", "a"}, "a")
	require.Equal(t, []string{"a", "b"}, tbl.Nodes())
}

func TestAssertRoleDisabledIsAlwaysValid(t *testing.T) {
	require.NoError(t, AssertRole(config.DistributedConfig{Enabled: false}))
}

func TestAssertRoleIndexerMustBeClusterMember(t *testing.T) {
	cfg := config.DistributedConfig{
		Enabled: true,
		NodeID:  "node-x",
		Role:    "indexer",
		IndexerCluster: config.IndexerClusterConfig{
			Nodes: []string{"node-a", "node-b"},
		},
	}
	require.Error(t, AssertRole(cfg))

	cfg.IndexerCluster.Nodes = append(cfg.IndexerCluster.Nodes, "node-x")
	require.NoError(t, AssertRole(cfg))
}

func TestAssertRoleQueryNodeNeedNotBeClusterMember(t *testing.T) {
	cfg := config.DistributedConfig{
		Enabled: true,
		NodeID:  "query-node-1",
		Role:    "query",
	}
	require.NoError(t, AssertRole(cfg))
}

func TestAssertRoleRejectsUnknownRole(t *testing.T) {
	cfg := config.DistributedConfig{Enabled: true, NodeID: "n1", Role: "bogus"}
	require.Error(t, AssertRole(cfg))
}

func TestAssertRoleRequiresNodeID(t *testing.T) {
	cfg := config.DistributedConfig{Enabled: true, Role: "indexer"}
	require.Error(t, AssertRole(cfg))
}
