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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/shardwave/hsearch/internal/cache"
	"github.com/shardwave/hsearch/internal/config"
	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/namespace"
	"github.com/shardwave/hsearch/internal/objstore"
	"github.com/shardwave/hsearch/internal/wal"
)

// deps bundles every long-lived dependency a namespace engine or the HTTP
// API needs, built once at process startup from the loaded config.
type deps struct {
	cfg       config.Config
	store     objstore.Store
	cacheMgr  *cache.Manager
	readCache *manifest.ReadCache
	registry  *namespace.Registry
	logger    zerolog.Logger
}

// newStore delegates to objstore.New, the package's own backend-selection
// factory, plus the one thing it doesn't do: ensuring a local backend's root
// directory exists before anything tries to list or read from it.
func newStore(cfg config.StorageConfig) (objstore.Store, error) {
	if cfg.Backend == "local" {
		if err := os.MkdirAll(cfg.Local.Root, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage root %s: %w", cfg.Local.Root, err)
		}
	}
	return objstore.New(cfg)
}

// bootstrap loads config and wires every shared dependency, but opens no
// namespace engines itself — those are opened lazily by openNamespace as
// requests touch them (see httpapi's registry-backed lookup).
func bootstrap(configPath string) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.Logging)

	store, err := newStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	cacheMgr, err := cache.NewManager(cfg.Cache.MemorySizeBytes(), cfg.Cache.DiskSizeBytes(), cfg.Cache.DiskPath, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: cache manager: %w", err)
	}

	readCache := manifest.NewReadCache(store, 2*time.Second)

	return &deps{
		cfg:       cfg,
		store:     store,
		cacheMgr:  cacheMgr,
		readCache: readCache,
		registry:  namespace.NewRegistry(),
		logger:    logger,
	}, nil
}

// openNamespace returns the already-registered engine for name, or opens
// and registers a fresh one, wiring its WAL per storage.backend (spec §6
// "storage.s3.wal_prefix" vs. local "wal/{seq}.log" files) and replaying
// any WAL entries left from a prior crash before handing it back.
func (d *deps) openNamespace(name string) (*namespace.Namespace, error) {
	if ns, ok := d.registry.Get(name); ok {
		return ns, nil
	}

	w, err := d.openWAL(name)
	if err != nil {
		return nil, err
	}

	ns := namespace.New(name, d.store, w, d.readCache, d.cacheMgr, d.logger)
	if _, err := ns.Recover(context.Background()); err != nil {
		return nil, fmt.Errorf("bootstrap: recovering namespace %q: %w", name, err)
	}
	d.registry.Put(ns)
	return ns, nil
}

func (d *deps) openWAL(name string) (wal.WAL, error) {
	switch d.cfg.Storage.Backend {
	case "s3":
		prefix := d.cfg.Storage.S3.WALPrefix
		if prefix == "" {
			prefix = "wal"
		}
		nodeID := d.cfg.Distributed.NodeID
		if nodeID == "" {
			nodeID = "standalone"
		}
		return wal.OpenObjectStore(d.store, fmt.Sprintf("%s/%s", prefix, name), nodeID, d.logger)
	default:
		dir := filepath.Join(d.cfg.Storage.Local.Root, "wal", name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return wal.OpenLocal(dir, d.logger)
	}
}
