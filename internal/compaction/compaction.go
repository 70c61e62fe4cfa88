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

// Package compaction is the Compaction Manager's trigger half (spec §4.9):
// a periodic timer that evaluates every open namespace against the
// segment-count/document-count thresholds and runs a merge pass when
// either is exceeded. The merge itself (select-smallest-M, rebuild
// indexes, publish) lives on Namespace.Compact, since it needs the same
// per-namespace write lock Upsert/Delete already hold; this package only
// decides *when* to call it. Grounded on the teacher's storageShard.rebuild
// two-phase scan-then-build merge (storage/shard.go), generalized from one
// mutable shard to one immutable segment replacing several.
package compaction

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/shardwave/hsearch/internal/config"
	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/namespace"
)

// Manager periodically compacts every namespace in its registry whose
// stats exceed the configured thresholds.
type Manager struct {
	Registry *namespace.Registry
	Config   config.CompactionConfig
	Logger   zerolog.Logger
}

// NewManager wires a Manager from its dependencies.
func NewManager(registry *namespace.Registry, cfg config.CompactionConfig, logger zerolog.Logger) *Manager {
	return &Manager{Registry: registry, Config: cfg, Logger: logger.With().Str("component", "compaction").Logger()}
}

// Run blocks, ticking every cfg.IntervalSecs (default 3600, spec §4.9) and
// sweeping every registered namespace, until ctx is cancelled. A zero or
// disabled config makes Run return immediately.
func (m *Manager) Run(ctx context.Context) {
	if !m.Config.Enabled {
		return
	}
	interval := time.Duration(m.Config.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one compaction pass over every registered namespace,
// compacting those whose stats exceed the configured triggers. Errors are
// logged per namespace rather than aborting the sweep, so one broken
// namespace can't starve the rest.
func (m *Manager) Sweep(ctx context.Context) {
	for _, ns := range m.Registry.List() {
		m.sweepOne(ctx, ns)
	}
}

func (m *Manager) sweepOne(ctx context.Context, ns *namespace.Namespace) {
	_, stats, err := ns.Metadata(ctx)
	if err != nil {
		m.Logger.Warn().Err(err).Str("namespace", ns.Name).Msg("compaction: failed to read metadata")
		return
	}
	if !m.shouldCompact(stats) {
		return
	}

	maxMerge := m.Config.MaxSegments / 10
	if maxMerge <= 0 {
		maxMerge = defaultMergeBatch
	}

	for {
		compacted, err := ns.Compact(ctx, maxMerge)
		if err != nil {
			m.Logger.Warn().Err(err).Str("namespace", ns.Name).Msg("compaction: merge failed")
			return
		}
		if !compacted {
			return
		}
		_, stats, err = ns.Metadata(ctx)
		if err != nil || !m.shouldCompact(stats) {
			return
		}
	}
}

// defaultMergeBatch is the spec §4.9 default M when compaction.max_segments
// doesn't cleanly imply a per-pass batch size.
const defaultMergeBatch = 10

func (m *Manager) shouldCompact(stats manifest.Stats) bool {
	if m.Config.MaxSegments > 0 && stats.SegmentCount > m.Config.MaxSegments {
		return true
	}
	if m.Config.MaxTotalDocs > 0 && stats.DocumentCount > m.Config.MaxTotalDocs {
		return true
	}
	return false
}
