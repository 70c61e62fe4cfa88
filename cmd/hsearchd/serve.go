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
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dc0d/onexit"
	"github.com/spf13/cobra"

	"github.com/shardwave/hsearch/internal/compaction"
	"github.com/shardwave/hsearch/internal/httpapi"
	"github.com/shardwave/hsearch/internal/routing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, background compaction sweeper, and (in distributed mode) routing checks",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	onexit.Register(func() { d.logger.Info().Msg("hsearchd shutting down") })

	var table *routing.Table
	if d.cfg.Distributed.Enabled {
		if err := routing.AssertRole(d.cfg.Distributed); err != nil {
			return err
		}
		table = routing.NewTable(d.cfg.Distributed.IndexerCluster.Nodes, d.cfg.Distributed.NodeID)
	}

	server := httpapi.NewServer(httpapi.OpenerFunc(d.openNamespace), d.registry, table, d.logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := compaction.NewManager(d.registry, d.cfg.Compaction, d.logger)
	go mgr.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.cfg.Server.Host, d.cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: server}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info().Str("addr", addr).Msg("hsearchd listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
