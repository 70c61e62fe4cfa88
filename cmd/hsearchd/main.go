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

// Command hsearchd is the indexer/query node binary (spec §6): a cobra root
// command with serve/compact/export subcommands, mirroring cuemby-warren's
// cmd/warren single-binary, ldflags-versioned cobra tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:     "hsearchd",
	Short:   "hsearchd serves a multi-tenant, object-storage-first hybrid search engine",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("hsearchd %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults overlaid by env vars)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(exportCmd)
}
