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
	"fmt"

	"github.com/spf13/cobra"
)

var compactMaxMerge int

var compactCmd = &cobra.Command{
	Use:   "compact <namespace>",
	Short: "Run one-shot compaction passes on a namespace until no segments remain mergeable",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompact,
}

func init() {
	compactCmd.Flags().IntVar(&compactMaxMerge, "max-merge", 10, "maximum number of segments merged per pass")
}

func runCompact(cmd *cobra.Command, args []string) error {
	d, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	ns, err := d.openNamespace(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	passes := 0
	for {
		compacted, err := ns.Compact(ctx, compactMaxMerge)
		if err != nil {
			return err
		}
		if !compacted {
			break
		}
		passes++
	}
	_, stats, err := ns.Metadata(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("compacted %q in %d pass(es): %d segments, %d documents remain\n", args[0], passes, stats.SegmentCount, stats.DocumentCount)
	return nil
}
