// Copyright 2024 Treeline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"treeline/internal/store"
)

var (
	statsDBPath string
	statsAsOf   string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show active row counts per table",
	Long: `Show the number of active rows in each versioned table.

With --as-of, counts reflect the state of the outline as it was at that date
instead of now.

Examples:
  treeline stats
  treeline stats --as-of 2024-01-05`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsDBPath, "db", "", "database path (default from settings)")
	statsCmd.Flags().StringVar(&statsAsOf, "as-of", "", "count rows as of this date (YYYY-MM-DD)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := openStoreFromFlags(cmd, statsDBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if statsAsOf == "" {
		counts, err := s.ActiveCounts(cmd.Context())
		if err != nil {
			return err
		}
		printCounts(counts)
		return nil
	}

	at, err := time.ParseInLocation("2006-01-02", statsAsOf, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid --as-of date %q: expected YYYY-MM-DD", statsAsOf)
	}
	// End of day, so the as-of read includes that day's import.
	counts, err := asOfCounts(cmd, s, at.Add(24*time.Hour-time.Millisecond))
	if err != nil {
		return err
	}
	fmt.Printf("As of %s:\n", statsAsOf)
	printCounts(counts)
	return nil
}

func asOfCounts(cmd *cobra.Command, s *store.Store, at time.Time) (map[string]int, error) {
	ctx := cmd.Context()
	counts := make(map[string]int)

	contents, err := store.FindActiveAt[store.NodeContentModel](ctx, s.DB(), at)
	if err != nil {
		return nil, err
	}
	counts["node_contents"] = len(contents)

	metadata, err := store.FindActiveAt[store.NodeMetadataModel](ctx, s.DB(), at)
	if err != nil {
		return nil, err
	}
	counts["node_metadata"] = len(metadata)

	tags, err := store.FindActiveAt[store.TagModel](ctx, s.DB(), at)
	if err != nil {
		return nil, err
	}
	counts["tags"] = len(tags)

	mappings, err := store.FindActiveAt[store.NodeTagMappingModel](ctx, s.DB(), at)
	if err != nil {
		return nil, err
	}
	counts["node_tag_mappings"] = len(mappings)

	mirrors, err := store.FindActiveAt[store.MirrorModel](ctx, s.DB(), at)
	if err != nil {
		return nil, err
	}
	counts["mirrors"] = len(mirrors)

	dates, err := store.FindActiveAt[store.NodeDateModel](ctx, s.DB(), at)
	if err != nil {
		return nil, err
	}
	counts["node_dates"] = len(dates)

	files, err := store.FindActiveAt[store.NodeS3FileModel](ctx, s.DB(), at)
	if err != nil {
		return nil, err
	}
	counts["node_s3_files"] = len(files)

	roots, err := store.FindActiveAt[store.VirtualRootMappingModel](ctx, s.DB(), at)
	if err != nil {
		return nil, err
	}
	counts["virtual_root_mappings"] = len(roots)

	return counts, nil
}

func printCounts(counts map[string]int) {
	tables := make([]string, 0, len(counts))
	for table := range counts {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		fmt.Printf("  %-24s %d\n", table, counts[table])
	}
}
