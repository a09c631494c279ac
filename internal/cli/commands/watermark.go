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
	"time"

	"github.com/spf13/cobra"

	"treeline/internal/importer"
)

var watermarkDBPath string

var watermarkCmd = &cobra.Command{
	Use:   "watermark",
	Short: "Show the import watermark",
	Long: `Show the stored import watermark: the snapshot date of the newest
backup file that has been fully committed. Files at or before this date are
skipped by the next import run.`,
	Args: cobra.NoArgs,
	RunE: runWatermark,
}

func init() {
	watermarkCmd.Flags().StringVar(&watermarkDBPath, "db", "", "database path (default from settings)")
	rootCmd.AddCommand(watermarkCmd)
}

func runWatermark(cmd *cobra.Command, args []string) error {
	s, err := openStoreFromFlags(cmd, watermarkDBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	wm, found, err := s.Watermark(cmd.Context(), importer.DefaultSource)
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}
	if !found {
		fmt.Println("No watermark: nothing has been imported yet")
		return nil
	}
	fmt.Printf("Watermark: %s\n", time.UnixMilli(wm).UTC().Format("2006-01-02"))
	return nil
}
