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

	"github.com/spf13/cobra"

	"treeline/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the effective settings",
	Long: `Show the effective settings and where they come from.

Settings live in {config_dir}/settings.yaml; the config directory defaults to
~/.treeline and can be overridden with TREELINE_CONFIG_DIR.`,
	Args: cobra.NoArgs,
	RunE: runSettings,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
}

func runSettings(cmd *cobra.Command, args []string) error {
	fmt.Printf("Settings file: %s\n", config.SettingsPath())
	fmt.Printf("  database:     %s\n", settings.Database)
	fmt.Printf("  backups_path: %s\n", settings.BackupsPath)
	fmt.Printf("  log_level:    %s\n", settings.LogLevel)
	fmt.Printf("  busy_timeout: %d\n", settings.BusyTimeout)
	fmt.Printf("  days_limit:   %d\n", settings.DaysLimit)
	return nil
}
