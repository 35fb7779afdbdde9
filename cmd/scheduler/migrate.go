/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/airbyte-oss/scheduler-core/internal/config"
	"github.com/airbyte-oss/scheduler-core/internal/persistence"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return fmt.Errorf("migrate: load config: %w", err)
			}
			store, err := persistence.Open(cmd.Context(), cfg.DatabaseURL, cfg.WorkspaceRoot)
			if err != nil {
				return fmt.Errorf("migrate: open database: %w", err)
			}
			defer store.Close()
			return persistence.Migrate(store.DB())
		},
	}
}
