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

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgpitr/internal/config"
)

var crontabCmd = &cobra.Command{
	Use:   "crontab",
	Short: "Render the cron entries for the configured schedules",
	Long: `Validate the configured schedules and print the matching crontab
lines to stdout. Nothing is installed; pipe the output where you want it:

  pgpitr crontab >> /etc/cron.d/pgpitr`,
	RunE: runCrontab,
}

func runCrontab(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, os.Getenv)
	if err != nil {
		return err
	}

	schedules := []struct{ job, spec string }{
		{"backup", cfg.BackupSchedule},
		{"ship-wal", cfg.ShipSchedule},
	}
	for _, s := range schedules {
		if err := config.ValidateSchedule(s.spec); err != nil {
			return fmt.Errorf("invalid %s schedule: %w", s.job, err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# pgpitr jobs, rendered from %s\n", configFile)
	for _, s := range schedules {
		fmt.Fprintf(out, "%s postgres pgpitr %s --config %s\n", s.spec, s.job, configFile)
	}
	return nil
}
