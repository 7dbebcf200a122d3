package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperbrush/mjrunner/lib/health"
)

func newPreflightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check the setup without starting a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := loggedContext(cmd)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			results := health.Run(ctx, health.Checks{
				DebugURL:      cfg.DebugURL,
				OutputDir:     cfg.OutputDir,
				ButtonMapPath: cfg.ButtonMapPath,
			})
			for _, r := range results {
				if r.OK() {
					fmt.Fprintf(cmd.OutOrStdout(), "ok   %s\n", r.Name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", r.Name, r.Err)
				}
			}
			if failed := health.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
}
