package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperbrush/mjrunner/lib/bundle"
	"github.com/paperbrush/mjrunner/lib/logger"
	"github.com/paperbrush/mjrunner/lib/state"
)

func newBundleCmd() *cobra.Command {
	var (
		runID string
		out   string
	)

	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Export a run's images as a tar.zst archive with a manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := loggedContext(cmd)
			log := logger.FromContext(ctx)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := state.Open(cfg.StatePath)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.LatestRun(ctx)
			if runID != "" && runID != "latest" {
				run, err = store.Run(ctx, runID)
			}
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("no runs recorded yet")
			}

			tasks, err := store.Tasks(ctx, run.ID)
			if err != nil {
				return err
			}
			manifest := bundle.BuildManifest(run.ID, tasks)
			if len(manifest.Entries) == 0 {
				return fmt.Errorf("run %s has no downloaded images", run.ID)
			}

			if out == "" {
				out = fmt.Sprintf("mjrunner-%s.tar.zst", run.ID)
			}
			if err := bundle.ExportFile(out, cfg.OutputDir, manifest); err != nil {
				return err
			}
			log.Info("bundle written", "path", out, "run_id", run.ID,
				"images", len(manifest.Entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "latest", "run id to bundle")
	cmd.Flags().StringVarP(&out, "output", "o", "", "archive path")
	return cmd
}
