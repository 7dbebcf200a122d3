package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperbrush/mjrunner/lib/browser"
	"github.com/paperbrush/mjrunner/lib/logger"
)

// defaultButtons is the calibration order when no names are given. The
// prompt box comes first because no run works without it.
var defaultButtons = []string{
	"prompt_input",
	"download",
	"upscale_subtle",
	"upscale_creative",
	"carousel_next",
}

func newCalibrateCmd() *cobra.Command {
	var buttons []string

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Record button coordinates by clicking them in the browser",
		Long: `Attaches to the running browser and records one coordinate per named
control: for each name in turn, click the matching element on the page.
The result is written to the button map file together with the viewport
it was recorded at, so it can be rescaled to other window sizes later.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := loggedContext(cmd)
			log := logger.FromContext(ctx)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(buttons) == 0 {
				buttons = defaultButtons
			}

			// calibration records at the reference viewport; runs rescale
			// from it to whatever viewport they open with
			session, err := browser.Connect(ctx, browser.Options{
				DebugURL: cfg.DebugURL,
				Viewport: browser.Viewport{Width: cfg.RefViewportWidth, Height: cfg.RefViewportHeight},
				Buttons:  &browser.ButtonMap{Buttons: map[string]browser.Point{}},
			})
			if err != nil {
				return err
			}
			defer session.Close()

			if err := session.Navigate(ctx, "https://www.midjourney.com/imagine"); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Click each control in the browser as it is named:")
			m, err := session.Calibrate(ctx, buttons)
			if err != nil {
				return err
			}
			if err := browser.SaveButtonMap(cfg.ButtonMapPath, m); err != nil {
				return err
			}
			log.Info("button map written", "path", cfg.ButtonMapPath, "buttons", len(m.Buttons))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&buttons, "buttons", nil, "control names to record, in order")
	return cmd
}
