package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paperbrush/mjrunner/lib/actor"
	"github.com/paperbrush/mjrunner/lib/health"
	"github.com/paperbrush/mjrunner/lib/logger"
	"github.com/paperbrush/mjrunner/lib/promptgen"
	"github.com/paperbrush/mjrunner/lib/runner"
	"github.com/paperbrush/mjrunner/lib/state"
)

func newRunCmd() *cobra.Command {
	var (
		promptsFile string
		prompts     []string
		theme       string
		count       int
		resumeID    string
		action      string
		label       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit prompts and collect the generated images",
		Example: `  # Submit a prompt file and download everything it generates
  mjrunner run --prompts-file prompts.txt

  # Generate 23 prompts about a theme, then submit them
  mjrunner run --theme "abandoned lighthouses" --count 23

  # Pick up where an interrupted run stopped
  mjrunner run --resume latest

  # Upscale instead of downloading
  mjrunner run --prompts-file prompts.txt --action upscale_subtle`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := loggedContext(cmd)
			log := logger.FromContext(ctx)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if resumeID == "" {
				switch {
				case promptsFile != "":
					fromFile, err := readPromptLines(promptsFile)
					if err != nil {
						return err
					}
					prompts = append(prompts, fromFile...)
				case theme != "":
					gen, err := promptgen.New(ctx, os.Getenv("GEMINI_API_KEY"), cfg.GeminiModel)
					if err != nil {
						return err
					}
					defer gen.Close()
					prompts, err = gen.Generate(ctx, theme, count)
					if err != nil {
						return err
					}
				}
				if len(prompts) == 0 {
					return fmt.Errorf("nothing to submit: pass --prompts-file, --prompt or --theme")
				}
			}

			if failed := health.Failed(health.Run(ctx, health.Checks{
				DebugURL:      cfg.DebugURL,
				OutputDir:     cfg.OutputDir,
				ButtonMapPath: cfg.ButtonMapPath,
			})); len(failed) > 0 {
				for _, f := range failed {
					log.Error("preflight check failed", "check", f.Name, "err", f.Err)
				}
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}

			store, err := state.Open(cfg.StatePath)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := runner.New(cfg, store).Run(ctx, runner.Params{
				Prompts:     prompts,
				Label:       label,
				ResumeRunID: resumeID,
				Action:      action,
			})
			if report != nil {
				log.Info("run finished", "run_id", report.RunID,
					"submitted", report.Submitted, "downloaded", report.Downloaded,
					"accepted", report.Accepted, "failed", report.Failed)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&promptsFile, "prompts-file", "", "file with one prompt per line")
	cmd.Flags().StringArrayVar(&prompts, "prompt", nil, "prompt to submit (repeatable)")
	cmd.Flags().StringVar(&theme, "theme", "", "generate prompts about this theme instead of reading them")
	cmd.Flags().IntVar(&count, "count", 10, "how many prompts to generate for --theme")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume a run by id, or \"latest\"")
	cmd.Flags().StringVar(&action, "action", actor.ActionDownload,
		"per-image action: download, upscale_subtle, upscale_creative, vary_subtle, vary_strong")
	cmd.Flags().StringVar(&label, "label", "", "label for the new run")

	return cmd
}

// readPromptLines reads one prompt per line, skipping blanks and # comments.
func readPromptLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	defer f.Close()

	var prompts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prompts = append(prompts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return prompts, nil
}
