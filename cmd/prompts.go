package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paperbrush/mjrunner/lib/promptgen"
)

func newPromptsCmd() *cobra.Command {
	var (
		count int
		out   string
	)

	cmd := &cobra.Command{
		Use:   "prompts <theme>",
		Short: "Generate a prompt list with Gemini",
		Args:  cobra.ExactArgs(1),
		Example: `  # Print 10 prompts about a theme
  mjrunner prompts "overgrown greenhouses"

  # Write 23 prompts to a file for a later run
  mjrunner prompts "overgrown greenhouses" --count 23 -o prompts.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := loggedContext(cmd)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gen, err := promptgen.New(ctx, os.Getenv("GEMINI_API_KEY"), cfg.GeminiModel)
			if err != nil {
				return err
			}
			defer gen.Close()

			prompts, err := gen.Generate(ctx, args[0], count)
			if err != nil {
				return err
			}

			text := strings.Join(prompts, "\n") + "\n"
			if out == "" {
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			}
			if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d prompts to %s\n", len(prompts), out)
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 10, "how many prompts to generate")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write prompts to this file instead of stdout")
	return cmd
}
