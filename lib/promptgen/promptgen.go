// Package promptgen produces prompt lists with Gemini, for runs where the
// operator supplies a theme instead of a prompt file.
package promptgen

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/paperbrush/mjrunner/lib/logger"
)

const instructionTmpl = `Write %d distinct image generation prompts about: %s

Rules:
- one prompt per line, as a numbered list ("1. ...")
- each prompt is a single line of descriptive text, no markdown
- vary subject, composition and lighting across the list`

// Generator asks a Gemini model for prompt lists.
type Generator struct {
	client *genai.Client
	model  string
}

// New dials the Gemini API. Close the generator when done.
func New(ctx context.Context, apiKey, model string) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("dial gemini: %w", err)
	}
	return &Generator{client: client, model: model}, nil
}

// Close releases the API client.
func (g *Generator) Close() error { return g.client.Close() }

// Generate returns n prompts about theme.
func (g *Generator) Generate(ctx context.Context, theme string, n int) ([]string, error) {
	log := logger.FromContext(ctx)

	model := g.client.GenerativeModel(g.model)
	resp, err := model.GenerateContent(ctx, genai.Text(fmt.Sprintf(instructionTmpl, n, theme)))
	if err != nil {
		return nil, fmt.Errorf("generate prompts: %w", err)
	}

	prompts := ParseList(responseText(resp))
	if len(prompts) == 0 {
		return nil, fmt.Errorf("model returned no usable prompts")
	}
	if len(prompts) > n {
		prompts = prompts[:n]
	}
	log.Info("generated prompts", "theme", theme, "requested", n, "got", len(prompts))
	return prompts, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

var listItemRe = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s+(.*\S)\s*$`)

// ParseList pulls the prompts out of a numbered or bulleted list, skipping
// preamble and blank lines. Surrounding quotes on an item are dropped.
func ParseList(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		m := listItemRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		item := strings.Trim(m[1], `"`)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
