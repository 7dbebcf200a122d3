// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for a run. Coordinates in the button map
// were recorded at the reference viewport; the runtime viewport is what the
// controller actually sets on the page it opens.
type Config struct {
	// Browser attachment. The operator must already have launched the
	// browser with this debugging port open and be logged into the site.
	DebugURL string `envconfig:"DEBUG_URL" default:"http://localhost:9222"`

	RefViewportWidth  int `envconfig:"REF_VIEWPORT_WIDTH" default:"1920"`
	RefViewportHeight int `envconfig:"REF_VIEWPORT_HEIGHT" default:"1080"`
	ViewportWidth     int `envconfig:"VIEWPORT_WIDTH" default:"1920"`
	ViewportHeight    int `envconfig:"VIEWPORT_HEIGHT" default:"1080"`

	// Button coordinate map produced by the calibrate command.
	ButtonMapPath string `envconfig:"BUTTON_MAP_PATH" default:"buttons.yaml"`

	// Submission.
	BatchSize        int           `envconfig:"BATCH_SIZE" default:"10"`
	SubmitPacing     time.Duration `envconfig:"SUBMIT_PACING" default:"3s"`
	TypeCharDelay    time.Duration `envconfig:"TYPE_CHAR_DELAY" default:"30ms"`
	SecondsPerPrompt int           `envconfig:"SECONDS_PER_PROMPT_ESTIMATE" default:"60"`

	// Queue draining.
	QueuePollInterval   time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"15s"`
	QueueDrainMaxWait   time.Duration `envconfig:"QUEUE_DRAIN_MAX_WAIT" default:"45m"`
	QueueStuckThreshold time.Duration `envconfig:"QUEUE_STUCK_THRESHOLD" default:"10m"`

	// Finalization wait after the queue counter reaches zero. The platform
	// renders ProcessingSlots jobs concurrently, so the tail latency scales
	// with how long one slot's worth of work just took.
	ProcessingSlots        int           `envconfig:"PROCESSING_SLOTS" default:"3"`
	FinalizationWait       time.Duration `envconfig:"FINALIZATION_WAIT" default:"100s"`
	FinalizationWaitMin    time.Duration `envconfig:"FINALIZATION_WAIT_MIN" default:"30s"`
	FinalizationWaitMax    time.Duration `envconfig:"FINALIZATION_WAIT_MAX" default:"180s"`
	ExtrapolationMinQueued int           `envconfig:"EXTRAPOLATION_MIN_QUEUED" default:"4"`

	// Retry policy.
	RateLimitRetryPause time.Duration `envconfig:"RATE_LIMIT_RETRY_PAUSE" default:"90s"`
	RateLimitRetryMax   int           `envconfig:"RATE_LIMIT_RETRY_MAX" default:"3"`
	ActorRetryPause     time.Duration `envconfig:"ACTOR_RETRY_PAUSE" default:"15s"`

	// Bulk image actions.
	GridOrder      string        `envconfig:"GRID_ORDER" default:"newest_first"`
	CarouselPacing time.Duration `envconfig:"CAROUSEL_PACING" default:"2s"`
	DownloadWait   time.Duration `envconfig:"DOWNLOAD_WAIT" default:"30s"`

	// Output.
	OutputDir   string `envconfig:"OUTPUT_DIR" default:"."`
	DownloadDir string `envconfig:"DOWNLOAD_DIR" default:""`
	StatePath   string `envconfig:"STATE_PATH" default:"mjrunner.db"`

	// Status endpoint polled by the UI. 0 disables it.
	StatusPort int `envconfig:"STATUS_PORT" default:"0"`

	// Prompt generation.
	GeminiModel string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.DebugURL == "" {
		return fmt.Errorf("DEBUG_URL is required")
	}
	if config.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be greater than 0")
	}
	if config.ProcessingSlots <= 0 {
		return fmt.Errorf("PROCESSING_SLOTS must be greater than 0")
	}
	if config.RefViewportWidth <= 0 || config.RefViewportHeight <= 0 {
		return fmt.Errorf("reference viewport must be positive")
	}
	if config.ViewportWidth <= 0 || config.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive")
	}
	if config.FinalizationWaitMin > config.FinalizationWaitMax {
		return fmt.Errorf("FINALIZATION_WAIT_MIN must not exceed FINALIZATION_WAIT_MAX")
	}
	if config.GridOrder != "newest_first" && config.GridOrder != "oldest_first" {
		return fmt.Errorf("GRID_ORDER must be newest_first or oldest_first")
	}
	if config.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if config.ExtrapolationMinQueued < 1 {
		return fmt.Errorf("EXTRAPOLATION_MIN_QUEUED must be at least 1")
	}
	if config.RateLimitRetryMax < 0 {
		return fmt.Errorf("RATE_LIMIT_RETRY_MAX must be non-negative")
	}
	return nil
}
