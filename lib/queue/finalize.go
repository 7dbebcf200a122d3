package queue

import "time"

// FinalizeConfig controls the extra pause after the queue counter reaches
// zero. The counter disappearing does not mean the last jobs are rendered:
// the platform keeps ProcessingSlots jobs in flight, so the tail latency is
// about one slot's worth of the per-item time just observed.
type FinalizeConfig struct {
	ProcessingSlots int
	// MinQueued is the smallest initial depth worth extrapolating from.
	MinQueued int
	Min       time.Duration
	Max       time.Duration
	// Fallback is used whenever extrapolation is not trustworthy.
	Fallback time.Duration
}

// Finalization computes the post-drain pause from the drain result. The
// extrapolation is only used when the queue demonstrably reached zero (not
// via the indeterminate fallback) and started deep enough for the average to
// mean anything; otherwise the fixed fallback applies.
func Finalization(res DrainResult, cfg FinalizeConfig) time.Duration {
	if !res.ReachedZero || res.InitialDepth <= 0 || res.InitialDepth < cfg.MinQueued {
		return cfg.Fallback
	}
	perItem := res.Elapsed / time.Duration(res.InitialDepth)
	wait := time.Duration(cfg.ProcessingSlots) * perItem
	if wait < cfg.Min {
		return cfg.Min
	}
	if wait > cfg.Max {
		return cfg.Max
	}
	return wait
}
