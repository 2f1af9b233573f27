package lifecycle

import (
	"math"
	"time"

	"github.com/hiveplane/hiveplane/internal/config"
	"github.com/hiveplane/hiveplane/internal/models"
)

// nextBurnRate folds a token delta into the exponentially smoothed
// tokens-per-minute estimate. With no prior rate the instant rate is adopted
// directly. A non-positive elapsed interval keeps the prior rate; a negative
// delta (a reset body) counts as zero consumption.
func nextBurnRate(prior float64, deltaTokens int64, elapsed time.Duration, smoothing float64) float64 {
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		return prior
	}
	instant := float64(deltaTokens) / minutes
	if instant < 0 {
		instant = 0
	}
	if prior > 0 {
		return prior*smoothing + instant*(1-smoothing)
	}
	return instant
}

// tokenStatus classifies current token usage against the thresholds.
func tokenStatus(tokens int64, th config.TokenThresholds) models.TokenStatus {
	switch {
	case tokens >= th.Critical:
		return models.TokenCritical
	case tokens >= th.Danger:
		return models.TokenDanger
	case tokens >= th.Warning:
		return models.TokenWarning
	default:
		return models.TokenSafe
	}
}

// minutesToLimit estimates how long until the critical threshold at the
// current burn rate; nil when the rate is zero (unknown).
func minutesToLimit(tokens int64, rate float64, critical int64) *int {
	if rate <= 0 {
		return nil
	}
	remaining := critical - tokens
	if remaining < 0 {
		remaining = 0
	}
	m := int(math.Floor(float64(remaining) / rate))
	return &m
}
