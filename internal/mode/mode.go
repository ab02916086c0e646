// Package mode derives the system operating mode from severity and recent
// decision confidence.
package mode

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"procureiq/internal/domain"
	"procureiq/internal/events"
	"procureiq/internal/logging"
	"procureiq/internal/metrics"
	"procureiq/internal/repo"
	"procureiq/internal/severity"
)

type Policy struct {
	// Window is how many recent automated decisions feed the rolling average.
	Window    int
	SafeBelow float64
	CrisisAt  int
}

// Derive is the pure mode rule. It returns the mode and the rolling average;
// with no samples the average is reported as 100.
func Derive(p Policy, sev int, confidences []int) (domain.Mode, float64) {
	rolling := 100.0
	if len(confidences) > 0 {
		sum := 0
		for _, c := range confidences {
			sum += c
		}
		rolling = float64(sum) / float64(len(confidences))
	}
	switch {
	case len(confidences) > 0 && rolling < p.SafeBelow:
		return domain.ModeSafe, rolling
	case sev >= p.CrisisAt:
		return domain.ModeCrisis, rolling
	default:
		return domain.ModeNormal, rolling
	}
}

// Controller owns the persisted SystemState row. Only the agent loop calls
// Evaluate.
type Controller struct {
	Repo    repo.Repo
	Events  events.Writer
	Policy  Policy
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Evaluate recomputes severity over all items and the rolling confidence,
// persists the state inside tx and audits a mode change.
func (c *Controller) Evaluate(ctx context.Context, tx *sql.Tx) (domain.SystemState, error) {
	prev, err := c.Repo.GetSystemState(ctx, tx)
	if err != nil {
		return prev, err
	}
	items, err := c.Repo.ListItems(ctx, tx)
	if err != nil {
		return prev, err
	}
	signals := make([]severity.Signal, 0, len(items))
	for _, it := range items {
		signals = append(signals, severity.FromItem(it))
	}
	sev := severity.Highest(signals)
	confidences, err := c.Repo.RecentConfidences(ctx, tx, c.Policy.Window)
	if err != nil {
		return prev, err
	}
	m, rolling := Derive(c.Policy, sev, confidences)
	next, err := c.Repo.PutSystemState(ctx, tx, domain.SystemState{
		Mode:              m,
		Severity:          sev,
		RollingConfidence: rolling,
		Samples:           len(confidences),
	})
	if err != nil {
		return prev, err
	}
	if prev.Mode != next.Mode {
		if err := c.Events.Append(ctx, tx, events.TypeModeChanged, "system", "", "", events.Payload{
			"from":               prev.Mode,
			"to":                 next.Mode,
			"severity":           next.Severity,
			"rolling_confidence": next.RollingConfidence,
			"samples":            next.Samples,
		}); err != nil {
			return prev, err
		}
		logging.OrNop(c.Logger).Warn("system_mode_changed",
			zap.String("from", string(prev.Mode)),
			zap.String("to", string(next.Mode)),
			zap.Int("severity", next.Severity),
			zap.Float64("rolling_confidence", next.RollingConfidence))
	}
	c.Metrics.SystemState(string(next.Mode), next.Severity, next.RollingConfidence)
	return next, nil
}
