// Package migration controls the gradual rollout from the legacy broker
// backend to the queue-based pipeline.
package migration

import (
	"fmt"
	"math/rand/v2"

	"github.com/nextnest/broker-pipeline/internal/config"
	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/queue"
)

// highValueBoost multiplies the rollout percentage for high-value leads so
// premium leads reach the new pipeline first during partial rollout.
const highValueBoost = 1.5

// ConfigProvider returns the rollout flags at decision time. Injecting it
// keeps the controller deterministic under test and lets operators change the
// rollout without a restart.
type ConfigProvider func() config.Migration

// RandomSource yields uniform draws from [0,1). Tests substitute a
// deterministic sequence.
type RandomSource interface {
	Next() float64
}

type mathRandSource struct{}

func (mathRandSource) Next() float64 { return rand.Float64() }

// Controller decides legacy-vs-pipeline routing. It is stateless and safe for
// concurrent use: every call reads fresh configuration and takes a fresh
// random draw.
type Controller struct {
	cfg ConfigProvider
	rnd RandomSource
}

// NewController creates a migration controller. A nil random source falls
// back to math/rand.
func NewController(cfg ConfigProvider, rnd RandomSource) *Controller {
	if rnd == nil {
		rnd = mathRandSource{}
	}
	return &Controller{cfg: cfg, rnd: rnd}
}

// ShouldRoute decides whether a conversation goes to the new pipeline.
// Pass a lead score of 0 when the score is unknown.
func (c *Controller) ShouldRoute(leadScore int) bool {
	cfg := c.cfg()

	if !cfg.PipelineEnabled {
		return false
	}
	if cfg.TrafficPercentage >= 100 {
		return true
	}
	if cfg.TrafficPercentage <= 0 {
		return false
	}

	draw := c.rnd.Next() * 100

	effective := float64(cfg.TrafficPercentage)
	if leadScore > model.HighValueLeadScore {
		effective = min(effective*highValueBoost, 100)
	}

	return draw < effective
}

// Status derives the migration status from current configuration. Nothing is
// stored; the status is recomputed per call.
func (c *Controller) Status() model.MigrationStatus {
	cfg := c.cfg()

	pct := cfg.TrafficPercentage
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	phase := "legacy"
	switch {
	case !cfg.PipelineEnabled && !cfg.LegacyEnabled:
		phase = "legacy (no broker active)"
	case !cfg.PipelineEnabled:
		phase = "legacy"
	case pct == 0:
		phase = "validation (pipeline active, 0% traffic)"
	case pct < 50 && cfg.LegacyEnabled:
		phase = fmt.Sprintf("gradual rollout (%d%% pipeline, legacy parallel)", pct)
	case pct < 100 && cfg.LegacyEnabled:
		phase = fmt.Sprintf("majority cutover (%d%% pipeline, legacy backup)", pct)
	case pct >= 100 && cfg.LegacyEnabled:
		phase = "full cutover (100% pipeline, legacy backup)"
	case pct >= 100:
		phase = "complete (100% pipeline, legacy decommissioned)"
	default:
		phase = fmt.Sprintf("gradual rollout (%d%% pipeline)", pct)
	}

	return model.MigrationStatus{
		PipelineEnabled:   cfg.PipelineEnabled,
		TrafficPercentage: pct,
		LegacyEnabled:     cfg.LegacyEnabled,
		ParallelMode:      cfg.PipelineEnabled && cfg.LegacyEnabled,
		Phase:             phase,
	}
}

// Recommendations produces ordered next-step guidance for operators based on
// the current phase and queue health. Queue metrics may be nil when the store
// is unreachable.
func (c *Controller) Recommendations(qm *queue.Metrics) []string {
	status := c.Status()
	var recs []string

	if !status.PipelineEnabled {
		recs = append(recs,
			"Set ENABLE_PIPELINE=true to begin migration",
			"Start with PIPELINE_ROLLOUT_PERCENTAGE=0 for validation",
		)
		return recs
	}

	if status.TrafficPercentage == 0 {
		recs = append(recs,
			"Currently in validation mode (0% traffic)",
			"Monitor queue metrics for 24 hours",
			"Set PIPELINE_ROLLOUT_PERCENTAGE=10 to start with 10% traffic",
		)
	}

	if qm != nil {
		if qm.Failed > 10 {
			recs = append(recs,
				"High failure rate - investigate failed jobs before increasing traffic",
				"Review worker logs and error patterns",
			)
		}
		if qm.Waiting > 20 {
			recs = append(recs,
				"Queue backing up - consider increasing WORKER_CONCURRENCY",
				fmt.Sprintf("Currently %d jobs waiting", qm.Waiting),
			)
		}
		if status.TrafficPercentage > 0 && status.TrafficPercentage < 100 && qm.Failed == 0 && qm.Waiting < 10 {
			if status.TrafficPercentage < 50 {
				recs = append(recs, "System stable - safe to increase to 50%")
			} else {
				recs = append(recs, "System stable - safe to increase to 100%")
			}
		}
	}

	if status.TrafficPercentage == 100 && status.LegacyEnabled {
		recs = append(recs,
			"Full cutover active (100% pipeline)",
			"Monitor for 1 week of stability",
			"Consider disabling the legacy broker (ENABLE_LEGACY_BROKER=false) after stability confirmed",
		)
	}

	if status.TrafficPercentage == 100 && !status.LegacyEnabled {
		recs = append(recs,
			"Migration complete - pipeline is the sole system",
			"Legacy workflow can be archived",
		)
	}

	return recs
}

// Distribution estimates how totalRequests would split between the two
// systems under the current configuration.
type Distribution struct {
	Pipeline int `json:"pipeline"`
	Legacy   int `json:"legacy"`
}

// EstimateDistribution returns the expected traffic split for a request count.
func (c *Controller) EstimateDistribution(totalRequests int) Distribution {
	status := c.Status()

	pipeline := totalRequests * status.TrafficPercentage / 100
	legacy := 0
	if status.LegacyEnabled {
		legacy = totalRequests - pipeline
	}
	return Distribution{Pipeline: pipeline, Legacy: legacy}
}
