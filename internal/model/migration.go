package model

// MigrationStatus is derived from configuration on each call, never stored.
type MigrationStatus struct {
	// PipelineEnabled reports whether the new queue-based pipeline is on.
	PipelineEnabled bool `json:"pipeline_enabled"`

	// TrafficPercentage is the rollout fraction, clamped to 0-100.
	TrafficPercentage int `json:"traffic_percentage"`

	// LegacyEnabled reports whether the legacy workflow backend is still
	// active.
	LegacyEnabled bool `json:"legacy_enabled"`

	// ParallelMode is true when both systems are running side by side.
	ParallelMode bool `json:"parallel_mode"`

	// Phase is a human-readable label for the current migration stage.
	Phase string `json:"phase"`
}
