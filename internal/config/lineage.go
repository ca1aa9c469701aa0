package config

// LineageConfig configures the lineage deduction engine.
type LineageConfig struct {
	// FactLimit caps derived facts per rebuild to prevent explosions.
	FactLimit int `yaml:"fact_limit"`
}
