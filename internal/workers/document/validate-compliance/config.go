// internal/workers/document/validate-compliance/config.go
package validatecompliance

import "time"

type Config struct {
	Timeout time.Duration
	// AutoAdvance completes the step when the report is valid and the job
	// does not say otherwise.
	AutoAdvance bool
}

func LoadConfig() *Config {
	return &Config{
		Timeout:     90 * time.Second,
		AutoAdvance: true,
	}
}
