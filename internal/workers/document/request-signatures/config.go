// internal/workers/document/request-signatures/config.go
package requestsignatures

import "time"

type Config struct {
	Timeout time.Duration
	// Concurrency bounds the signer fan-out.
	Concurrency int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:     15 * time.Second,
		Concurrency: 4,
	}
}
