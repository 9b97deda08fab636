package validator

import "time"

// Config mirrors the validation_config.* keys of the relay's configuration schema. Defaults match
// the original implementation's ValidationConfig::default().
type Config struct {
	// EnableValidation is the master kill switch; when false, Validate always succeeds.
	EnableValidation bool `envconfig:"ENABLE_VALIDATION" default:"true"`

	// EnablePrecheck gates phase 3 (hex/size bounds) only; phases 1, 2 and 4 still run.
	EnablePrecheck bool `envconfig:"ENABLE_PRECHECK" default:"true"`

	// ValidationTimeout bounds the testmempoolaccept round trip.
	ValidationTimeout time.Duration `envconfig:"VALIDATION_TIMEOUT" default:"5s"`

	// CacheTTL is how long a successfully validated txid is considered "recently processed".
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"10m"`

	// CacheSize bounds the number of entries kept in the recently-processed LRU.
	CacheSize int `envconfig:"CACHE_SIZE" default:"1000"`
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		EnableValidation:  true,
		EnablePrecheck:    true,
		ValidationTimeout: 5 * time.Second,
		CacheTTL:          10 * time.Minute,
		CacheSize:         1000,
	}
}
