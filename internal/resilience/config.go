package resilience

import "github.com/sells-group/promo-cli/internal/config"

// FromRetryConfig converts file/env retry settings to a RetryConfig, keeping
// defaults for unset values.
func FromRetryConfig(c config.RetryConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoff > 0 {
		cfg.InitialBackoff = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		cfg.MaxBackoff = c.MaxBackoff
	}
	return cfg
}
