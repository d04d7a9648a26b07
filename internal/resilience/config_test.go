package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/promo-cli/internal/config"
)

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(config.RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second})
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.InDelta(t, 0.25, cfg.JitterFraction, 0.001)

	def := FromRetryConfig(config.RetryConfig{})
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
}
