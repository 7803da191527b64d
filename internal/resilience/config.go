package resilience

import (
	"time"
)

// FromAttemptConfig converts config values to an AttemptConfig. Zero or
// negative attempts and timeouts keep the defaults. A zero delay means no
// pause between attempts; a negative one keeps the default.
func FromAttemptConfig(maxAttempts, timeoutSecs, delaySecs int) AttemptConfig {
	cfg := DefaultAttemptConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if timeoutSecs > 0 {
		cfg.Timeout = time.Duration(timeoutSecs) * time.Second
	}
	if delaySecs >= 0 {
		cfg.Delay = time.Duration(delaySecs) * time.Second
	}
	return cfg
}

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
