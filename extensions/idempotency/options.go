package idempotency

import "time"

// config holds the configuration for RedisGuard.
type config struct {
	ttl          time.Duration
	pollInterval time.Duration
	maxWait      time.Duration
	keyGenerator KeyGenerator
}

// Option configures a RedisGuard.
type Option func(*config)

// WithTTL sets how long a held key survives if its holder never releases
// it (crash, lost connection). It must exceed the longest settlement.
// Non-positive values are ignored.
//
// Default: 30 seconds
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPollInterval sets how often a waiting caller retries SET NX.
// Non-positive values are ignored.
//
// Default: 25 milliseconds
func WithPollInterval(interval time.Duration) Option {
	return func(c *config) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithMaxWait bounds how long Acquire waits before returning
// ErrGuardTimeout. Zero waits until the context is done.
//
// Default: 0
func WithMaxWait(maxWait time.Duration) Option {
	return func(c *config) {
		c.maxWait = maxWait
	}
}

// WithKeyGenerator sets a custom key generation function.
//
// By default, order keys are namespaced with DefaultKeyGenerator. Use this
// when several stores share one Redis database.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(c *config) {
		c.keyGenerator = gen
	}
}

func defaultConfig() *config {
	return &config{
		ttl:          30 * time.Second,
		pollInterval: 25 * time.Millisecond,
		keyGenerator: DefaultKeyGenerator,
	}
}
