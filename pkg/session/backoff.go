package session

import (
	"github.com/cenkalti/backoff/v4"
)

// newBackOff builds the reconnect delay policy from the config. MaxElapsedTime
// is zero so attempts never stop on their own; only the per-attempt delay is
// capped.
func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffBase
	b.MaxInterval = cfg.BackoffMax
	b.Multiplier = cfg.BackoffMultiplier
	if cfg.BackoffJitter < 0 {
		b.RandomizationFactor = 0
	} else {
		b.RandomizationFactor = cfg.BackoffJitter
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
