// Package backoff computes retry delays for failed network operations.
//
// The policy is exponential with a ceiling, optionally jittered, and lets a
// server-supplied "retry after" hint override the local estimate: the server
// knows its own load better than the client's formula does.
package backoff

import (
	"math/rand"
	"time"

	"github.com/packlane/batchup/uptypes"
)

// Policy computes the delay before the next retry attempt.
// It has no side effects; the caller is responsible for sleeping.
type Policy struct {
	initial time.Duration
	max     time.Duration
	jitter  bool
}

// New creates a Policy from retry options.
func New(opts uptypes.RetryOptions) *Policy {
	initial := opts.InitialDelay
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	max := opts.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Policy{
		initial: initial,
		max:     max,
		jitter:  opts.Jitter,
	}
}

// Delay returns the delay before the next attempt. attempt is 0-based
// (0 = delay before the first retry). A positive hint is a server-supplied
// delay that overrides the exponential formula, still capped at the ceiling.
// With jitter enabled the result is randomized uniformly within ±25%.
func (p *Policy) Delay(attempt uint, hint time.Duration) time.Duration {
	d := p.base(attempt, hint)
	if p.jitter {
		// Uniform in [0.75d, 1.25d] to avoid synchronized retry storms.
		d = time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
	}
	return d
}

func (p *Policy) base(attempt uint, hint time.Duration) time.Duration {
	if hint > 0 {
		if hint > p.max {
			return p.max
		}
		return hint
	}

	d := p.initial
	for i := uint(0); i < attempt; i++ {
		if d >= p.max/2 {
			return p.max
		}
		d *= 2
	}
	if d > p.max {
		return p.max
	}
	return d
}
