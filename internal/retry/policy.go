package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// JitterFactor bounds the randomization applied to each delay.
const JitterFactor = 0.2

// Policy describes how often and for how long a readiness check is retried.
// A Policy is a value; copies can be shared freely between nodes.
type Policy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	Multiplier      float64
	MaxDelay        time.Duration
	OverallDeadline time.Duration
	Jitter          bool

	// random returns a value in [0, 1). Nil means math/rand.
	random func() float64
}

// Default returns the policy applied to nodes that do not name one.
func Default() Policy {
	return Policy{
		MaxAttempts:     30,
		BaseDelay:       time.Second,
		Multiplier:      2,
		MaxDelay:        15 * time.Second,
		OverallDeadline: 5 * time.Minute,
		Jitter:          true,
	}
}

// WithRandom returns a copy of p drawing jitter from fn.
func (p Policy) WithRandom(fn func() float64) Policy {
	p.random = fn
	return p
}

// Validate reports configuration errors.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	if p.BaseDelay <= 0 {
		return errors.New("base_delay must be greater than zero")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %v", p.Multiplier)
	}
	if p.MaxDelay < 0 || (p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay) {
		return errors.New("max_delay must be zero or at least base_delay")
	}
	if p.OverallDeadline < 0 {
		return errors.New("overall_deadline cannot be negative")
	}
	return nil
}

// NextDelay returns how long to wait before the next evaluation, given the
// number of evaluations already made and the time spent so far. A wait that
// would overrun OverallDeadline is shortened when at least BaseDelay would
// remain afterwards. The second result is false when the caller must stop
// retrying.
func (p Policy) NextDelay(attempt int, elapsed time.Duration) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	if p.OverallDeadline > 0 && elapsed >= p.OverallDeadline {
		return 0, false
	}

	delay := p.baseFor(attempt)
	if p.Jitter {
		delay = p.jitter(delay)
	}

	if p.OverallDeadline > 0 && elapsed+delay > p.OverallDeadline {
		// Shorten the last wait so one more evaluation still has BaseDelay
		// of budget before the deadline.
		shortened := p.OverallDeadline - elapsed - p.BaseDelay
		if shortened <= 0 {
			return 0, false
		}
		return shortened, true
	}
	return delay, true
}

func (p Policy) baseFor(attempt int) time.Duration {
	scaled := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && scaled > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if scaled > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

func (p Policy) jitter(delay time.Duration) time.Duration {
	random := p.random
	if random == nil {
		random = rand.Float64
	}
	offset := (2*random() - 1) * JitterFactor
	jittered := time.Duration(math.Round(float64(delay) * (1 + offset)))
	if jittered < 0 {
		return 0
	}
	return jittered
}

// BackOff adapts the policy to backoff.BackOff. Elapsed time is measured
// from the call to BackOff or the last Reset.
func (p Policy) BackOff() backoff.BackOff {
	b := &policyBackOff{policy: p, now: time.Now}
	b.Reset()
	return b
}

type policyBackOff struct {
	policy  Policy
	now     func() time.Time
	started time.Time
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	delay, ok := b.policy.NextDelay(b.attempt, b.now().Sub(b.started))
	if !ok {
		return backoff.Stop
	}
	return delay
}

func (b *policyBackOff) Reset() {
	b.started = b.now()
	b.attempt = 0
}
