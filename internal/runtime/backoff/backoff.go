// Package backoff computes reconnect delays for transport managers.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"time"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
)

// Unbounded disables the retry limit.
const Unbounded = -1

const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 60 * time.Second
	DefaultMultiplier   = 2.0
)

// Policy is an immutable reconnect schedule. Build it with NewPolicy or
// Default so the invariants checked by Validate hold.
type Policy struct {
	// MaxRetries bounds the reconnect attempts after a failure. Unbounded (-1)
	// retries forever, zero never retries.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Default returns the policy used when nothing is configured: unbounded
// retries starting at one second, doubling up to one minute.
func Default() Policy {
	return Policy{
		MaxRetries:   Unbounded,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
	}
}

// NewPolicy validates the supplied values and returns the policy.
func NewPolicy(maxRetries int, initial, max time.Duration, multiplier float64) (Policy, error) {
	p := Policy{MaxRetries: maxRetries, InitialDelay: initial, MaxDelay: max, Multiplier: multiplier}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects schedules that would misbehave at runtime.
func (p Policy) Validate() error {
	var errs []error
	if p.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("initial delay must be positive, got %v", p.InitialDelay))
	}
	if p.MaxDelay < p.InitialDelay {
		errs = append(errs, fmt.Errorf("max delay %v is shorter than initial delay %v", p.MaxDelay, p.InitialDelay))
	}
	if p.Multiplier < 1 || math.IsNaN(p.Multiplier) || math.IsInf(p.Multiplier, 0) {
		errs = append(errs, fmt.Errorf("multiplier must be a finite value >= 1, got %v", p.Multiplier))
	}
	if p.MaxRetries < Unbounded {
		errs = append(errs, fmt.Errorf("max retries must be >= 0 or unbounded, got %d", p.MaxRetries))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", errspkg.ErrInvalidRetryPolicy, errors.Join(errs...))
}

// Bounded reports whether the policy gives up after MaxRetries.
func (p Policy) Bounded() bool {
	return p.MaxRetries >= 0
}

// Exhausted reports whether retries reconnect attempts already used up the
// budget of the current outage.
func (p Policy) Exhausted(retries int) bool {
	return p.Bounded() && retries >= p.MaxRetries
}

func (p Policy) String() string {
	limit := "unbounded"
	if p.Bounded() {
		limit = fmt.Sprintf("%d", p.MaxRetries)
	}
	return fmt.Sprintf("retries=%s initial=%v max=%v multiplier=%g", limit, p.InitialDelay, p.MaxDelay, p.Multiplier)
}

// NextDelay returns min(initial * multiplier^attempt, max). attempt 0 is the
// first retry after an initial failure; negative attempts count as 0.
func NextDelay(attempt int, p Policy) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Schedule returns the delays for attempts 0..n-1.
func Schedule(n int, p Policy) []time.Duration {
	out := make([]time.Duration, 0, max(n, 0))
	for i := 0; i < n; i++ {
		out = append(out, NextDelay(i, p))
	}
	return out
}
