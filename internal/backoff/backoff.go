package backoff

import (
	"math/rand/v2"
	"time"
)

// Default values shared by both policies.
const (
	DefaultBase               = 1 * time.Second
	DefaultMax                = 30 * time.Second
	DefaultFastRetryThreshold = 5
	DefaultMaxAttempts        = 10
)

// Policy maps a reconnect attempt number to a delay.
// ok is false when the policy has given up and no further attempt should be scheduled.
type Policy interface {
	Delay(attempt int) (d time.Duration, ok bool)
}

// Plateau retries forever. Attempts below FastRetryThreshold back off
// exponentially from Base; later attempts always wait Max.
type Plateau struct {
	Base               time.Duration
	Max                time.Duration
	FastRetryThreshold int

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// NewPlateau returns a Plateau policy with default parameters.
func NewPlateau() *Plateau {
	return &Plateau{
		Base:               DefaultBase,
		Max:                DefaultMax,
		FastRetryThreshold: DefaultFastRetryThreshold,
	}
}

// Delay returns the wait before the given attempt. It never gives up.
func (p *Plateau) Delay(attempt int) (time.Duration, bool) {
	d := p.Max
	if attempt < p.FastRetryThreshold {
		d = exponential(p.Base, p.Max, attempt)
	}
	// 10-20% on top of the chosen delay
	factor := 1.1 + 0.1*random(p.Rand)
	return time.Duration(float64(d) * factor), true
}

// Bounded backs off exponentially up to Max and stops after MaxAttempts.
type Bounded struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	Jitter      time.Duration // upper bound of the additive jitter

	Rand func() float64
}

// NewBounded returns a Bounded policy with default parameters.
func NewBounded() *Bounded {
	return &Bounded{
		Base:        DefaultBase,
		Max:         DefaultMax,
		MaxAttempts: DefaultMaxAttempts,
		Jitter:      time.Second,
	}
}

// Delay returns the wait before the given attempt, or ok=false once
// attempt has reached MaxAttempts.
func (b *Bounded) Delay(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	d := exponential(b.Base, b.Max, attempt)
	d += time.Duration(float64(b.Jitter) * random(b.Rand))
	return d, true
}

// exponential returns min(base*2^attempt, max) without overflowing.
func exponential(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func random(fn func() float64) float64 {
	if fn != nil {
		return fn()
	}
	return rand.Float64()
}
