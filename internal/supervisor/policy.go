package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults for the exponential schedule used when no explicit Backoff is set.
const (
	DefaultInitialDelay = time.Second
	DefaultMultiplier   = 2.0
	DefaultMaxDelay     = time.Minute
)

// RestartPolicy governs automatic restarts after a crash.
//
// MaxRetries bounds consecutive restarts: 0 disables restarts, a negative value
// retries forever. Delays come from Backoff when set (the last entry repeats),
// otherwise from an exponential schedule. A child that ran for at least
// StableAfter before crashing starts over from the first delay.
type RestartPolicy struct {
	MaxRetries   int             `mapstructure:"max_retries"`
	Backoff      []time.Duration `mapstructure:"backoff"`
	InitialDelay time.Duration   `mapstructure:"initial_delay"`
	Multiplier   float64         `mapstructure:"multiplier"`
	MaxDelay     time.Duration   `mapstructure:"max_delay"`
	StableAfter  time.Duration   `mapstructure:"stable_after"`
}

// Enabled reports whether crashes are retried at all.
func (p RestartPolicy) Enabled() bool { return p.MaxRetries != 0 }

func (p RestartPolicy) Validate() error {
	for i, d := range p.Backoff {
		if d < 0 {
			return fmt.Errorf("backoff[%d] cannot be negative", i)
		}
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 || p.StableAfter < 0 {
		return errors.New("restart delays cannot be negative")
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("multiplier %.2f must be >= 1", p.Multiplier)
	}
	if p.MaxDelay > 0 && p.InitialDelay > p.MaxDelay {
		return errors.New("initial_delay exceeds max_delay")
	}
	return nil
}

// newBackOff returns a fresh delay generator. NextBackOff yields backoff.Stop
// once MaxRetries consecutive restarts have been handed out.
func (p RestartPolicy) newBackOff() backoff.BackOff {
	if !p.Enabled() {
		return &backoff.StopBackOff{}
	}
	var b backoff.BackOff
	if len(p.Backoff) > 0 {
		b = &scheduleBackOff{delays: append([]time.Duration(nil), p.Backoff...)}
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = durOr(p.InitialDelay, DefaultInitialDelay)
		eb.Multiplier = DefaultMultiplier
		if p.Multiplier >= 1 {
			eb.Multiplier = p.Multiplier
		}
		eb.MaxInterval = durOr(p.MaxDelay, DefaultMaxDelay)
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	}
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}
	return b
}

// scheduleBackOff walks an explicit list of delays, repeating the last one.
type scheduleBackOff struct {
	delays []time.Duration
	next   int
}

func (s *scheduleBackOff) NextBackOff() time.Duration {
	i := s.next
	if i >= len(s.delays) {
		i = len(s.delays) - 1
	} else {
		s.next++
	}
	return s.delays[i]
}

func (s *scheduleBackOff) Reset() { s.next = 0 }

func durOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
