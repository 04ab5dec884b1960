package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// Pacer inserts human-like pauses between actions.
type Pacer interface {
	// Light is the short pause between page interactions.
	Light(ctx context.Context) error
	// Heavy is the long pause between unrelated pages.
	Heavy(ctx context.Context) error
}

// Range is an inclusive duration interval.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// JitterConfig configures a Jitter.
type JitterConfig struct {
	Light Range
	Heavy Range
}

// Jitter sleeps uniformly random durations drawn from its ranges.
type Jitter struct {
	light   Range
	heavy   Range
	sleeper crawler.Sleeper
	rnd     func(n int64) int64
}

// NewJitter creates a Jitter.
func NewJitter(cfg JitterConfig, sleeper crawler.Sleeper) (*Jitter, error) {
	for name, r := range map[string]Range{"light": cfg.Light, "heavy": cfg.Heavy} {
		if r.Min < 0 || r.Min > r.Max {
			return nil, fmt.Errorf("invalid %s jitter range [%s, %s]", name, r.Min, r.Max)
		}
	}
	if sleeper == nil {
		return nil, fmt.Errorf("jitter sleeper is required")
	}
	return &Jitter{light: cfg.Light, heavy: cfg.Heavy, sleeper: sleeper, rnd: rand.Int64N}, nil
}

// Light sleeps a random duration from the light range.
func (j *Jitter) Light(ctx context.Context) error {
	return j.sleeper.Sleep(ctx, j.pick(j.light))
}

// Heavy sleeps a random duration from the heavy range.
func (j *Jitter) Heavy(ctx context.Context) error {
	return j.sleeper.Sleep(ctx, j.pick(j.heavy))
}

func (j *Jitter) pick(r Range) time.Duration {
	span := int64(r.Max - r.Min)
	if span <= 0 {
		return r.Min
	}
	return r.Min + time.Duration(j.rnd(span+1))
}

// NoPacer never pauses.
type NoPacer struct{}

// Light implements Pacer.
func (NoPacer) Light(ctx context.Context) error { return ctx.Err() }

// Heavy implements Pacer.
func (NoPacer) Heavy(ctx context.Context) error { return ctx.Err() }
