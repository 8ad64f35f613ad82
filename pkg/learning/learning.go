// Package learning decides when learning cycles run and tracks explicit
// learning sessions.
package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/parrotlabsco/parrot/pkg/message"
)

// Type identifies a trigger strategy.
type Type string

const (
	TypeProgressive Type = "progressive"
	TypeBatch       Type = "batch"
	TypeRealtime    Type = "realtime"
	TypeHybrid      Type = "hybrid"
)

// CycleFunc performs one learning pass over a set of filtered messages. The
// pipeline supplies it; strategies decide when to invoke it.
type CycleFunc func(ctx context.Context, msgs []message.FilteredMessage) message.AnalysisResult

// Snapshot is the trigger input a strategy evaluates.
type Snapshot struct {
	// PendingMessages is the number of filtered messages awaiting learning.
	PendingMessages int

	// LastCycleAt is when the previous cycle completed. Zero means no cycle
	// has run yet.
	LastCycleAt time.Time
}

// Strategy decides when to learn and runs the cycle when it does.
type Strategy interface {
	Type() Type
	ShouldLearn(ctx context.Context, snap Snapshot) bool
	ExecuteLearningCycle(ctx context.Context, msgs []message.FilteredMessage) message.AnalysisResult
}

// Config tunes strategy thresholds. Zero values fall back to defaults.
type Config struct {
	// MinMessages is the pending-message threshold for progressive, batch,
	// and hybrid strategies.
	MinMessages int

	// Interval is the hybrid strategy's elapsed-time trigger.
	Interval time.Duration

	// GrowthFactor multiplies the progressive threshold after each cycle.
	GrowthFactor float64

	// MaxThreshold caps progressive growth.
	MaxThreshold int
}

const (
	DefaultMinMessages  = 10
	DefaultInterval     = 5 * time.Minute
	DefaultGrowthFactor = 1.5
	DefaultMaxThreshold = 200
)

func (c Config) withDefaults() Config {
	if c.MinMessages <= 0 {
		c.MinMessages = DefaultMinMessages
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.GrowthFactor <= 1 {
		c.GrowthFactor = DefaultGrowthFactor
	}
	if c.MaxThreshold <= 0 {
		c.MaxThreshold = DefaultMaxThreshold
	}

	return c
}

// New builds the strategy for the given type.
func New(typ Type, cfg Config, cycle CycleFunc) (Strategy, error) {
	cfg = cfg.withDefaults()

	switch typ {
	case TypeProgressive:
		return NewProgressive(cfg, cycle), nil
	case TypeBatch:
		return NewBatch(cfg, cycle), nil
	case TypeRealtime:
		return NewRealtime(cycle), nil
	case TypeHybrid:
		return NewHybrid(cfg, cycle), nil
	default:
		return nil, fmt.Errorf("unknown learning strategy %q", typ)
	}
}
