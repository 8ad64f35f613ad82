package learning

import (
	"context"
	"sync"
	"time"

	"github.com/parrotlabsco/parrot/pkg/message"
)

// runCycle is the shared execution path. Strategies differ only in their
// trigger condition and post-cycle bookkeeping.
func runCycle(ctx context.Context, cycle CycleFunc, msgs []message.FilteredMessage) message.AnalysisResult {
	if len(msgs) == 0 {
		return message.Failure("no messages to learn from")
	}
	if cycle == nil {
		return message.Failure("no learning cycle configured")
	}

	return cycle(ctx, msgs)
}

// Progressive learns once a pending-message threshold is reached, then
// raises the threshold so early learning is frequent and later learning
// settles down.
type Progressive struct {
	cycle CycleFunc

	mu        sync.Mutex
	threshold int
	growth    float64
	max       int
}

func NewProgressive(cfg Config, cycle CycleFunc) *Progressive {
	return &Progressive{
		cycle:     cycle,
		threshold: cfg.MinMessages,
		growth:    cfg.GrowthFactor,
		max:       cfg.MaxThreshold,
	}
}

func (p *Progressive) Type() Type { return TypeProgressive }

func (p *Progressive) ShouldLearn(_ context.Context, snap Snapshot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return snap.PendingMessages >= p.threshold
}

// Threshold reports the current trigger threshold.
func (p *Progressive) Threshold() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.threshold
}

func (p *Progressive) ExecuteLearningCycle(ctx context.Context, msgs []message.FilteredMessage) message.AnalysisResult {
	result := runCycle(ctx, p.cycle, msgs)
	if !result.Success {
		return result
	}

	p.mu.Lock()
	next := int(float64(p.threshold) * p.growth)
	if next <= p.threshold {
		next = p.threshold + 1
	}
	if next > p.max {
		next = p.max
	}
	p.threshold = next
	p.mu.Unlock()

	return result
}

// Batch learns whenever a fixed batch of pending messages has accumulated.
type Batch struct {
	cycle CycleFunc
	size  int
}

func NewBatch(cfg Config, cycle CycleFunc) *Batch {
	return &Batch{cycle: cycle, size: cfg.MinMessages}
}

func (b *Batch) Type() Type { return TypeBatch }

func (b *Batch) ShouldLearn(_ context.Context, snap Snapshot) bool {
	return snap.PendingMessages >= b.size
}

func (b *Batch) ExecuteLearningCycle(ctx context.Context, msgs []message.FilteredMessage) message.AnalysisResult {
	return runCycle(ctx, b.cycle, msgs)
}

// Realtime learns as soon as anything is pending.
type Realtime struct {
	cycle CycleFunc
}

func NewRealtime(cycle CycleFunc) *Realtime {
	return &Realtime{cycle: cycle}
}

func (r *Realtime) Type() Type { return TypeRealtime }

func (r *Realtime) ShouldLearn(_ context.Context, snap Snapshot) bool {
	return snap.PendingMessages > 0
}

func (r *Realtime) ExecuteLearningCycle(ctx context.Context, msgs []message.FilteredMessage) message.AnalysisResult {
	return runCycle(ctx, r.cycle, msgs)
}

// Hybrid learns when either a message-count threshold or an elapsed-time
// interval is reached, whichever comes first.
type Hybrid struct {
	cycle    CycleFunc
	min      int
	interval time.Duration
}

func NewHybrid(cfg Config, cycle CycleFunc) *Hybrid {
	return &Hybrid{cycle: cycle, min: cfg.MinMessages, interval: cfg.Interval}
}

func (h *Hybrid) Type() Type { return TypeHybrid }

func (h *Hybrid) ShouldLearn(_ context.Context, snap Snapshot) bool {
	if snap.PendingMessages <= 0 {
		return false
	}
	if snap.PendingMessages >= h.min {
		return true
	}

	return !snap.LastCycleAt.IsZero() && time.Since(snap.LastCycleAt) >= h.interval
}

func (h *Hybrid) ExecuteLearningCycle(ctx context.Context, msgs []message.FilteredMessage) message.AnalysisResult {
	return runCycle(ctx, h.cycle, msgs)
}

var (
	_ Strategy = (*Progressive)(nil)
	_ Strategy = (*Batch)(nil)
	_ Strategy = (*Realtime)(nil)
	_ Strategy = (*Hybrid)(nil)
)
