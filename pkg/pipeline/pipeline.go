// Package pipeline wires the persona-learning stages together: collection,
// filtering, learning triggers, style analysis, and persona updates. It
// owns the event bus and the service lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parrotlabsco/parrot/pkg/analysis"
	"github.com/parrotlabsco/parrot/pkg/buffer"
	"github.com/parrotlabsco/parrot/pkg/eventstream"
	"github.com/parrotlabsco/parrot/pkg/learning"
	"github.com/parrotlabsco/parrot/pkg/message"
	"github.com/parrotlabsco/parrot/pkg/persona"
	"github.com/parrotlabsco/parrot/pkg/storage"
)

// Config holds the pipeline's collaborators and tuning.
type Config struct {
	// Collector buffers inbound raw messages.
	Collector *buffer.Collector

	// Gateway is the durable storage backend shared by all stages.
	Gateway storage.Gateway

	// Filter scores raw messages for learning suitability.
	Filter analysis.Filter

	// Analyzer reduces filtered messages to style fingerprints.
	Analyzer analysis.StyleAnalyzer

	// Coordinator applies persona updates under backup protection.
	Coordinator *persona.Coordinator

	// Publisher optionally mirrors bus events cross-process.
	Publisher eventstream.Publisher

	// PersonaID is the persona this pipeline learns into.
	PersonaID string

	// Strategy selects the learning trigger (defaults to progressive).
	Strategy learning.Type

	// Learning tunes the strategy thresholds.
	Learning learning.Config

	// NumWorkers and QueueSize size the filter worker pool.
	NumWorkers uint
	QueueSize  uint

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Pipeline is the orchestrator. Construct with NewPipeline, then Start,
// feed it with Collect and ProcessPending, and Stop during shutdown.
type Pipeline struct {
	config    *Config
	lifecycle *Lifecycle
	bus       *eventstream.Bus
	strategy  learning.Strategy
	pool      *filterPool
	logger    *zap.Logger

	mu          sync.Mutex
	learned     int
	lastCycleAt time.Time
}

// NewPipeline validates collaborators and builds the pipeline. The event
// bus is created here and owned by the pipeline.
func NewPipeline(c *Config) (*Pipeline, error) {
	switch {
	case c.Collector == nil:
		return nil, errors.New("pipeline requires a collector")
	case c.Gateway == nil:
		return nil, errors.New("pipeline requires a storage gateway")
	case c.Filter == nil:
		return nil, errors.New("pipeline requires a message filter")
	case c.Analyzer == nil:
		return nil, errors.New("pipeline requires a style analyzer")
	case c.Coordinator == nil:
		return nil, errors.New("pipeline requires a persona coordinator")
	case c.PersonaID == "":
		return nil, errors.New("pipeline requires a persona id")
	}

	if c.Strategy == "" {
		c.Strategy = learning.TypeProgressive
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	p := &Pipeline{
		config:    c,
		lifecycle: NewLifecycle(),
		bus:       eventstream.NewBus(c.Publisher, c.Logger),
		logger:    c.Logger,
	}

	strategy, err := learning.New(c.Strategy, c.Learning, p.learn)
	if err != nil {
		return nil, err
	}
	p.strategy = strategy

	return p, nil
}

// Bus exposes the pipeline's event bus for observer registration.
func (p *Pipeline) Bus() *eventstream.Bus {
	return p.bus
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return p.lifecycle.State()
}

// Start brings the pipeline to running: the filter pool is created and the
// lifecycle moves created -> initializing -> running.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.lifecycle.Transition(StateInitializing); err != nil {
		return err
	}
	p.publishStatus(ctx, StateInitializing)

	p.pool = newFilterPool(&filterPoolConfig{
		Gateway:    p.config.Gateway,
		Filter:     p.config.Filter,
		Bus:        p.bus,
		NumWorkers: p.config.NumWorkers,
		QueueSize:  p.config.QueueSize,
		Logger:     p.logger,
	})

	if err := p.lifecycle.Transition(StateRunning); err != nil {
		return err
	}
	p.publishStatus(ctx, StateRunning)
	p.logger.Info("pipeline running", zap.String("persona_id", p.config.PersonaID))

	return nil
}

// Stop drains the filter pool, flushes the collector, and moves the
// lifecycle to stopped. Only legal from running or error.
func (p *Pipeline) Stop(ctx context.Context) error {
	if err := p.lifecycle.Transition(StateStopping); err != nil {
		return err
	}
	p.publishStatus(ctx, StateStopping)

	if p.pool != nil {
		p.pool.Close()
	}

	if err := p.config.Collector.SaveState(ctx); err != nil {
		p.logger.Error("final flush failed during shutdown", zap.Error(err))
		if terr := p.lifecycle.Transition(StateError); terr == nil {
			p.publishStatus(ctx, StateError)
		}
		return err
	}

	if err := p.lifecycle.Transition(StateStopped); err != nil {
		return err
	}
	p.publishStatus(ctx, StateStopped)
	p.logger.Info("pipeline stopped")

	return nil
}

// Collect buffers one inbound message. Returns false when the message is
// rejected for missing required fields.
func (p *Pipeline) Collect(ctx context.Context, msg *message.RawMessage) (bool, error) {
	collected, err := p.config.Collector.Collect(ctx, msg)
	if err != nil {
		return collected, err
	}

	if collected {
		p.bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypeMessageCollected, map[string]any{
			"sender_id": msg.SenderID,
			"group_id":  msg.GroupID,
		}))
	}

	return collected, nil
}

// ProcessPending flushes the buffer and enqueues every unprocessed message
// for filtering. Returns the number of messages enqueued.
func (p *Pipeline) ProcessPending(ctx context.Context) (int, error) {
	if p.lifecycle.State() != StateRunning {
		return 0, fmt.Errorf("pipeline is %s, not running", p.lifecycle.State())
	}

	msgs, err := p.config.Collector.Unprocessed(ctx, 0)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, msg := range msgs {
		if p.pool.Enqueue(filterJob{msg: msg}) {
			enqueued++
		}
	}

	return enqueued, nil
}

// MaybeLearn runs one learning cycle if the strategy's trigger condition
// holds. Returns nil when the trigger did not fire.
func (p *Pipeline) MaybeLearn(ctx context.Context) (*message.AnalysisResult, error) {
	if p.lifecycle.State() != StateRunning {
		return nil, fmt.Errorf("pipeline is %s, not running", p.lifecycle.State())
	}

	msgs, err := p.config.Gateway.GetFilteredMessagesForLearning(ctx, 0)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	pending := msgs[min(p.learned, len(msgs)):]
	snap := learning.Snapshot{
		PendingMessages: len(pending),
		LastCycleAt:     p.lastCycleAt,
	}
	p.mu.Unlock()

	if !p.strategy.ShouldLearn(ctx, snap) {
		return nil, nil
	}

	batch := make([]message.FilteredMessage, len(pending))
	for i, msg := range pending {
		batch[i] = *msg
	}

	result := p.strategy.ExecuteLearningCycle(ctx, batch)

	if result.Success {
		p.mu.Lock()
		p.learned = len(msgs)
		p.lastCycleAt = time.Now()
		p.mu.Unlock()
	}

	return &result, nil
}

// learn is the cycle body the strategy invokes: analyze style, update the
// persona under backup protection, and record the batch outcome.
func (p *Pipeline) learn(ctx context.Context, msgs []message.FilteredMessage) message.AnalysisResult {
	batchName := fmt.Sprintf("learn-%s-%d", p.config.PersonaID, time.Now().Unix())
	batchID, err := p.config.Gateway.CreateLearningBatch(ctx, batchName)
	if err != nil {
		return message.Failure(err.Error())
	}

	ptrs := make([]*message.FilteredMessage, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}

	styleResult, err := p.config.Analyzer.AnalyzeConversationStyle(ctx, ptrs)
	if err != nil || !styleResult.Success {
		reason := styleResult.Error
		if err != nil {
			reason = err.Error()
		}
		p.finishBatch(ctx, batchID, message.BatchStatusFailed, reason)
		return message.Failure(reason)
	}

	style, _ := styleResult.Data["style"].(*message.StyleFingerprint)
	p.bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypeStyleAnalyzed, map[string]any{
		"persona_id":    p.config.PersonaID,
		"message_count": len(msgs),
		"confidence":    styleResult.Confidence,
	}))

	result, err := p.config.Coordinator.UpdatePersona(ctx, p.config.PersonaID, style, ptrs)
	if err != nil {
		p.finishBatch(ctx, batchID, message.BatchStatusFailed, err.Error())
		p.publishUpdateOutcome(ctx, result)
		return message.Failure(err.Error())
	}

	if !result.Success {
		// Quality regression: rolled back cleanly, the cycle itself failed.
		p.finishBatch(ctx, batchID, message.BatchStatusFailed, result.Error)
		p.publishUpdateOutcome(ctx, result)
		return result
	}

	p.finishBatch(ctx, batchID, message.BatchStatusCompleted, "")
	p.publishUpdateOutcome(ctx, result)
	p.bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypeLearningCompleted, map[string]any{
		"persona_id":    p.config.PersonaID,
		"batch_id":      batchID,
		"message_count": len(msgs),
		"confidence":    result.Confidence,
	}))

	return result
}

func (p *Pipeline) finishBatch(ctx context.Context, batchID int64, status, reason string) {
	fields := map[string]any{"status": status}
	if reason != "" {
		fields["error"] = reason
	}

	if err := p.config.Gateway.UpdateLearningBatch(ctx, batchID, fields); err != nil {
		p.logger.Warn("updating learning batch failed",
			zap.Int64("batch_id", batchID),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) publishUpdateOutcome(ctx context.Context, result message.AnalysisResult) {
	data := map[string]any{"persona_id": p.config.PersonaID}
	for k, v := range result.Data {
		data[k] = v
	}

	if result.Success {
		p.bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypePersonaUpdated, data))
		return
	}

	data["reason"] = result.Error
	p.bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypePersonaRolledBack, data))
	p.bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypeQualityIssue, map[string]any{
		"persona_id": p.config.PersonaID,
		"reason":     result.Error,
	}))
}

func (p *Pipeline) publishStatus(ctx context.Context, state State) {
	p.bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypeServiceStatus, map[string]any{
		"state": state.String(),
	}))
}
