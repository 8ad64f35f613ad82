package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parrotlabsco/parrot/pkg/analysis"
	"github.com/parrotlabsco/parrot/pkg/eventstream"
	"github.com/parrotlabsco/parrot/pkg/message"
	"github.com/parrotlabsco/parrot/pkg/storage"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// filterJob is one raw message awaiting a filter verdict.
type filterJob struct {
	msg *message.RawMessage
}

// filterPoolConfig configures the filter worker pool.
type filterPoolConfig struct {
	Gateway    storage.Gateway
	Filter     analysis.Filter
	Bus        *eventstream.Bus
	NumWorkers uint
	QueueSize  uint
	Logger     *zap.Logger
}

// filterPool scores raw messages off the ingestion hot path. A message is
// marked processed only after its verdict is durably stored; a failed job
// leaves the message unprocessed so a later pass retries it.
type filterPool struct {
	config *filterPoolConfig
	queue  chan filterJob
	wg     sync.WaitGroup
	logger *zap.Logger

	// mu guards inflight: ids queued or being filtered right now. A raw
	// message stays unprocessed until its verdict is stored, so without
	// this set an overlapping processing pass would enqueue the same
	// message twice and store duplicate verdicts.
	mu       sync.Mutex
	inflight map[int64]struct{}
}

// newFilterPool creates the pool and starts its workers.
func newFilterPool(c *filterPoolConfig) *filterPool {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	p := &filterPool{
		config:   c,
		queue:    make(chan filterJob, c.QueueSize),
		logger:   c.Logger,
		inflight: make(map[int64]struct{}),
	}

	p.wg.Add(int(c.NumWorkers))
	for i := uint(0); i < c.NumWorkers; i++ {
		go p.worker(i)
	}

	return p
}

// Enqueue submits a message for filtering. Returns false when the message
// is already queued or being filtered, or when the queue is full; in the
// latter case the message stays unprocessed in storage and is retried on
// the next processing pass.
func (p *filterPool) Enqueue(job filterJob) bool {
	if !p.track(job.msg.ID) {
		p.logger.Debug("filter job already in flight, skipped",
			zap.Int64("raw_message_id", job.msg.ID),
		)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("filter job queued",
			zap.Int64("raw_message_id", job.msg.ID),
		)
		return true
	default:
		p.untrack(job.msg.ID)
		p.logger.Warn("filter queue full, job deferred",
			zap.Int64("raw_message_id", job.msg.ID),
		)
		return false
	}
}

// track claims a raw message id for filtering. Returns false when the id is
// already in flight.
func (p *filterPool) track(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inflight[id]; ok {
		return false
	}

	p.inflight[id] = struct{}{}

	return true
}

func (p *filterPool) untrack(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inflight, id)
}

// Close signals workers to stop and waits for in-flight jobs to drain.
func (p *filterPool) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *filterPool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("filter worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("filter worker stopped", zap.Uint("worker_id", id))
}

func (p *filterPool) processJob(job filterJob) {
	ctx := context.Background()
	msg := job.msg
	defer p.untrack(msg.ID)

	verdict, err := p.config.Filter.FilterMessage(ctx, msg.Message)
	if err != nil {
		p.logger.Error("filtering failed, message left unprocessed",
			zap.Int64("raw_message_id", msg.ID),
			zap.Error(err),
		)
		return
	}

	filtered := &message.FilteredMessage{
		RawMessageID: msg.ID,
		GroupID:      msg.GroupID,
		Message:      msg.Message,
		Suitable:     suitableOf(verdict),
		Scores:       scoresOf(verdict),
		Timestamp:    float64(time.Now().Unix()),
	}

	if err := p.config.Gateway.AddFilteredMessage(ctx, filtered); err != nil {
		p.logger.Error("storing filter verdict failed, message left unprocessed",
			zap.Int64("raw_message_id", msg.ID),
			zap.Error(err),
		)
		return
	}

	// Mark processed only after the verdict is stored, so a crash between
	// the two steps re-filters rather than loses the message.
	if err := p.config.Gateway.MarkMessagesProcessed(ctx, []int64{msg.ID}); err != nil {
		p.logger.Error("marking message processed failed",
			zap.Int64("raw_message_id", msg.ID),
			zap.Error(err),
		)
		return
	}

	if p.config.Bus != nil {
		p.config.Bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypeMessageFiltered, map[string]any{
			"raw_message_id": msg.ID,
			"group_id":       msg.GroupID,
			"suitable":       filtered.Suitable,
		}))
	}
}

func suitableOf(result message.AnalysisResult) bool {
	if !result.Success {
		return false
	}

	suitable, _ := result.Data["suitable"].(bool)

	return suitable
}

func scoresOf(result message.AnalysisResult) map[string]float64 {
	scores, _ := result.Data["scores"].(map[string]float64)

	return scores
}
