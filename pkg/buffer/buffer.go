// Package buffer provides the write-behind message collector: it absorbs
// high-frequency inbound messages in memory and flushes them to the storage
// gateway under a dual size/time trigger.
//
// The buffer is never authoritative. Every read that answers questions about
// durable state (unprocessed messages, statistics, exports) flushes first so
// callers cannot observe stale results.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parrotlabsco/parrot/pkg/message"
	"github.com/parrotlabsco/parrot/pkg/storage"
)

const (
	// DefaultSizeLimit is the buffered message count that forces a flush.
	DefaultSizeLimit = 100

	// DefaultFlushInterval is the elapsed time since the last flush that
	// forces a flush on the next collect.
	DefaultFlushInterval = 30 * time.Second
)

// CollectionError wraps a storage fault encountered while flushing during
// collection. The buffered messages are retained; retrying the collect or
// calling Flush resends the same contents.
type CollectionError struct {
	Err error
}

func (e CollectionError) Error() string {
	return fmt.Sprintf("message collection failed: %v", e.Err)
}

func (e CollectionError) Unwrap() error {
	return e.Err
}

// Config holds the collector's construction options.
type Config struct {
	// Gateway is the durable storage backend.
	Gateway storage.Gateway

	// SizeLimit is the buffer length that triggers a flush (default 100).
	SizeLimit int

	// FlushInterval is the max elapsed time between flushes, checked on
	// every collect (default 30s). There is no background timer: an idle
	// buffer holds its messages until the next collect or explicit flush.
	FlushInterval time.Duration

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Collector buffers inbound messages and flushes them in batches.
type Collector struct {
	gateway storage.Gateway
	logger  *zap.Logger

	sizeLimit     int
	flushInterval time.Duration

	// mu guards cache and lastFlush. Collect holds it across the
	// append-and-check so no two concurrent collects can both observe
	// "below threshold" and skip a needed flush.
	mu        sync.Mutex
	cache     []*message.RawMessage
	lastFlush time.Time
}

// NewCollector creates a collector. A nil gateway is rejected.
func NewCollector(c *Config) (*Collector, error) {
	if c.Gateway == nil {
		return nil, errors.New("collector requires a storage gateway")
	}

	if c.SizeLimit <= 0 {
		c.SizeLimit = DefaultSizeLimit
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Collector{
		gateway:       c.Gateway,
		logger:        c.Logger,
		sizeLimit:     c.SizeLimit,
		flushInterval: c.FlushInterval,
		lastFlush:     time.Now(),
	}, nil
}

// Collect validates and buffers one message. Returns false without error
// when required fields (sender id, text, timestamp) are missing; that is a
// caller-data-quality outcome, not a system fault. A storage fault during a
// triggered flush surfaces as a CollectionError; the buffer keeps its
// contents so the flush can be retried.
func (c *Collector) Collect(ctx context.Context, msg *message.RawMessage) (bool, error) {
	if msg == nil || !msg.Valid() {
		c.logger.Warn("message rejected, missing required fields")
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = append(c.cache, msg)

	if len(c.cache) >= c.sizeLimit || time.Since(c.lastFlush) > c.flushInterval {
		if err := c.flushLocked(ctx); err != nil {
			return true, CollectionError{Err: err}
		}
	}

	return true, nil
}

// Flush drains the buffer to the gateway. Idempotent: flushing an empty
// buffer is a no-op.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flushLocked(ctx)
}

// flushLocked writes every buffered message concurrently and joins before
// returning. On any write failure the whole buffer is retained so a retry
// resends the same contents (at-least-once; the gateway deduplicates keyed
// messages). Callers must hold mu.
func (c *Collector) flushLocked(ctx context.Context) error {
	if len(c.cache) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(c.cache))

	for i, msg := range c.cache {
		wg.Add(1)
		go func(i int, msg *message.RawMessage) {
			defer wg.Done()
			errs[i] = c.gateway.SaveRawMessage(ctx, msg)
		}(i, msg)
	}

	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		c.logger.Error("flush failed, buffer retained",
			zap.Int("buffered", len(c.cache)),
			zap.Error(err),
		)
		return err
	}

	c.logger.Debug("flushed messages", zap.Int("count", len(c.cache)))

	c.cache = c.cache[:0]
	c.lastFlush = time.Now()

	return nil
}

// Unprocessed flushes and then returns unprocessed messages from the
// gateway, so a just-collected message is always visible.
func (c *Collector) Unprocessed(ctx context.Context, limit int) ([]*message.RawMessage, error) {
	if err := c.Flush(ctx); err != nil {
		return nil, err
	}

	return c.gateway.GetUnprocessedMessages(ctx, limit)
}

// RecentFiltered flushes and then returns the newest filtered messages for
// a group, newest first.
func (c *Collector) RecentFiltered(ctx context.Context, groupID string, limit int) ([]*message.FilteredMessage, error) {
	if err := c.Flush(ctx); err != nil {
		return nil, err
	}

	return c.gateway.GetRecentFilteredMessages(ctx, groupID, limit)
}

// MarkProcessed marks the given storage ids processed.
func (c *Collector) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	if err := c.gateway.MarkMessagesProcessed(ctx, ids); err != nil {
		return err
	}

	c.logger.Debug("marked messages processed", zap.Int("count", len(ids)))

	return nil
}

// Statistics flushes and then merges gateway counts with the live buffer
// size (necessarily zero or near-zero right after a successful flush).
func (c *Collector) Statistics(ctx context.Context) (*message.Statistics, error) {
	if err := c.Flush(ctx); err != nil {
		return nil, err
	}

	stats, err := c.gateway.GetMessagesStatistics(ctx)
	if err != nil {
		return nil, err
	}

	stats.CacheSize = c.Len()

	return stats, nil
}

// ExportLearningData flushes and dumps all collected data.
func (c *Collector) ExportLearningData(ctx context.Context) (*storage.LearningExport, error) {
	if err := c.Flush(ctx); err != nil {
		return nil, err
	}

	return c.gateway.ExportLearningData(ctx)
}

// ClearAll flushes pending writes, clears durable message data, and drops
// anything still buffered.
func (c *Collector) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.flushLocked(ctx); err != nil {
		return err
	}

	if err := c.gateway.ClearAllMessagesData(ctx); err != nil {
		return err
	}

	c.cache = c.cache[:0]
	c.logger.Info("all collected message data cleared")

	return nil
}

// SaveState flushes the buffer so no collected message is lost across a
// shutdown.
func (c *Collector) SaveState(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}

	c.logger.Info("collector state saved")

	return nil
}

// CreateLearningBatch records the start of a learning cycle.
func (c *Collector) CreateLearningBatch(ctx context.Context, name string) (int64, error) {
	return c.gateway.CreateLearningBatch(ctx, name)
}

// UpdateLearningBatch merges progress fields into a batch record.
func (c *Collector) UpdateLearningBatch(ctx context.Context, id int64, fields map[string]any) error {
	return c.gateway.UpdateLearningBatch(ctx, id, fields)
}

// Len returns the current number of buffered messages.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.cache)
}
