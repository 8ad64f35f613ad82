package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parrotlabsco/parrot/pkg/analysis"
	"github.com/parrotlabsco/parrot/pkg/buffer"
	"github.com/parrotlabsco/parrot/pkg/eventstream"
	"github.com/parrotlabsco/parrot/pkg/learning"
	"github.com/parrotlabsco/parrot/pkg/message"
	"github.com/parrotlabsco/parrot/pkg/persona"
	"github.com/parrotlabsco/parrot/pkg/pipeline"
	"github.com/parrotlabsco/parrot/pkg/storage/inmemory"
)

type eventSink struct {
	mu    sync.Mutex
	types []string
}

func (s *eventSink) OnEvent(_ context.Context, event *eventstream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.types = append(s.types, event.EventType)
}

func (s *eventSink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.types {
		if t == eventType {
			n++
		}
	}

	return n
}

func rawMessage(i int) *message.RawMessage {
	return &message.RawMessage{
		SenderID:  "u1",
		Message:   fmt.Sprintf("what do you think about topic %d, is it worth a look", i),
		GroupID:   "g1",
		Timestamp: float64(time.Now().Unix()) + float64(i),
		Platform:  "telegram",
		MessageID: fmt.Sprintf("m-%d", i),
	}
}

// gateFilter parks every filter call until released, then passes the
// message through as suitable.
type gateFilter struct {
	release chan struct{}
	calls   atomic.Int64
}

func (f *gateFilter) FilterMessage(_ context.Context, _ string) (message.AnalysisResult, error) {
	<-f.release
	f.calls.Add(1)

	return message.AnalysisResult{
		Success: true,
		Data: map[string]any{
			"suitable": true,
			"scores":   map[string]float64{"length": 0.5},
		},
	}, nil
}

func (f *gateFilter) IsSuitableForLearning(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func newPipeline(gateway *inmemory.Gateway, strategy learning.Type, cfg learning.Config) *pipeline.Pipeline {
	return newPipelineFiltered(gateway, analysis.NewHeuristic(), strategy, cfg)
}

func newPipelineFiltered(gateway *inmemory.Gateway, filter analysis.Filter, strategy learning.Type, cfg learning.Config) *pipeline.Pipeline {
	collector, err := buffer.NewCollector(&buffer.Config{Gateway: gateway})
	Expect(err).NotTo(HaveOccurred())

	heuristic := analysis.NewHeuristic()
	monitor := analysis.NewThresholdMonitor(heuristic, 0.1, 0.1)

	backups := persona.NewBackupManager(gateway, gateway, nil)
	coordinator, err := persona.NewCoordinator(&persona.CoordinatorConfig{
		States:  gateway,
		Backups: backups,
		Monitor: monitor,
	})
	Expect(err).NotTo(HaveOccurred())

	p, err := pipeline.NewPipeline(&pipeline.Config{
		Collector:   collector,
		Gateway:     gateway,
		Filter:      filter,
		Analyzer:    heuristic,
		Coordinator: coordinator,
		PersonaID:   "p1",
		Strategy:    strategy,
		Learning:    cfg,
		NumWorkers:  2,
	})
	Expect(err).NotTo(HaveOccurred())

	return p
}

var _ = Describe("Lifecycle", func() {
	It("walks created -> initializing -> running -> stopping -> stopped", func() {
		lc := pipeline.NewLifecycle()
		Expect(lc.State()).To(Equal(pipeline.StateCreated))

		Expect(lc.Transition(pipeline.StateInitializing)).To(Succeed())
		Expect(lc.Transition(pipeline.StateRunning)).To(Succeed())
		Expect(lc.Transition(pipeline.StateStopping)).To(Succeed())
		Expect(lc.Transition(pipeline.StateStopped)).To(Succeed())
	})

	It("rejects stopping before running", func() {
		lc := pipeline.NewLifecycle()

		err := lc.Transition(pipeline.StateStopping)

		var terr pipeline.TransitionError
		Expect(err).To(BeAssignableToTypeOf(terr))
		Expect(lc.State()).To(Equal(pipeline.StateCreated))
	})

	It("allows stopping from error", func() {
		lc := pipeline.NewLifecycle()
		Expect(lc.Transition(pipeline.StateInitializing)).To(Succeed())
		Expect(lc.Transition(pipeline.StateError)).To(Succeed())

		Expect(lc.Transition(pipeline.StateStopping)).To(Succeed())
	})

	It("treats stopped as terminal", func() {
		lc := pipeline.NewLifecycle()
		Expect(lc.Transition(pipeline.StateInitializing)).To(Succeed())
		Expect(lc.Transition(pipeline.StateRunning)).To(Succeed())
		Expect(lc.Transition(pipeline.StateStopping)).To(Succeed())
		Expect(lc.Transition(pipeline.StateStopped)).To(Succeed())

		Expect(lc.Transition(pipeline.StateRunning)).NotTo(Succeed())
	})
})

var _ = Describe("Pipeline", func() {
	var (
		ctx     context.Context
		gateway *inmemory.Gateway
		p       *pipeline.Pipeline
	)

	BeforeEach(func() {
		ctx = context.Background()
		gateway = inmemory.NewGateway()
		p = newPipeline(gateway, learning.TypeRealtime, learning.Config{})
	})

	AfterEach(func() {
		if p.State() == pipeline.StateRunning {
			Expect(p.Stop(ctx)).To(Succeed())
		}
	})

	It("starts and stops through the lifecycle", func() {
		Expect(p.State()).To(Equal(pipeline.StateCreated))

		Expect(p.Start(ctx)).To(Succeed())
		Expect(p.State()).To(Equal(pipeline.StateRunning))

		Expect(p.Stop(ctx)).To(Succeed())
		Expect(p.State()).To(Equal(pipeline.StateStopped))
	})

	It("rejects a second start", func() {
		Expect(p.Start(ctx)).To(Succeed())
		Expect(p.Start(ctx)).NotTo(Succeed())
	})

	It("filters pending messages and marks them processed", func() {
		Expect(p.Start(ctx)).To(Succeed())

		for i := 0; i < 5; i++ {
			collected, err := p.Collect(ctx, rawMessage(i))
			Expect(err).NotTo(HaveOccurred())
			Expect(collected).To(BeTrue())
		}

		enqueued, err := p.ProcessPending(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(enqueued).To(Equal(5))

		Eventually(func() int {
			stats, serr := gateway.GetMessagesStatistics(ctx)
			Expect(serr).NotTo(HaveOccurred())
			return stats.UnprocessedMessages
		}).Should(BeZero())

		stats, err := gateway.GetMessagesStatistics(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.FilteredMessages).To(BeEquivalentTo(5))
	})

	It("publishes collected and filtered events", func() {
		sink := &eventSink{}
		p.Bus().Subscribe(eventstream.EventTypeMessageCollected, sink)
		p.Bus().Subscribe(eventstream.EventTypeMessageFiltered, sink)

		Expect(p.Start(ctx)).To(Succeed())

		for i := 0; i < 3; i++ {
			_, err := p.Collect(ctx, rawMessage(i))
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := p.ProcessPending(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(sink.count(eventstream.EventTypeMessageCollected)).To(Equal(3))
		Eventually(func() int {
			return sink.count(eventstream.EventTypeMessageFiltered)
		}).Should(Equal(3))
	})

	It("does not refilter messages already queued or in flight", func() {
		gate := &gateFilter{release: make(chan struct{})}
		p = newPipelineFiltered(gateway, gate, learning.TypeRealtime, learning.Config{})
		Expect(p.Start(ctx)).To(Succeed())

		for i := 0; i < 3; i++ {
			_, err := p.Collect(ctx, rawMessage(i))
			Expect(err).NotTo(HaveOccurred())
		}

		enqueued, err := p.ProcessPending(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(enqueued).To(Equal(3))

		// The first batch is parked in the filter, so a second pass sees
		// the same unprocessed messages but must not enqueue them again.
		enqueued, err = p.ProcessPending(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(enqueued).To(BeZero())

		close(gate.release)

		Eventually(func() int {
			stats, serr := gateway.GetMessagesStatistics(ctx)
			Expect(serr).NotTo(HaveOccurred())
			return stats.UnprocessedMessages
		}).Should(BeZero())

		stats, err := gateway.GetMessagesStatistics(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.FilteredMessages).To(Equal(3))
		Expect(gate.calls.Load()).To(BeEquivalentTo(3))
	})

	It("rejects invalid messages without failing", func() {
		Expect(p.Start(ctx)).To(Succeed())

		collected, err := p.Collect(ctx, &message.RawMessage{Message: "no sender"})

		Expect(err).NotTo(HaveOccurred())
		Expect(collected).To(BeFalse())
	})

	It("refuses processing before start", func() {
		_, err := p.ProcessPending(ctx)
		Expect(err).To(MatchError(ContainSubstring("not running")))
	})

	Describe("learning", func() {
		drain := func(n int) {
			for i := 0; i < n; i++ {
				_, err := p.Collect(ctx, rawMessage(i))
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := p.ProcessPending(ctx)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int {
				stats, serr := gateway.GetMessagesStatistics(ctx)
				Expect(serr).NotTo(HaveOccurred())
				return stats.UnprocessedMessages
			}).Should(BeZero())
		}

		It("updates the persona when the trigger fires", func() {
			sink := &eventSink{}
			p.Bus().Subscribe(eventstream.EventTypePersonaUpdated, sink)
			p.Bus().Subscribe(eventstream.EventTypeLearningCompleted, sink)

			Expect(p.Start(ctx)).To(Succeed())
			drain(5)

			result, err := p.MaybeLearn(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).NotTo(BeNil())
			Expect(result.Success).To(BeTrue())

			state, err := gateway.GetPersona(ctx, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).NotTo(BeNil())
			Expect(state.Style).NotTo(BeEmpty())

			Expect(sink.count(eventstream.EventTypePersonaUpdated)).To(Equal(1))
			Expect(sink.count(eventstream.EventTypeLearningCompleted)).To(Equal(1))
		})

		It("creates a backup before the update", func() {
			Expect(p.Start(ctx)).To(Succeed())
			drain(5)

			result, err := p.MaybeLearn(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())

			backups, err := gateway.ListBackups(ctx, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(HaveLen(1))
			Expect(backups[0].Reason).To(Equal("pre-update"))
		})

		It("records a completed learning batch", func() {
			Expect(p.Start(ctx)).To(Succeed())
			drain(5)

			result, err := p.MaybeLearn(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())

			Expect(result.Data).To(HaveKey("phase"))
			Expect(result.Data["phase"]).To(Equal("committed"))
		})

		It("does not learn below a batch threshold", func() {
			p = newPipeline(gateway, learning.TypeBatch, learning.Config{MinMessages: 50})
			Expect(p.Start(ctx)).To(Succeed())
			drain(5)

			result, err := p.MaybeLearn(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeNil())
		})

		It("does not relearn the same messages", func() {
			Expect(p.Start(ctx)).To(Succeed())
			drain(5)

			first, err := p.MaybeLearn(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(first).NotTo(BeNil())

			second, err := p.MaybeLearn(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(BeNil())
		})
	})

	It("publishes lifecycle status events", func() {
		sink := &eventSink{}
		p.Bus().Subscribe(eventstream.EventTypeServiceStatus, sink)

		Expect(p.Start(ctx)).To(Succeed())
		Expect(p.Stop(ctx)).To(Succeed())

		Expect(sink.count(eventstream.EventTypeServiceStatus)).To(Equal(4))
	})
})
