package eventstream_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parrotlabsco/parrot/pkg/eventstream"
	"github.com/parrotlabsco/parrot/pkg/eventstream/nop"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []*eventstream.Event
}

func (r *recordingObserver) OnEvent(_ context.Context, event *eventstream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *recordingObserver) seen() []*eventstream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*eventstream.Event, len(r.events))
	copy(out, r.events)

	return out
}

type panickingObserver struct{}

func (p *panickingObserver) OnEvent(context.Context, *eventstream.Event) {
	panic("observer exploded")
}

type failingPublisher struct {
	calls int
}

func (f *failingPublisher) Publish(context.Context, *eventstream.Event) error {
	f.calls++
	return errors.New("broker unavailable")
}

func (f *failingPublisher) Close() error { return nil }

var _ = Describe("Bus", func() {
	var (
		ctx context.Context
		bus *eventstream.Bus
	)

	BeforeEach(func() {
		ctx = context.Background()
		bus = eventstream.NewBus(nil, nil)
	})

	It("delivers events to observers of the matching type", func() {
		obs := &recordingObserver{}
		bus.Subscribe(eventstream.EventTypePersonaUpdated, obs)

		event := eventstream.NewEvent(eventstream.EventTypePersonaUpdated, map[string]any{
			"persona_id": "p1",
		})
		bus.Publish(ctx, event)

		Expect(obs.seen()).To(HaveLen(1))
		Expect(obs.seen()[0].EventID).To(Equal(event.EventID))
	})

	It("does not deliver events of other types", func() {
		obs := &recordingObserver{}
		bus.Subscribe(eventstream.EventTypePersonaUpdated, obs)

		bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypeMessageCollected, nil))

		Expect(obs.seen()).To(BeEmpty())
	})

	It("delivers the same event to every subscribed observer", func() {
		first := &recordingObserver{}
		second := &recordingObserver{}
		bus.Subscribe(eventstream.EventTypeLearningCompleted, first)
		bus.Subscribe(eventstream.EventTypeLearningCompleted, second)

		event := eventstream.NewEvent(eventstream.EventTypeLearningCompleted, nil)
		bus.Publish(ctx, event)

		Expect(first.seen()).To(HaveLen(1))
		Expect(second.seen()).To(HaveLen(1))
		Expect(first.seen()[0]).To(BeIdenticalTo(second.seen()[0]))
	})

	It("keeps delivering when an observer panics", func() {
		healthy := &recordingObserver{}
		bus.Subscribe(eventstream.EventTypeQualityIssue, &panickingObserver{})
		bus.Subscribe(eventstream.EventTypeQualityIssue, healthy)

		Expect(func() {
			bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypeQualityIssue, nil))
		}).NotTo(Panic())

		Expect(healthy.seen()).To(HaveLen(1))
	})

	It("stops delivering after unsubscribe", func() {
		obs := &recordingObserver{}
		bus.Subscribe(eventstream.EventTypeStyleAnalyzed, obs)
		bus.Unsubscribe(eventstream.EventTypeStyleAnalyzed, obs)

		bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypeStyleAnalyzed, nil))

		Expect(obs.seen()).To(BeEmpty())
	})

	It("treats unsubscribing an unknown observer as a no-op", func() {
		known := &recordingObserver{}
		unknown := &recordingObserver{}
		bus.Subscribe(eventstream.EventTypeStyleAnalyzed, known)

		Expect(func() {
			bus.Unsubscribe(eventstream.EventTypeStyleAnalyzed, unknown)
			bus.Unsubscribe(eventstream.EventTypePersonaUpdated, unknown)
		}).NotTo(Panic())

		bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypeStyleAnalyzed, nil))

		Expect(known.seen()).To(HaveLen(1))
	})

	It("supports function observers through ObserverFunc", func() {
		var got *eventstream.Event
		fn := eventstream.ObserverFunc(func(_ context.Context, event *eventstream.Event) {
			got = event
		})
		bus.Subscribe(eventstream.EventTypeMessageFiltered, &fn)

		event := eventstream.NewEvent(eventstream.EventTypeMessageFiltered, nil)
		bus.Publish(ctx, event)
		Expect(got).To(BeIdenticalTo(event))

		bus.Unsubscribe(eventstream.EventTypeMessageFiltered, &fn)
		got = nil
		bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypeMessageFiltered, nil))
		Expect(got).To(BeNil())
	})

	It("ignores nil events", func() {
		obs := &recordingObserver{}
		bus.Subscribe(eventstream.EventTypeServiceStatus, obs)

		Expect(func() { bus.Publish(ctx, nil) }).NotTo(Panic())
		Expect(obs.seen()).To(BeEmpty())
	})

	Describe("with a mirror publisher", func() {
		It("still delivers to observers when the mirror fails", func() {
			mirror := &failingPublisher{}
			bus = eventstream.NewBus(mirror, nil)

			obs := &recordingObserver{}
			bus.Subscribe(eventstream.EventTypePersonaRolledBack, obs)

			bus.Publish(ctx, eventstream.NewEvent(eventstream.EventTypePersonaRolledBack, nil))

			Expect(obs.seen()).To(HaveLen(1))
			Expect(mirror.calls).To(Equal(1))
		})
	})
})

var _ = Describe("NewEvent", func() {
	It("stamps schema version, id, and emission time", func() {
		event := eventstream.NewEvent(eventstream.EventTypeMessageCollected, map[string]any{"count": 3})

		Expect(event.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
		Expect(event.EventType).To(Equal(eventstream.EventTypeMessageCollected))
		Expect(event.EventID).NotTo(BeEmpty())
		Expect(event.EmittedAt).NotTo(BeZero())
		Expect(event.Data).To(HaveKeyWithValue("count", 3))
	})

	It("assigns distinct ids to distinct events", func() {
		first := eventstream.NewEvent(eventstream.EventTypeMessageCollected, nil)
		second := eventstream.NewEvent(eventstream.EventTypeMessageCollected, nil)

		Expect(first.EventID).NotTo(Equal(second.EventID))
	})
})

var _ = Describe("Nop publisher", func() {
	It("accepts events and rejects nil", func() {
		pub := nop.NewPublisher()

		Expect(pub.Publish(context.Background(), eventstream.NewEvent(eventstream.EventTypeServiceStatus, nil))).To(Succeed())
		Expect(pub.Publish(context.Background(), nil)).To(MatchError(eventstream.ErrNilEvent))
		Expect(pub.Close()).To(Succeed())
	})
})
