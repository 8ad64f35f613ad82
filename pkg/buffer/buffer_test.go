package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parrotlabsco/parrot/pkg/message"
	"github.com/parrotlabsco/parrot/pkg/storage/inmemory"
)

// flakyGateway wraps the in-memory gateway and fails a configurable number
// of raw-message writes to exercise at-least-once flushing.
type flakyGateway struct {
	*inmemory.Gateway
	failures atomic.Int64
}

func (f *flakyGateway) SaveRawMessage(ctx context.Context, msg *message.RawMessage) error {
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errors.New("simulated write failure")
	}

	return f.Gateway.SaveRawMessage(ctx, msg)
}

func testMessage(i int) *message.RawMessage {
	return &message.RawMessage{
		SenderID:  "user-1",
		Message:   fmt.Sprintf("message %d", i),
		GroupID:   "group-1",
		Timestamp: float64(1700000000 + i),
		Platform:  "test",
		MessageID: fmt.Sprintf("msg-%d", i),
	}
}

var _ = Describe("Collector", func() {
	var (
		gw  *inmemory.Gateway
		col *Collector
		ctx context.Context
	)

	BeforeEach(func() {
		gw = inmemory.NewGateway()
		ctx = context.Background()

		var err error
		col, err = NewCollector(&Config{
			Gateway:   gw,
			SizeLimit: 100,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Collect", func() {
		It("rejects a message missing required fields without buffering it", func() {
			ok, err := col.Collect(ctx, &message.RawMessage{})
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(col.Len()).To(BeZero())
			Expect(gw.RawCount()).To(BeZero())
		})

		It("buffers a valid message without writing through", func() {
			ok, err := col.Collect(ctx, testMessage(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(col.Len()).To(Equal(1))
			Expect(gw.RawCount()).To(BeZero())
		})

		It("flushes once at the size limit and keeps the remainder buffered", func() {
			for i := 0; i < 150; i++ {
				ok, err := col.Collect(ctx, testMessage(i))
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
			}

			Expect(gw.RawCount()).To(Equal(100))
			Expect(col.Len()).To(Equal(50))
		})

		It("flushes at least floor(N/limit) times over a long burst", func() {
			for i := 0; i < 350; i++ {
				_, err := col.Collect(ctx, testMessage(i))
				Expect(err).NotTo(HaveOccurred())
			}

			// 3 automatic flushes, 50 still queued.
			Expect(gw.RawCount()).To(Equal(300))
			Expect(col.Len()).To(BeNumerically("<", 100))
		})

		It("flushes on the next collect after the interval elapses", func() {
			short, err := NewCollector(&Config{
				Gateway:       gw,
				SizeLimit:     100,
				FlushInterval: 10 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = short.Collect(ctx, testMessage(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(gw.RawCount()).To(BeZero())

			time.Sleep(20 * time.Millisecond)

			_, err = short.Collect(ctx, testMessage(2))
			Expect(err).NotTo(HaveOccurred())
			Expect(gw.RawCount()).To(Equal(2))
			Expect(short.Len()).To(BeZero())
		})
	})

	Describe("Flush", func() {
		It("is a no-op on an empty buffer", func() {
			Expect(col.Flush(ctx)).To(Succeed())
			Expect(gw.RawCount()).To(BeZero())
		})

		It("drains all buffered messages", func() {
			for i := 0; i < 7; i++ {
				_, err := col.Collect(ctx, testMessage(i))
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(col.Flush(ctx)).To(Succeed())
			Expect(gw.RawCount()).To(Equal(7))
			Expect(col.Len()).To(BeZero())
		})

		Context("when one write in the fan-out fails", func() {
			var flaky *flakyGateway
			var fcol *Collector

			BeforeEach(func() {
				flaky = &flakyGateway{Gateway: gw}

				var err error
				fcol, err = NewCollector(&Config{
					Gateway:   flaky,
					SizeLimit: 100,
				})
				Expect(err).NotTo(HaveOccurred())

				for i := 0; i < 5; i++ {
					_, err := fcol.Collect(ctx, testMessage(i))
					Expect(err).NotTo(HaveOccurred())
				}
				flaky.failures.Store(1)
			})

			It("retains the whole buffer and succeeds on retry", func() {
				Expect(fcol.Flush(ctx)).NotTo(Succeed())
				Expect(fcol.Len()).To(Equal(5))

				// Retry resends everything; keyed dedup makes this safe.
				Expect(fcol.Flush(ctx)).To(Succeed())
				Expect(fcol.Len()).To(BeZero())
				Expect(gw.RawCount()).To(Equal(5))
			})

			It("duplicates unkeyed messages on retry rather than losing them", func() {
				ucol, err := NewCollector(&Config{
					Gateway:   flaky,
					SizeLimit: 100,
				})
				Expect(err).NotTo(HaveOccurred())

				for i := 0; i < 3; i++ {
					msg := testMessage(i)
					msg.MessageID = ""
					_, err := ucol.Collect(ctx, msg)
					Expect(err).NotTo(HaveOccurred())
				}

				Expect(ucol.Flush(ctx)).NotTo(Succeed())
				Expect(ucol.Len()).To(Equal(3))

				// Without a message id there is no dedup key, so the two
				// writes that landed before the failure land again.
				Expect(ucol.Flush(ctx)).To(Succeed())
				Expect(gw.RawCount()).To(Equal(5))
			})
		})
	})

	Describe("Unprocessed", func() {
		It("sees a message collected immediately before the read", func() {
			msg := testMessage(42)
			_, err := col.Collect(ctx, msg)
			Expect(err).NotTo(HaveOccurred())

			got, err := col.Unprocessed(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].Message).To(Equal(msg.Message))
		})
	})

	Describe("Statistics", func() {
		It("merges gateway counts with the post-flush cache size", func() {
			for i := 0; i < 150; i++ {
				_, err := col.Collect(ctx, testMessage(i))
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(col.Len()).To(Equal(50))

			stats, err := col.Statistics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalMessages).To(Equal(150))
			Expect(stats.CacheSize).To(BeZero())
		})
	})

	Describe("MarkProcessed", func() {
		It("flips the processed flag so later reads skip the message", func() {
			_, err := col.Collect(ctx, testMessage(1))
			Expect(err).NotTo(HaveOccurred())

			got, err := col.Unprocessed(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))

			Expect(col.MarkProcessed(ctx, []int64{got[0].ID})).To(Succeed())

			got, err = col.Unprocessed(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})
	})

	Describe("ClearAll", func() {
		It("drops buffered and durable message data", func() {
			for i := 0; i < 10; i++ {
				_, err := col.Collect(ctx, testMessage(i))
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(col.ClearAll(ctx)).To(Succeed())
			Expect(col.Len()).To(BeZero())
			Expect(gw.RawCount()).To(BeZero())
		})
	})
})
