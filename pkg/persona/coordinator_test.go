package persona_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parrotlabsco/parrot/pkg/analysis"
	"github.com/parrotlabsco/parrot/pkg/message"
	"github.com/parrotlabsco/parrot/pkg/persona"
	"github.com/parrotlabsco/parrot/pkg/storage/inmemory"
)

// verdictMonitor is a quality monitor with a scripted verdict.
type verdictMonitor struct {
	pass bool
}

func (m *verdictMonitor) EvaluateLearningQuality(_ context.Context, _, _ *message.StyleFingerprint) (message.AnalysisResult, error) {
	if m.pass {
		return message.AnalysisResult{Success: true, Confidence: 0.9}, nil
	}

	return message.Failure("scripted regression"), nil
}

func (m *verdictMonitor) DetectQualityIssues(_ *message.StyleFingerprint) []string {
	return nil
}

// blockingMonitor parks its first evaluation until released, then reports
// a regression.
type blockingMonitor struct {
	entered chan struct{}
	release chan struct{}
}

func (m *blockingMonitor) EvaluateLearningQuality(_ context.Context, _, _ *message.StyleFingerprint) (message.AnalysisResult, error) {
	close(m.entered)
	<-m.release

	return message.Failure("scripted regression"), nil
}

func (m *blockingMonitor) DetectQualityIssues(_ *message.StyleFingerprint) []string {
	return nil
}

// failingBackups wraps the gateway and fails snapshot writes on demand.
type failingBackups struct {
	*inmemory.Gateway
	failSave    bool
	failRestore bool
}

func (f *failingBackups) SaveBackup(ctx context.Context, snap *persona.Snapshot) error {
	if f.failSave {
		return errors.New("simulated backup store outage")
	}

	return f.Gateway.SaveBackup(ctx, snap)
}

func (f *failingBackups) GetBackup(ctx context.Context, personaID string, backupID int64) (*persona.Snapshot, error) {
	if f.failRestore {
		return nil, errors.New("simulated backup store outage")
	}

	return f.Gateway.GetBackup(ctx, personaID, backupID)
}

func styleFingerprint(v float64) *message.StyleFingerprint {
	return &message.StyleFingerprint{
		Dimensions:   map[string]float64{analysis.DimAvgLength: v},
		Confidence:   0.8,
		MessageCount: 10,
	}
}

var _ = Describe("Coordinator", func() {
	var (
		gw      *inmemory.Gateway
		backups *persona.BackupManager
		monitor *verdictMonitor
		coord   *persona.Coordinator
		ctx     context.Context
	)

	newCoordinator := func(states persona.StateStore, bm *persona.BackupManager) *persona.Coordinator {
		c, err := persona.NewCoordinator(&persona.CoordinatorConfig{
			States:  states,
			Backups: bm,
			Monitor: monitor,
		})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		gw = inmemory.NewGateway()
		backups = persona.NewBackupManager(gw, gw, nil)
		monitor = &verdictMonitor{pass: true}
		coord = newCoordinator(gw, backups)
		ctx = context.Background()
	})

	Describe("UpdatePersona", func() {
		It("creates a retrievable backup before the persona can change", func() {
			result, err := coord.UpdatePersona(ctx, "agent-1", styleFingerprint(0.4), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())

			backupID, ok := result.Data["backup_id"].(int64)
			Expect(ok).To(BeTrue())

			snap, err := backups.GetBackup(ctx, "agent-1", backupID)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).NotTo(BeNil())
			// The snapshot holds the pre-update (empty) state.
			Expect(snap.State.Style).To(BeEmpty())

			state, err := coord.CurrentState(ctx, "agent-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Style).To(HaveKey(analysis.DimAvgLength))
		})

		It("takes a backup even for updates later rejected by quality", func() {
			monitor.pass = false

			result, err := coord.UpdatePersona(ctx, "agent-1", styleFingerprint(0.4), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeFalse())

			backupID, ok := result.Data["backup_id"].(int64)
			Expect(ok).To(BeTrue())

			snap, err := backups.GetBackup(ctx, "agent-1", backupID)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).NotTo(BeNil())
		})

		It("rolls the persona back on a quality regression", func() {
			result, err := coord.UpdatePersona(ctx, "agent-1", styleFingerprint(0.4), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())

			before, err := coord.CurrentState(ctx, "agent-1")
			Expect(err).NotTo(HaveOccurred())

			monitor.pass = false
			result, err = coord.UpdatePersona(ctx, "agent-1", styleFingerprint(0.9), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeFalse())
			Expect(result.Data["phase"]).To(Equal("rolled_back"))

			after, err := coord.CurrentState(ctx, "agent-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(after.Prompt).To(Equal(before.Prompt))
			Expect(after.Style).To(Equal(before.Style))
		})

		It("aborts fail-closed when the backup cannot be taken", func() {
			flaky := &failingBackups{Gateway: gw, failSave: true}
			bm := persona.NewBackupManager(gw, flaky, nil)
			c := newCoordinator(gw, bm)

			result, err := c.UpdatePersona(ctx, "agent-1", styleFingerprint(0.4), nil)
			Expect(err).To(HaveOccurred())
			Expect(result.Success).To(BeFalse())

			var uerr persona.UpdateError
			Expect(errors.As(err, &uerr)).To(BeTrue())

			state, err := c.CurrentState(ctx, "agent-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("halts the persona when rollback itself fails", func() {
			flaky := &failingBackups{Gateway: gw}
			bm := persona.NewBackupManager(gw, flaky, nil)
			c := newCoordinator(gw, bm)

			monitor.pass = false
			flaky.failRestore = true

			_, err := c.UpdatePersona(ctx, "agent-1", styleFingerprint(0.4), nil)
			Expect(err).To(HaveOccurred())

			var rerr persona.RestoreError
			Expect(errors.As(err, &rerr)).To(BeTrue())
			Expect(c.Halted("agent-1")).To(BeTrue())

			// Further updates are refused until the halt is cleared.
			_, err = c.UpdatePersona(ctx, "agent-1", styleFingerprint(0.4), nil)
			Expect(errors.Is(err, persona.ErrHalted)).To(BeTrue())

			c.ClearHalt("agent-1")
			flaky.failRestore = false

			result, err := c.UpdatePersona(ctx, "agent-1", styleFingerprint(0.4), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeFalse()) // monitor still scripted to fail, but rollback works now
		})

		It("refuses an update queued behind a concurrent attempt that halts the persona", func() {
			flaky := &failingBackups{Gateway: gw, failRestore: true}
			bm := persona.NewBackupManager(gw, flaky, nil)
			blocker := &blockingMonitor{
				entered: make(chan struct{}),
				release: make(chan struct{}),
			}

			c, err := persona.NewCoordinator(&persona.CoordinatorConfig{
				States:  gw,
				Backups: bm,
				Monitor: blocker,
			})
			Expect(err).NotTo(HaveOccurred())

			first := make(chan error, 1)
			go func() {
				_, err := c.UpdatePersona(ctx, "agent-1", styleFingerprint(0.4), nil)
				first <- err
			}()
			Eventually(blocker.entered).Should(BeClosed())

			// Queued while the first attempt holds the persona lock.
			second := make(chan error, 1)
			go func() {
				_, err := c.UpdatePersona(ctx, "agent-1", styleFingerprint(0.5), nil)
				second <- err
			}()

			close(blocker.release)

			var rerr persona.RestoreError
			Expect(errors.As(<-first, &rerr)).To(BeTrue())
			Expect(errors.Is(<-second, persona.ErrHalted)).To(BeTrue())
		})

		It("rolls back when the context is cancelled after backup", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			result, err := coord.UpdatePersona(cancelled, "agent-1", styleFingerprint(0.4), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeFalse())
			Expect(result.Data["phase"]).To(Equal("rolled_back"))
		})
	})

	Describe("RestorePersona", func() {
		It("round-trips the pre-mutate state exactly and is idempotent", func() {
			result, err := coord.UpdatePersona(ctx, "agent-1", styleFingerprint(0.4), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())

			want, err := coord.CurrentState(ctx, "agent-1")
			Expect(err).NotTo(HaveOccurred())

			backupID, err := coord.BackupPersona(ctx, "agent-1", "manual checkpoint")
			Expect(err).NotTo(HaveOccurred())

			result, err = coord.UpdatePersona(ctx, "agent-1", styleFingerprint(0.45), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())

			for n := 0; n < 2; n++ {
				ok, err := coord.RestorePersona(ctx, "agent-1", backupID)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())

				got, err := coord.CurrentState(ctx, "agent-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Prompt).To(Equal(want.Prompt))
				Expect(got.Style).To(Equal(want.Style))
			}

			// Restoring never deletes the backup.
			snap, err := backups.GetBackup(ctx, "agent-1", backupID)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).NotTo(BeNil())
		})

		It("returns false for an unknown backup id", func() {
			ok, err := coord.RestorePersona(ctx, "agent-1", 999)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("BackupManager", func() {
	var (
		gw  *inmemory.Gateway
		bm  *persona.BackupManager
		ctx context.Context
	)

	BeforeEach(func() {
		gw = inmemory.NewGateway()
		bm = persona.NewBackupManager(gw, gw, nil)
		ctx = context.Background()
	})

	It("assigns strictly increasing ids per persona", func() {
		var last int64
		for n := 0; n < 5; n++ {
			id, err := bm.CreateBackup(ctx, "agent-1", "test")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(BeNumerically(">", last))
			last = id
		}

		// An independent persona starts its own sequence.
		id, err := bm.CreateBackup(ctx, "agent-2", "test")
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(1)))
	})

	It("lists backups newest first", func() {
		for n := 0; n < 3; n++ {
			_, err := bm.CreateBackup(ctx, "agent-1", "test")
			Expect(err).NotTo(HaveOccurred())
		}

		snaps, err := bm.ListBackups(ctx, "agent-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(snaps).To(HaveLen(3))
		Expect(snaps[0].BackupID).To(Equal(int64(3)))
		Expect(snaps[2].BackupID).To(Equal(int64(1)))
	})

	It("deletes a backup without touching the rest", func() {
		for n := 0; n < 3; n++ {
			_, err := bm.CreateBackup(ctx, "agent-1", "test")
			Expect(err).NotTo(HaveOccurred())
		}

		deleted, err := bm.DeleteBackup(ctx, "agent-1", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeTrue())

		deleted, err = bm.DeleteBackup(ctx, "agent-1", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeFalse())

		snaps, err := bm.ListBackups(ctx, "agent-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(snaps).To(HaveLen(2))
	})
})
