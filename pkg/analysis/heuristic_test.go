package analysis

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parrotlabsco/parrot/pkg/message"
)

func filtered(texts ...string) []*message.FilteredMessage {
	msgs := make([]*message.FilteredMessage, 0, len(texts))
	for i, text := range texts {
		msgs = append(msgs, &message.FilteredMessage{
			ID:       int64(i + 1),
			Message:  text,
			Suitable: true,
		})
	}

	return msgs
}

var _ = Describe("Heuristic", func() {
	var (
		h   *Heuristic
		ctx context.Context
	)

	BeforeEach(func() {
		h = NewHeuristic()
		ctx = context.Background()
	})

	Describe("IsSuitableForLearning", func() {
		It("accepts ordinary conversational text", func() {
			ok, err := h.IsSuitableForLearning(ctx, "that sounds like a great plan, count me in")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("rejects very short messages", func() {
			ok, err := h.IsSuitableForLearning(ctx, "ok")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("rejects messages containing links", func() {
			ok, err := h.IsSuitableForLearning(ctx, "check this out https://example.com/thing")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("rejects bot commands", func() {
			ok, err := h.IsSuitableForLearning(ctx, "/help me please")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("FilterMessage", func() {
		It("returns bounded scores and a suitability verdict", func() {
			result, err := h.FilterMessage(ctx, "honestly I think we should just try it and see")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())

			scores, ok := result.Data["scores"].(map[string]float64)
			Expect(ok).To(BeTrue())
			for dim, v := range scores {
				Expect(v).To(BeNumerically(">=", 0), dim)
				Expect(v).To(BeNumerically("<=", 1), dim)
			}

			Expect(result.Data["suitable"]).To(Equal(true))
		})
	})

	Describe("AnalyzeConversationStyle", func() {
		It("reports failure with no messages", func() {
			result, err := h.AnalyzeConversationStyle(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeFalse())
			Expect(result.Error).NotTo(BeEmpty())
		})

		It("produces a fingerprint with all dimensions in range", func() {
			result, err := h.AnalyzeConversationStyle(ctx, filtered(
				"do you think this will work?",
				"absolutely, let's ship it!",
				"I ran the numbers twice and they hold up",
			))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())

			fp, ok := result.Data["style"].(*message.StyleFingerprint)
			Expect(ok).To(BeTrue())
			Expect(fp.MessageCount).To(Equal(3))
			for dim, v := range fp.Dimensions {
				Expect(v).To(BeNumerically(">=", 0), dim)
				Expect(v).To(BeNumerically("<=", 1), dim)
			}

			// One of three messages is a question.
			Expect(fp.Dimensions[DimQuestionRate]).To(BeNumerically("~", 1.0/3, 0.001))
		})

		It("grows confidence with sample size", func() {
			small, err := h.AnalyzeConversationStyle(ctx, filtered("first message here"))
			Expect(err).NotTo(HaveOccurred())

			texts := make([]string, 20)
			for i := range texts {
				texts[i] = "another perfectly ordinary message"
			}
			large, err := h.AnalyzeConversationStyle(ctx, filtered(texts...))
			Expect(err).NotTo(HaveOccurred())

			Expect(large.Confidence).To(BeNumerically(">", small.Confidence))
		})
	})

	Describe("CompareStyles", func() {
		It("returns 1 for identical fingerprints", func() {
			fp := &message.StyleFingerprint{
				Dimensions: map[string]float64{DimAvgLength: 0.5, DimQuestionRate: 0.2},
			}
			Expect(h.CompareStyles(fp, fp)).To(BeNumerically("~", 1, 0.001))
		})

		It("returns a lower value for diverging fingerprints", func() {
			a := &message.StyleFingerprint{Dimensions: map[string]float64{DimQuestionRate: 0.0}}
			b := &message.StyleFingerprint{Dimensions: map[string]float64{DimQuestionRate: 1.0}}
			Expect(h.CompareStyles(a, b)).To(BeNumerically("<", 0.5))
		})

		It("returns 0 for a nil fingerprint", func() {
			Expect(h.CompareStyles(nil, &message.StyleFingerprint{})).To(BeZero())
		})
	})
})

var _ = Describe("ThresholdMonitor", func() {
	var (
		m   *ThresholdMonitor
		ctx context.Context
	)

	BeforeEach(func() {
		m = NewThresholdMonitor(NewHeuristic(), 0.5, 0.3)
		ctx = context.Background()
	})

	Describe("EvaluateLearningQuality", func() {
		It("passes a first update with no prior style", func() {
			after := &message.StyleFingerprint{
				Dimensions: map[string]float64{DimAvgLength: 0.4},
			}

			result, err := m.EvaluateLearningQuality(ctx, &message.StyleFingerprint{Dimensions: map[string]float64{}}, after)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())
		})

		It("passes a small drift", func() {
			before := &message.StyleFingerprint{Dimensions: map[string]float64{DimAvgLength: 0.40}}
			after := &message.StyleFingerprint{Dimensions: map[string]float64{DimAvgLength: 0.45}}

			result, err := m.EvaluateLearningQuality(ctx, before, after)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())
		})

		It("flags a lurch as a regression", func() {
			before := &message.StyleFingerprint{Dimensions: map[string]float64{DimAvgLength: 0.0}}
			after := &message.StyleFingerprint{Dimensions: map[string]float64{DimAvgLength: 1.0}}

			result, err := m.EvaluateLearningQuality(ctx, before, after)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeFalse())
			Expect(result.Error).To(ContainSubstring("drifted"))
		})

		It("flags out-of-range dimensions", func() {
			after := &message.StyleFingerprint{Dimensions: map[string]float64{DimAvgLength: 1.7}}

			result, err := m.EvaluateLearningQuality(ctx, nil, after)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeFalse())
		})
	})

	Describe("DetectQualityIssues", func() {
		It("returns nothing for a healthy fingerprint", func() {
			fp := &message.StyleFingerprint{
				Dimensions: map[string]float64{DimAvgLength: 0.4},
				Confidence: 0.8,
			}
			Expect(m.DetectQualityIssues(fp)).To(BeEmpty())
		})

		It("reports a nil fingerprint", func() {
			Expect(m.DetectQualityIssues(nil)).To(ContainElement(ContainSubstring("missing")))
		})

		It("reports low confidence", func() {
			fp := &message.StyleFingerprint{
				Dimensions: map[string]float64{DimAvgLength: 0.4},
				Confidence: 0.1,
			}
			Expect(m.DetectQualityIssues(fp)).To(ContainElement(ContainSubstring("confidence")))
		})
	})
})
