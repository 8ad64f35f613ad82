// Package analysis defines the filter/scorer and style-analyzer contracts
// consumed by the pipeline, plus a local heuristic implementation.
//
// Filtering and style analysis are external capabilities: production
// deployments may back them with model inference. The pipeline only depends
// on the interfaces here.
package analysis

import (
	"context"

	"github.com/parrotlabsco/parrot/pkg/message"
)

// Filter classifies a raw message as learning-suitable and assigns
// per-dimension quality scores.
type Filter interface {
	// FilterMessage scores one message text. The result's Data carries a
	// "scores" map[string]float64 with values in [0,1] and a "suitable"
	// bool.
	FilterMessage(ctx context.Context, text string) (message.AnalysisResult, error)

	// IsSuitableForLearning is the cheap boolean form of FilterMessage.
	IsSuitableForLearning(ctx context.Context, text string) (bool, error)
}

// StyleAnalyzer reduces a set of messages into a style fingerprint and
// compares fingerprints for similarity.
type StyleAnalyzer interface {
	// AnalyzeConversationStyle produces a fingerprint over the given
	// messages. The result's Data carries the fingerprint under "style".
	AnalyzeConversationStyle(ctx context.Context, msgs []*message.FilteredMessage) (message.AnalysisResult, error)

	// CompareStyles returns a similarity in [0,1]; 1 means identical.
	CompareStyles(a, b *message.StyleFingerprint) float64
}

// QualityMonitor evaluates a persona update delta and flags regressions.
type QualityMonitor interface {
	// EvaluateLearningQuality judges the before/after fingerprints of a
	// persona update. An unsuccessful result triggers rollback.
	EvaluateLearningQuality(ctx context.Context, before, after *message.StyleFingerprint) (message.AnalysisResult, error)

	// DetectQualityIssues lists human-readable problems with a
	// fingerprint. Empty means no issues.
	DetectQualityIssues(fp *message.StyleFingerprint) []string
}
