package analysis

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/parrotlabsco/parrot/pkg/message"
)

// Default quality thresholds.
const (
	DefaultMinSimilarity = 0.5
	DefaultMinConfidence = 0.3
)

// ThresholdMonitor implements QualityMonitor by comparing the before/after
// fingerprints of a persona update against configured thresholds. A large
// style jump in one update is treated as a regression: learning should
// drift, not lurch.
type ThresholdMonitor struct {
	analyzer StyleAnalyzer

	// MinSimilarity is the lowest acceptable before/after similarity.
	MinSimilarity float64

	// MinConfidence is the lowest acceptable fingerprint confidence for
	// fingerprints that declare one.
	MinConfidence float64
}

// NewThresholdMonitor creates a monitor using the analyzer's style
// comparison. Zero thresholds fall back to the defaults.
func NewThresholdMonitor(analyzer StyleAnalyzer, minSimilarity, minConfidence float64) *ThresholdMonitor {
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}

	return &ThresholdMonitor{
		analyzer:      analyzer,
		MinSimilarity: minSimilarity,
		MinConfidence: minConfidence,
	}
}

// EvaluateLearningQuality judges an update delta. A persona with no prior
// style has nothing to regress from, so its first update always passes the
// similarity check.
func (m *ThresholdMonitor) EvaluateLearningQuality(_ context.Context, before, after *message.StyleFingerprint) (message.AnalysisResult, error) {
	if issues := m.DetectQualityIssues(after); len(issues) > 0 {
		return message.AnalysisResult{
			Success:   false,
			Error:     fmt.Sprintf("quality issues: %v", issues),
			Data:      map[string]any{"issues": issues},
			Timestamp: time.Now(),
		}, nil
	}

	similarity := 1.0
	if before != nil && len(before.Dimensions) > 0 {
		similarity = m.analyzer.CompareStyles(before, after)
	}

	if similarity < m.MinSimilarity {
		return message.AnalysisResult{
			Success:    false,
			Confidence: similarity,
			Error:      fmt.Sprintf("style drifted too far in one update: similarity %.2f < %.2f", similarity, m.MinSimilarity),
			Data:       map[string]any{"similarity": similarity},
			Timestamp:  time.Now(),
		}, nil
	}

	return message.AnalysisResult{
		Success:    true,
		Confidence: similarity,
		Data:       map[string]any{"similarity": similarity},
		Timestamp:  time.Now(),
	}, nil
}

// DetectQualityIssues lists problems with a fingerprint. Empty means
// healthy.
func (m *ThresholdMonitor) DetectQualityIssues(fp *message.StyleFingerprint) []string {
	if fp == nil {
		return []string{"missing style fingerprint"}
	}

	var issues []string

	if len(fp.Dimensions) == 0 {
		issues = append(issues, "fingerprint has no style dimensions")
	}

	for dim, v := range fp.Dimensions {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			issues = append(issues, fmt.Sprintf("dimension %q is not finite", dim))
			continue
		}
		if v < 0 || v > 1 {
			issues = append(issues, fmt.Sprintf("dimension %q out of range: %.3f", dim, v))
		}
	}

	if fp.Confidence != 0 && fp.Confidence < m.MinConfidence {
		issues = append(issues, fmt.Sprintf("fingerprint confidence %.2f below %.2f", fp.Confidence, m.MinConfidence))
	}

	return issues
}

// Ensure ThresholdMonitor implements QualityMonitor
var _ QualityMonitor = (*ThresholdMonitor)(nil)
