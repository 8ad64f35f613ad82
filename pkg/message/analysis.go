package message

import "time"

// AnalysisResult is the structured outcome of a filter, style-analysis,
// quality-evaluation, or learning-cycle stage. Expected negative outcomes
// ("nothing to learn", "insufficient data") are unsuccessful results with an
// Error string, not Go errors; hard faults travel the error channel of the
// operation that produced them.
type AnalysisResult struct {
	Success    bool           `json:"success"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Failure builds an unsuccessful result with the given reason.
func Failure(reason string) AnalysisResult {
	return AnalysisResult{
		Success:   false,
		Error:     reason,
		Timestamp: time.Now(),
	}
}

// StyleFingerprint is a reduction of a set of messages into named style
// dimensions. Produced by the style analyzer, consumed by the persona
// coordinator. Fingerprints are compared pairwise via the analyzer's
// CompareStyles, which returns a similarity in [0,1].
type StyleFingerprint struct {
	Dimensions   map[string]float64 `json:"dimensions"`
	Confidence   float64            `json:"confidence"`
	MessageCount int                `json:"message_count"`
}
