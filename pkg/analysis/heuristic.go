package analysis

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/parrotlabsco/parrot/pkg/message"
)

// Style dimension names produced by the heuristic analyzer.
const (
	DimAvgLength       = "avg_length"
	DimQuestionRate    = "question_rate"
	DimExclamationRate = "exclamation_rate"
	DimEmojiRate       = "emoji_rate"
	DimVocabRichness   = "vocab_richness"
)

// Score dimension names produced by the heuristic filter.
const (
	ScoreLength   = "length"
	ScoreReadable = "readable"
	ScoreOriginal = "original"
)

const (
	minSuitableRunes = 4
	maxSuitableRunes = 500

	// lengthSweetSpot is the message length (in runes) that scores 1.0 on
	// the length dimension.
	lengthSweetSpot = 60
)

// Heuristic is a dependency-free Filter and StyleAnalyzer over surface
// features of the message text. It stands in for model-backed analysis and
// doubles as the reference implementation in tests.
type Heuristic struct{}

// NewHeuristic creates a heuristic analyzer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// FilterMessage scores one message text on length, readability, and
// originality, and derives the suitability verdict.
func (h *Heuristic) FilterMessage(_ context.Context, text string) (message.AnalysisResult, error) {
	scores := map[string]float64{
		ScoreLength:   lengthScore(text),
		ScoreReadable: readableScore(text),
		ScoreOriginal: originalityScore(text),
	}

	suitable := suitable(text)

	confidence := 0.0
	for _, s := range scores {
		confidence += s
	}
	confidence /= float64(len(scores))

	return message.AnalysisResult{
		Success:    true,
		Confidence: confidence,
		Data: map[string]any{
			"scores":   scores,
			"suitable": suitable,
		},
		Timestamp: time.Now(),
	}, nil
}

// IsSuitableForLearning reports whether the text is worth learning from.
func (h *Heuristic) IsSuitableForLearning(_ context.Context, text string) (bool, error) {
	return suitable(text), nil
}

// AnalyzeConversationStyle reduces the messages into frequency-based style
// dimensions. Returns an unsuccessful result when there is nothing to
// analyze.
func (h *Heuristic) AnalyzeConversationStyle(_ context.Context, msgs []*message.FilteredMessage) (message.AnalysisResult, error) {
	if len(msgs) == 0 {
		return message.Failure("no messages to analyze"), nil
	}

	var totalRunes, questions, exclamations, emojis int
	vocab := make(map[string]struct{})
	var words int

	for _, msg := range msgs {
		totalRunes += utf8.RuneCountInString(msg.Message)
		if strings.ContainsAny(msg.Message, "?？") {
			questions++
		}
		if strings.ContainsAny(msg.Message, "!！") {
			exclamations++
		}
		for _, r := range msg.Message {
			if unicode.In(r, unicode.So) {
				emojis++
			}
		}
		for _, w := range strings.Fields(strings.ToLower(msg.Message)) {
			words++
			vocab[w] = struct{}{}
		}
	}

	n := float64(len(msgs))
	richness := 0.0
	if words > 0 {
		richness = float64(len(vocab)) / float64(words)
	}

	fp := &message.StyleFingerprint{
		Dimensions: map[string]float64{
			// Average length normalized against the sweet spot, capped at 1.
			DimAvgLength:       math.Min(float64(totalRunes)/n/float64(2*lengthSweetSpot), 1),
			DimQuestionRate:    float64(questions) / n,
			DimExclamationRate: float64(exclamations) / n,
			DimEmojiRate:       math.Min(float64(emojis)/n, 1),
			DimVocabRichness:   richness,
		},
		Confidence:   confidenceFor(len(msgs)),
		MessageCount: len(msgs),
	}

	return message.AnalysisResult{
		Success:    true,
		Confidence: fp.Confidence,
		Data:       map[string]any{"style": fp},
		Timestamp:  time.Now(),
	}, nil
}

// CompareStyles returns the similarity of two fingerprints in [0,1] via
// normalized euclidean distance over the union of dimensions.
func (h *Heuristic) CompareStyles(a, b *message.StyleFingerprint) float64 {
	if a == nil || b == nil {
		return 0
	}

	dims := make(map[string]struct{}, len(a.Dimensions)+len(b.Dimensions))
	for k := range a.Dimensions {
		dims[k] = struct{}{}
	}
	for k := range b.Dimensions {
		dims[k] = struct{}{}
	}

	if len(dims) == 0 {
		return 1
	}

	var sum float64
	for k := range dims {
		d := a.Dimensions[k] - b.Dimensions[k]
		sum += d * d
	}

	dist := math.Sqrt(sum / float64(len(dims)))

	return math.Max(0, 1-dist)
}

// confidenceFor grows with sample size and saturates at 0.95.
func confidenceFor(n int) float64 {
	return math.Min(0.95, 0.3+0.05*float64(n))
}

func suitable(text string) bool {
	trimmed := strings.TrimSpace(text)
	runes := utf8.RuneCountInString(trimmed)
	if runes < minSuitableRunes || runes > maxSuitableRunes {
		return false
	}

	// Links and commands are platform noise, not conversational style.
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "http://") || strings.Contains(lower, "https://") {
		return false
	}
	if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "!") {
		return false
	}

	return true
}

func lengthScore(text string) float64 {
	runes := utf8.RuneCountInString(strings.TrimSpace(text))
	if runes == 0 {
		return 0
	}

	// 1.0 at the sweet spot, linear falloff on both sides.
	d := math.Abs(float64(runes) - lengthSweetSpot)
	return math.Max(0, 1-d/float64(maxSuitableRunes))
}

func readableScore(text string) float64 {
	total := 0
	letters := 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}

	return float64(letters) / float64(total)
}

func originalityScore(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}

	return float64(len(unique)) / float64(len(words))
}

// Ensure Heuristic implements both capabilities
var (
	_ Filter        = (*Heuristic)(nil)
	_ StyleAnalyzer = (*Heuristic)(nil)
)
