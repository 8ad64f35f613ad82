package persona

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/parrotlabsco/parrot/pkg/message"
)

// Updater computes the candidate next state for a persona from a style
// fingerprint and the messages that produced it. Implementations must not
// mutate the before state.
type Updater interface {
	Apply(before *State, style *message.StyleFingerprint, msgs []*message.FilteredMessage) (*State, error)
}

// DefaultBlendRate is how far one update moves each style dimension toward
// the newly observed value.
const DefaultBlendRate = 0.3

// styleSection marks the generated style block inside the persona prompt.
// Everything before the marker is operator-authored and preserved verbatim.
const styleSection = "\n\n# Communication style\n"

// StyleUpdater blends observed style dimensions into the persona with a
// fixed rate and regenerates the style section of the prompt.
type StyleUpdater struct {
	// Rate in (0,1]; zero means DefaultBlendRate.
	Rate float64
}

// Apply returns the candidate next state.
func (u *StyleUpdater) Apply(before *State, style *message.StyleFingerprint, msgs []*message.FilteredMessage) (*State, error) {
	if style == nil {
		return nil, fmt.Errorf("nil style fingerprint")
	}

	rate := u.Rate
	if rate <= 0 || rate > 1 {
		rate = DefaultBlendRate
	}

	next := before.Clone()
	if next.Style == nil {
		next.Style = make(map[string]float64, len(style.Dimensions))
	}

	for dim, observed := range style.Dimensions {
		current, ok := next.Style[dim]
		if !ok {
			next.Style[dim] = observed
			continue
		}
		next.Style[dim] = current*(1-rate) + observed*rate
	}

	next.Prompt = renderPrompt(basePrompt(next.Prompt), next.Style, len(msgs))
	next.UpdatedAt = time.Now()

	return next, nil
}

// basePrompt strips a previously generated style section.
func basePrompt(prompt string) string {
	if i := strings.Index(prompt, styleSection); i >= 0 {
		return prompt[:i]
	}

	return prompt
}

// renderPrompt appends the generated style section to the base prompt.
func renderPrompt(base string, style map[string]float64, sampleCount int) string {
	if len(style) == 0 {
		return base
	}

	dims := make([]string, 0, len(style))
	for dim := range style {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	var b strings.Builder
	b.WriteString(base)
	b.WriteString(styleSection)
	for _, dim := range dims {
		fmt.Fprintf(&b, "- %s: %.2f\n", dim, style[dim])
	}
	fmt.Fprintf(&b, "(learned from %d messages)\n", sampleCount)

	return b.String()
}

// Ensure StyleUpdater implements Updater
var _ Updater = (*StyleUpdater)(nil)
