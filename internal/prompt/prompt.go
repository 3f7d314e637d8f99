package prompt

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Combinator joins weighted sub-prompts into one multi-condition prompt
const Combinator = " AND "

// WeightedSubPrompt references a text in a flat sub-prompt list
type WeightedSubPrompt struct {
	Index  int
	Weight float64
}

// Resolver decomposes a pair of prompts into a shared flat sub-prompt list
// and one weight list per prompt.
type Resolver interface {
	Resolve(a, b string) (flat []string, wa, wb []WeightedSubPrompt, err error)
}

var (
	reAnd    = regexp.MustCompile(`\bAND\b`)
	reWeight = regexp.MustCompile(`(?s)^(.*?)(?::\s*([-+]?(?:\d+\.?|\d*\.\d+)))?\s*$`)
)

// AndResolver splits prompts on the AND keyword and reads an optional
// trailing ":weight" from each part.
type AndResolver struct{}

// Resolve implements Resolver
func (AndResolver) Resolve(a, b string) ([]string, []WeightedSubPrompt, []WeightedSubPrompt, error) {
	var flat []string
	index := make(map[string]int)

	parse := func(p string) ([]WeightedSubPrompt, error) {
		var weights []WeightedSubPrompt
		for _, part := range reAnd.Split(p, -1) {
			m := reWeight.FindStringSubmatch(part)
			text := strings.TrimSpace(m[1])
			weight := 1.0
			if m[2] != "" {
				w, err := strconv.ParseFloat(m[2], 64)
				if err != nil {
					return nil, fmt.Errorf("parse weight %q: %w", m[2], err)
				}
				weight = w
			}

			idx, ok := index[text]
			if !ok {
				idx = len(flat)
				index[text] = idx
				flat = append(flat, text)
			}
			weights = append(weights, WeightedSubPrompt{Index: idx, Weight: weight})
		}
		return weights, nil
	}

	wa, err := parse(a)
	if err != nil {
		return nil, nil, nil, err
	}
	wb, err := parse(b)
	if err != nil {
		return nil, nil, nil, err
	}
	return flat, wa, wb, nil
}

// AtT renders weights scaled by t. Clauses whose scaled weight is zero are
// still emitted.
func AtT(weights []WeightedSubPrompt, flat []string, t float64) string {
	parts := make([]string, len(weights))
	for i, w := range weights {
		parts[i] = flat[w.Index] + ":" + FormatWeight(w.Weight*t)
	}
	return strings.Join(parts, Combinator)
}

// Blend renders the start prompt at 1-t followed by the end prompt at t
func Blend(flat []string, start, end []WeightedSubPrompt, t float64) string {
	return AtT(start, flat, 1.0-t) + Combinator + AtT(end, flat, t)
}

// FormatWeight prints the shortest decimal that round-trips, keeping a ".0"
// on integral values so 1 reads as 1.0.
func FormatWeight(w float64) string {
	var s string
	abs := math.Abs(w)
	if abs == 0 || (abs >= 1e-4 && abs < 1e16) {
		s = strconv.FormatFloat(w, 'f', -1, 64)
	} else {
		s = strconv.FormatFloat(w, 'g', -1, 64)
	}
	if !strings.ContainsAny(s, ".eIN") {
		s += ".0"
	}
	return s
}
