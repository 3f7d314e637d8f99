package keyframe

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	apperrors "prompt-morph/internal/errors"
)

// RandomSeed is the seed value that asks for a freshly drawn seed
const RandomSeed = "-1"

// MinKeyframes is the smallest sequence a morph can interpolate
const MinKeyframes = 2

// Keyframe is one anchor of the morph. An empty Seed reuses the previous
// keyframe's resolved seed.
type Keyframe struct {
	Seed   string
	Prompt string
}

// Sequence is a validated keyframe list with one negative prompt per keyframe
type Sequence struct {
	Keyframes []Keyframe
	Negatives []string
}

// Len returns the number of keyframes
func (s *Sequence) Len() int {
	return len(s.Keyframes)
}

// Segments returns the number of adjacent keyframe pairs
func (s *Sequence) Segments() int {
	return len(s.Keyframes) - 1
}

// Summary renders the keyframes back into "seed | prompt" lines
func (s *Sequence) Summary() string {
	lines := make([]string, len(s.Keyframes))
	for i, kf := range s.Keyframes {
		lines[i] = fmt.Sprintf("%s | %s", kf.Seed, kf.Prompt)
	}
	return strings.Join(lines, "\n")
}

// ParseKeyframes reads one keyframe per non-blank line in "seed | prompt" or
// "prompt" form.
func ParseKeyframes(text string) []Keyframe {
	var keyframes []Keyframe
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		seed, prompt, found := strings.Cut(line, "|")
		if !found {
			seed, prompt = "", line
		}
		keyframes = append(keyframes, Keyframe{
			Seed:   strings.TrimSpace(seed),
			Prompt: strings.TrimSpace(prompt),
		})
	}
	return keyframes
}

// ParseNegatives reads one negative prompt per non-blank line and pads the
// result to n entries by repeating the last one. No lines at all means the
// fallback applies to every keyframe.
func ParseNegatives(text, fallback string, n int) []string {
	var negatives []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		negatives = append(negatives, line)
	}

	if len(negatives) == 0 {
		negatives = append(negatives, fallback)
	}
	for len(negatives) < n {
		negatives = append(negatives, negatives[len(negatives)-1])
	}
	return negatives
}

// Parse builds a Sequence from raw prompt and negative prompt text
func Parse(prompts, negatives, fallbackNegative string) (*Sequence, error) {
	keyframes := ParseKeyframes(prompts)
	if len(keyframes) < MinKeyframes {
		return nil, apperrors.ErrTooFewKeyframes
	}

	return &Sequence{
		Keyframes: keyframes,
		Negatives: ParseNegatives(negatives, fallbackNegative, len(keyframes)),
	}, nil
}

// Rand draws seeds for keyframes that ask for a random one
type Rand interface {
	Uint32() uint32
}

// ResolveSeeds turns every keyframe seed into a concrete value. The first
// keyframe falls back to defaultSeed, later empty seeds carry the previous
// resolved value forward, and RandomSeed is replaced by a draw from rng.
func ResolveSeeds(keyframes []Keyframe, defaultSeed int64, rng Rand) ([]int64, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	draw := func(v int64) int64 {
		if v == -1 {
			return int64(rng.Uint32())
		}
		return v
	}

	seeds := make([]int64, len(keyframes))
	current := draw(defaultSeed)
	for i, kf := range keyframes {
		if kf.Seed != "" {
			v, err := strconv.ParseInt(kf.Seed, 10, 64)
			if err != nil {
				return nil, apperrors.Validation(fmt.Errorf("keyframe %d: invalid seed %q", i+1, kf.Seed))
			}
			current = draw(v)
		}
		seeds[i] = current
	}
	return seeds, nil
}
