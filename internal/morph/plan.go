package morph

import (
	"fmt"

	"prompt-morph/internal/keyframe"
	"prompt-morph/internal/prompt"
)

// Planner derives the parameters of every step of a morph
type Planner struct {
	Resolver prompt.Resolver
	Mode     Mode
	Steps    int
	Settings Settings
}

// Plan schedules all segments of seq. seeds holds one resolved seed per
// keyframe.
func (p *Planner) Plan(seq *keyframe.Sequence, seeds []int64) ([]Segment, error) {
	if seq.Len() < keyframe.MinKeyframes {
		return nil, fmt.Errorf("plan: %d keyframes", seq.Len())
	}
	if len(seeds) != seq.Len() || len(seq.Negatives) < seq.Len() {
		return nil, fmt.Errorf("plan: %d keyframes, %d seeds, %d negatives", seq.Len(), len(seeds), len(seq.Negatives))
	}
	if p.Steps < MinSteps {
		return nil, fmt.Errorf("plan: %d steps per segment", p.Steps)
	}

	segments := make([]Segment, 0, seq.Segments())
	for k := 1; k < seq.Len(); k++ {
		seg, err := p.planSegment(seq, seeds, k)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", k, err)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func (p *Planner) planSegment(seq *keyframe.Sequence, seeds []int64, k int) (Segment, error) {
	start, end := seq.Keyframes[k-1], seq.Keyframes[k]

	flat, startWeights, endWeights, err := p.Resolver.Resolve(start.Prompt, end.Prompt)
	if err != nil {
		return Segment{}, fmt.Errorf("resolve prompts: %w", err)
	}
	negFlat, negStartWeights, negEndWeights, err := p.Resolver.Resolve(seq.Negatives[k-1], seq.Negatives[k])
	if err != nil {
		return Segment{}, fmt.Errorf("resolve negative prompts: %w", err)
	}

	seed, subseed := seeds[k-1], seeds[k]
	seg := Segment{Index: k, Start: k - 1, Steps: make([]Step, p.Steps)}

	for i := 0; i < p.Steps; i++ {
		t := float64(i) / float64(p.Steps-1)

		params := StepParameters{
			Settings:       p.Settings,
			Segment:        k,
			Step:           i,
			T:              t,
			Pass:           PassFull,
			Prompt:         prompt.Blend(flat, startWeights, endWeights, t),
			NegativePrompt: prompt.Blend(negFlat, negStartWeights, negEndWeights, t),
			Seed:           seed,
			Subseed:        subseed,
		}

		switch mode := p.Mode.(type) {
		case Direct:
			if seed != subseed {
				params.SubseedStrength = t
			}
		case Derived:
			if i > 0 {
				if err := applyDerived(&params, mode, i, p.Steps); err != nil {
					return Segment{}, err
				}
			}
		default:
			return Segment{}, fmt.Errorf("unknown mode %T", p.Mode)
		}

		seg.Steps[i] = Step{Params: params, Reuse: i == 0 && k > 1}
	}
	return seg, nil
}

// applyDerived turns a full step into a derived one. Derived steps render
// with the segment's end seed and no subseed blend.
func applyDerived(params *StepParameters, mode Derived, i, steps int) error {
	t2 := 1.0
	if steps > 2 {
		t2 = float64(i-1) / float64(steps-2)
	}
	c, err := mode.Curve.At(t2)
	if err != nil {
		return err
	}

	params.Pass = PassDerived
	params.Seed = params.Subseed
	params.SubseedStrength = 0
	params.DenoisingStrength = Lerp(mode.MinDenoise, mode.MaxDenoise, c)
	params.CFGScale = mode.MaxCFG
	if mode.GradualCFG {
		params.CFGScale = Lerp(mode.MinCFG, mode.MaxCFG, c)
	}
	return nil
}
