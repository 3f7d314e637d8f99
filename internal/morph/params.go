package morph

import (
	"fmt"
	"image"
)

// Settings are the generation parameters shared by every step of a run
type Settings struct {
	Model    string
	Sampler  string
	Steps    int
	Width    int
	Height   int
	CFGScale float64
}

// Pass says how the backend renders one step
type Pass int

const (
	// PassFull renders from noise
	PassFull Pass = iota
	// PassDerived renders from a source image
	PassDerived
)

func (p Pass) String() string {
	switch p {
	case PassFull:
		return "full"
	case PassDerived:
		return "derived"
	default:
		return fmt.Sprintf("pass(%d)", int(p))
	}
}

// StepParameters is everything the backend needs for one step. Values are
// built by the planner and never modified afterwards; WithSource returns a copy.
type StepParameters struct {
	Settings

	Segment int
	Step    int
	T       float64

	Pass              Pass
	Prompt            string
	NegativePrompt    string
	Seed              int64
	Subseed           int64
	SubseedStrength   float64
	DenoisingStrength float64

	// Source is set for PassDerived steps only
	Source image.Image
}

// WithSource returns a copy of p rendering from img
func (p StepParameters) WithSource(img image.Image) StepParameters {
	p.Source = img
	return p
}

// Step is one scheduled interpolation position
type Step struct {
	Params StepParameters
	// Reuse marks the first step of every segment after the first. It is
	// identical to the previous segment's last step and is not rendered.
	Reuse bool
}

// Segment holds the steps between keyframes Start and Start+1
type Segment struct {
	Index int
	Start int
	Steps []Step
}

// SourcePolicy picks the source image of derived steps
type SourcePolicy string

const (
	// SourcePrevious renders each derived step from the step before it
	SourcePrevious SourcePolicy = "previous"
	// SourceSegmentStart renders every derived step from the segment's first image
	SourceSegmentStart SourcePolicy = "segment-start"
)

// Mode is either Direct or Derived
type Mode interface {
	Name() string
	isMode()
}

// Direct renders every step from noise and blends the two keyframe seeds
// through the subseed strength.
type Direct struct{}

func (Direct) Name() string { return "direct" }
func (Direct) isMode()      {}

// Derived renders the first step of each segment from noise and every later
// step from a source image, raising denoise strength and optionally the cfg
// scale between the bounds.
type Derived struct {
	MinDenoise float64
	MaxDenoise float64
	MinCFG     float64
	MaxCFG     float64
	GradualCFG bool
	Source     SourcePolicy
	Curve      *Curve
}

func (Derived) Name() string { return "derived" }
func (Derived) isMode()      {}

// Lerp interpolates linearly between lo and hi
func Lerp(lo, hi, t float64) float64 {
	return lo + t*(hi-lo)
}
