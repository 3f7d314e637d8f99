package morph

import (
	"fmt"

	apperrors "prompt-morph/internal/errors"
)

const (
	MinSteps = 2
	MaxSteps = 256
	MinCFG   = 1.0
	MaxCFG   = 30.0

	// DisplayCap limits how many images a result shows
	DisplayCap = 25
)

// Options is the user-facing configuration of one morph run
type Options struct {
	Mode  string
	Steps int
	Seed  int64

	Video bool
	FPS   float64
	Grid  bool

	MinDenoise float64
	MaxDenoise float64
	AltCFG     bool
	GradualCFG bool
	MinCFG     float64
	MaxCFG     float64
	Source     SourcePolicy
	Curve      string

	Generation Settings
}

// Validate checks option ranges
func (o Options) Validate() error {
	switch {
	case o.Mode != "direct" && o.Mode != "derived":
		return apperrors.Validation(fmt.Errorf("mode must be direct or derived, got %q", o.Mode))
	case o.Steps < MinSteps || o.Steps > MaxSteps:
		return apperrors.Validation(fmt.Errorf("steps must be between %d and %d, got %d", MinSteps, MaxSteps, o.Steps))
	case o.Video && o.FPS <= 0:
		return apperrors.Validation(fmt.Errorf("fps must be positive, got %v", o.FPS))
	case o.MinDenoise < 0 || o.MinDenoise > 1 || o.MaxDenoise < 0 || o.MaxDenoise > 1:
		return apperrors.Validation(fmt.Errorf("denoise strength must be between 0 and 1"))
	case o.MinCFG < MinCFG || o.MinCFG > MaxCFG || o.MaxCFG < MinCFG || o.MaxCFG > MaxCFG:
		return apperrors.Validation(fmt.Errorf("cfg scale must be between %v and %v", MinCFG, MaxCFG))
	case o.Source != "" && o.Source != SourcePrevious && o.Source != SourceSegmentStart:
		return apperrors.Validation(fmt.Errorf("unknown derived source %q", o.Source))
	case o.Generation.Steps <= 0 || o.Generation.Width <= 0 || o.Generation.Height <= 0:
		return apperrors.Validation(fmt.Errorf("sampling steps, width and height must be positive"))
	}
	return nil
}

// BuildMode turns the options into a Mode value
func (o Options) BuildMode() (Mode, error) {
	if o.Mode == "direct" {
		return Direct{}, nil
	}

	curve, err := ParseCurve(o.Curve)
	if err != nil {
		return nil, apperrors.Validation(err)
	}

	maxCFG := o.MaxCFG
	if !o.AltCFG {
		maxCFG = o.Generation.CFGScale
	}
	source := o.Source
	if source == "" {
		source = SourcePrevious
	}

	return Derived{
		MinDenoise: o.MinDenoise,
		MaxDenoise: o.MaxDenoise,
		MinCFG:     o.MinCFG,
		MaxCFG:     maxCFG,
		GradualCFG: o.GradualCFG,
		Source:     source,
		Curve:      curve,
	}, nil
}

// JobCount is the number of backend calls a full run makes
func JobCount(keyframes, steps int) int {
	if keyframes < 2 {
		return 0
	}
	return 1 + (steps-1)*(keyframes-1)
}
