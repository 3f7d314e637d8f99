package morph

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"

	apperrors "prompt-morph/internal/errors"
	"prompt-morph/internal/keyframe"
	"prompt-morph/internal/prompt"
	"prompt-morph/internal/reduce"
)

// Generator renders one image per call
type Generator interface {
	Generate(ctx context.Context, params StepParameters) (image.Image, error)
}

// VideoEncoder turns the full frame sequence into a video file
type VideoEncoder interface {
	Available() error
	Encode(ctx context.Context, frames []image.Image, fps float64, path string) error
}

// Sink stores frames as they are produced
type Sink interface {
	SaveFrame(index int, frame Frame) error
	SaveGrid(grid image.Image) error
	VideoPath() string
}

// Interrupt is a cooperative stop signal polled between backend calls. A
// call already in flight is allowed to finish and its output is dropped.
type Interrupt struct {
	flag atomic.Bool
}

// Signal requests the run to stop
func (i *Interrupt) Signal() {
	i.flag.Store(true)
}

// Interrupted reports whether Signal was called. A nil Interrupt never fires.
func (i *Interrupt) Interrupted() bool {
	return i != nil && i.flag.Load()
}

// StepEvent is reported before each backend call
type StepEvent struct {
	Segment  int
	Segments int
	Step     int
	Steps    int
	Job      int
	Jobs     int
	Params   StepParameters
}

// Observer follows a run's progress
type Observer interface {
	OnStep(ev StepEvent)
	OnImage(index int, frame Frame)
}

// ProgressObserver is an Observer that also follows sampler progress within
// a step, for generators that report it.
type ProgressObserver interface {
	Observer
	OnProgress(ev StepEvent, current, total int)
}

// ProgressFunc receives sampler progress of the call in flight
type ProgressFunc func(current, total int)

type progressKey struct{}

// ContextWithProgress attaches fn to the context of one Generate call
func ContextWithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ProgressFromContext returns the callback attached to ctx, or nil
func ProgressFromContext(ctx context.Context) ProgressFunc {
	fn, _ := ctx.Value(progressKey{}).(ProgressFunc)
	return fn
}

// Frame is one accumulated image with the parameters that produced it
type Frame struct {
	Image  image.Image
	Params StepParameters
}

// Request describes one morph run
type Request struct {
	Sequence  *keyframe.Sequence
	Options   Options
	Interrupt *Interrupt
	Observer  Observer
	Sink      Sink
}

// Result is what a run produced, including partial output of interrupted or
// failed runs.
type Result struct {
	Frames      []Frame
	Display     []image.Image
	Grid        image.Image
	VideoPath   string
	Seeds       []int64
	Summary     string
	Calls       int
	Jobs        int
	Interrupted bool
}

// Images returns the full frame sequence
func (r *Result) Images() []image.Image {
	images := make([]image.Image, len(r.Frames))
	for i, f := range r.Frames {
		images[i] = f.Image
	}
	return images
}

// Runner executes morph runs against a generator
type Runner struct {
	generator Generator
	resolver  prompt.Resolver
	encoder   VideoEncoder
	rng       keyframe.Rand
	logger    *slog.Logger
}

// RunnerOption customizes a Runner
type RunnerOption func(*Runner)

// WithResolver replaces the default AND resolver
func WithResolver(r prompt.Resolver) RunnerOption {
	return func(rn *Runner) { rn.resolver = r }
}

// WithVideoEncoder enables video output
func WithVideoEncoder(e VideoEncoder) RunnerOption {
	return func(rn *Runner) { rn.encoder = e }
}

// WithRand sets the source of random seeds
func WithRand(rng keyframe.Rand) RunnerOption {
	return func(rn *Runner) { rn.rng = rng }
}

// NewRunner creates a new runner
func NewRunner(generator Generator, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		generator: generator,
		resolver:  prompt.AndResolver{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run validates the request, schedules every step, invokes the generator one
// step at a time and reduces whatever was produced. On backend failure the
// partial result is returned together with the error.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	segments, seeds, mode, err := r.prepare(req)
	if err != nil {
		return nil, err
	}

	opts := req.Options
	result := &Result{
		Seeds:   seeds,
		Summary: req.Sequence.Summary(),
		Jobs:    JobCount(req.Sequence.Len(), opts.Steps),
	}

	logger := r.logger.With("mode", mode.Name(), "keyframes", req.Sequence.Len(), "steps", opts.Steps)
	logger.Info("morph started", "jobs", result.Jobs)

	runErr := r.schedule(ctx, req, mode, segments, result)
	if runErr != nil {
		logger.Error("morph failed", "error", runErr, "images", len(result.Frames))
	}

	if err := r.finish(ctx, req, result); err != nil && runErr == nil {
		runErr = err
	}

	logger.Info("morph finished",
		"images", len(result.Frames),
		"calls", result.Calls,
		"interrupted", result.Interrupted,
	)
	return result, runErr
}

// prepare covers everything that must fail before the first backend call
func (r *Runner) prepare(req Request) ([]Segment, []int64, Mode, error) {
	if req.Sequence == nil || req.Sequence.Len() < keyframe.MinKeyframes {
		return nil, nil, nil, apperrors.ErrTooFewKeyframes
	}
	if err := req.Options.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if req.Options.Video {
		if req.Sink == nil {
			return nil, nil, nil, apperrors.Validation(fmt.Errorf("video output needs an output directory"))
		}
		if r.encoder == nil {
			return nil, nil, nil, apperrors.ErrVideoUnavailable
		}
		if err := r.encoder.Available(); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", apperrors.ErrVideoUnavailable, err)
		}
	}

	mode, err := req.Options.BuildMode()
	if err != nil {
		return nil, nil, nil, err
	}
	seeds, err := keyframe.ResolveSeeds(req.Sequence.Keyframes, req.Options.Seed, r.rng)
	if err != nil {
		return nil, nil, nil, err
	}

	planner := &Planner{
		Resolver: r.resolver,
		Mode:     mode,
		Steps:    req.Options.Steps,
		Settings: req.Options.Generation,
	}
	segments, err := planner.Plan(req.Sequence, seeds)
	if err != nil {
		return nil, nil, nil, apperrors.Validation(err)
	}
	return segments, seeds, mode, nil
}

func (r *Runner) schedule(ctx context.Context, req Request, mode Mode, segments []Segment, result *Result) error {
	derived, isDerived := mode.(Derived)
	var source image.Image

	for _, seg := range segments {
		for _, step := range seg.Steps {
			if step.Reuse {
				if isDerived && len(result.Frames) > 0 {
					source = result.Frames[len(result.Frames)-1].Image
				}
				continue
			}
			if req.Interrupt.Interrupted() || ctx.Err() != nil {
				result.Interrupted = true
				return nil
			}

			params := step.Params
			if params.Pass == PassDerived {
				if source == nil {
					return fmt.Errorf("segment %d step %d: no source image", seg.Index, params.Step)
				}
				params = params.WithSource(source)
			}

			ev := StepEvent{
				Segment:  seg.Index,
				Segments: len(segments),
				Step:     params.Step,
				Steps:    len(seg.Steps),
				Job:      result.Calls + 1,
				Jobs:     result.Jobs,
				Params:   params,
			}
			callCtx := ctx
			if req.Observer != nil {
				req.Observer.OnStep(ev)
				if po, ok := req.Observer.(ProgressObserver); ok {
					callCtx = ContextWithProgress(ctx, func(current, total int) {
						po.OnProgress(ev, current, total)
					})
				}
			}

			img, err := r.generator.Generate(callCtx, params)
			result.Calls++
			if err != nil {
				if ctx.Err() != nil || req.Interrupt.Interrupted() {
					result.Interrupted = true
					return nil
				}
				return apperrors.Backend(fmt.Errorf("generate segment %d step %d: %w", seg.Index, params.Step, err))
			}
			if req.Interrupt.Interrupted() {
				result.Interrupted = true
				return nil
			}

			frame := Frame{Image: img, Params: params}
			index := len(result.Frames)
			result.Frames = append(result.Frames, frame)
			if req.Sink != nil {
				if err := req.Sink.SaveFrame(index, frame); err != nil {
					return fmt.Errorf("save image %d: %w", index, err)
				}
			}
			if req.Observer != nil {
				req.Observer.OnImage(index, frame)
			}

			if isDerived && (params.Step == 0 || derived.Source == SourcePrevious) {
				source = img
			}
		}
	}
	return nil
}

// finish reduces the accumulated frames and encodes the video
func (r *Runner) finish(ctx context.Context, req Request, result *Result) error {
	images := result.Images()
	reduced := reduce.Reduce(images, reduce.Options{Cap: DisplayCap, Grid: req.Options.Grid})
	result.Display = reduced.Images
	result.Grid = reduced.Grid

	if result.Grid != nil && req.Sink != nil {
		if err := req.Sink.SaveGrid(result.Grid); err != nil {
			return fmt.Errorf("save grid: %w", err)
		}
	}

	if !req.Options.Video || len(images) == 0 {
		return nil
	}
	path := req.Sink.VideoPath()
	// the backend may have been cancelled; encoding salvages what was produced
	if err := r.encoder.Encode(context.WithoutCancel(ctx), images, req.Options.FPS, path); err != nil {
		return fmt.Errorf("encode video: %w", err)
	}
	result.VideoPath = path
	return nil
}
