package morph

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "prompt-morph/internal/errors"
	"prompt-morph/internal/keyframe"
)

type fakeGenerator struct {
	mu     sync.Mutex
	calls  []StepParameters
	images []image.Image
	// hook runs inside the call before it returns
	hook func(call int) error
	// samplerSteps is reported through the context's progress callback
	samplerSteps int
}

func (g *fakeGenerator) Generate(ctx context.Context, p StepParameters) (image.Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, p)
	if progress := ProgressFromContext(ctx); progress != nil {
		for i := 1; i <= g.samplerSteps; i++ {
			progress(i, g.samplerSteps)
		}
	}
	if g.hook != nil {
		if err := g.hook(len(g.calls)); err != nil {
			return nil, err
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	g.images = append(g.images, img)
	return img, nil
}

type fakeEncoder struct {
	unavailable error
	frames      []image.Image
	fps         float64
	path        string
}

func (e *fakeEncoder) Available() error { return e.unavailable }

func (e *fakeEncoder) Encode(_ context.Context, frames []image.Image, fps float64, path string) error {
	e.frames, e.fps, e.path = frames, fps, path
	return nil
}

type fakeSink struct {
	saved []int
	grid  image.Image
}

func (s *fakeSink) SaveFrame(index int, _ Frame) error {
	s.saved = append(s.saved, index)
	return nil
}

func (s *fakeSink) SaveGrid(grid image.Image) error {
	s.grid = grid
	return nil
}

func (s *fakeSink) VideoPath() string { return "/out/morph-00001.webm" }

type observerFunc func(index int, frame Frame)

func (observerFunc) OnStep(StepEvent) {}

func (f observerFunc) OnImage(index int, frame Frame) { f(index, frame) }

type progressRecorder struct {
	observerFunc
	updates []string
}

func (r *progressRecorder) OnProgress(ev StepEvent, current, total int) {
	r.updates = append(r.updates, fmt.Sprintf("job %d: %d/%d", ev.Job, current, total))
}

func testOptions(mode string, steps int) Options {
	return Options{
		Mode:       mode,
		Steps:      steps,
		Seed:       -1,
		FPS:        5,
		MinDenoise: 0.4,
		MaxDenoise: 0.9,
		MinCFG:     7,
		MaxCFG:     7,
		Generation: Settings{Steps: 20, Width: 512, Height: 512, CFGScale: 7, Sampler: "Euler a"},
	}
}

func mustSequence(t *testing.T, prompts string) *keyframe.Sequence {
	t.Helper()
	seq, err := keyframe.Parse(prompts, "", "lowres")
	require.NoError(t, err)
	return seq
}

func TestRun_TwoKeyframesDirect(t *testing.T) {
	gen := &fakeGenerator{}
	runner := NewRunner(gen, slog.Default())

	res, err := runner.Run(context.Background(), Request{
		Sequence: mustSequence(t, "1 | a cat\n2 | a dog"),
		Options:  testOptions("direct", 3),
	})
	require.NoError(t, err)
	require.Len(t, gen.calls, 3)
	assert.Len(t, res.Frames, 3)
	assert.Equal(t, 3, res.Calls)
	assert.Equal(t, 3, res.Jobs)
	assert.False(t, res.Interrupted)

	wantT := []float64{0, 0.5, 1}
	wantPrompts := []string{
		"a cat:1.0 AND a dog:0.0",
		"a cat:0.5 AND a dog:0.5",
		"a cat:0.0 AND a dog:1.0",
	}
	for i, p := range gen.calls {
		assert.Equal(t, wantT[i], p.T)
		assert.Equal(t, int64(1), p.Seed)
		assert.Equal(t, int64(2), p.Subseed)
		assert.Equal(t, wantT[i], p.SubseedStrength)
		assert.Equal(t, PassFull, p.Pass)
		assert.Equal(t, wantPrompts[i], p.Prompt)
		assert.Equal(t, "lowres:"+[]string{"1.0", "0.5", "0.0"}[i]+" AND lowres:"+[]string{"0.0", "0.5", "1.0"}[i], p.NegativePrompt)
		assert.Equal(t, 7.0, p.CFGScale)
		assert.Nil(t, p.Source)
	}
	assert.Equal(t, []int64{1, 2}, res.Seeds)
	assert.Equal(t, "1 | a cat\n2 | a dog", res.Summary)
}

func TestRun_CallCountAcrossSegments(t *testing.T) {
	for _, mode := range []string{"direct", "derived"} {
		gen := &fakeGenerator{}
		res, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
			Sequence: mustSequence(t, "1 | a\n2 | b\n3 | c\n4 | d"),
			Options:  testOptions(mode, 5),
		})
		require.NoError(t, err, mode)

		assert.Len(t, gen.calls, 1+(5-1)*3, mode)
		assert.Len(t, res.Frames, 13, mode)
		assert.Equal(t, JobCount(4, 5), res.Calls, mode)
	}
}

func TestRun_ReusedStepIsSharedWithPreviousSegment(t *testing.T) {
	gen := &fakeGenerator{}
	res, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence: mustSequence(t, "1 | a\n2 | b\n3 | c"),
		Options:  testOptions("direct", 3),
	})
	require.NoError(t, err)

	// frame 2 ends segment 1, frame 3 is step 1 of segment 2
	assert.Equal(t, 1, res.Frames[2].Params.Segment)
	assert.Equal(t, 1.0, res.Frames[2].Params.T)
	assert.Equal(t, 2, res.Frames[3].Params.Segment)
	assert.Equal(t, 1, res.Frames[3].Params.Step)
	assert.Equal(t, int64(2), res.Frames[3].Params.Seed)
	assert.Equal(t, int64(3), res.Frames[3].Params.Subseed)
}

func TestRun_SeedCarryOverHoldsSeed(t *testing.T) {
	gen := &fakeGenerator{}
	_, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence: mustSequence(t, "7 | a\nb"),
		Options:  testOptions("direct", 4),
	})
	require.NoError(t, err)

	for _, p := range gen.calls {
		assert.Equal(t, int64(7), p.Seed)
		assert.Equal(t, int64(7), p.Subseed)
		assert.Zero(t, p.SubseedStrength)
	}
}

func TestRun_InterruptAfterThirdImage(t *testing.T) {
	gen := &fakeGenerator{}
	stop := &Interrupt{}
	observer := observerFunc(func(index int, _ Frame) {
		if index == 2 {
			stop.Signal()
		}
	})

	res, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence:  mustSequence(t, "1 | a\n2 | b"),
		Options:   testOptions("direct", 10),
		Interrupt: stop,
		Observer:  observer,
	})
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Len(t, res.Frames, 3)
	assert.Len(t, gen.calls, 3)
	assert.Len(t, res.Display, 3)
}

func TestRun_InterruptDuringCallDropsOutput(t *testing.T) {
	stop := &Interrupt{}
	gen := &fakeGenerator{hook: func(call int) error {
		if call == 4 {
			stop.Signal()
		}
		return nil
	}}

	res, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence:  mustSequence(t, "1 | a\n2 | b"),
		Options:   testOptions("direct", 10),
		Interrupt: stop,
	})
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Len(t, gen.calls, 4)
	assert.Len(t, res.Frames, 3)
}

func TestRun_CancelledContextStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{hook: func(call int) error {
		if call == 2 {
			cancel()
			return context.Canceled
		}
		return nil
	}}

	res, err := NewRunner(gen, slog.Default()).Run(ctx, Request{
		Sequence: mustSequence(t, "1 | a\n2 | b"),
		Options:  testOptions("direct", 5),
	})
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Len(t, res.Frames, 1)
}

func TestRun_BackendFailureKeepsPartialOutput(t *testing.T) {
	boom := errors.New("boom")
	gen := &fakeGenerator{hook: func(call int) error {
		if call == 3 {
			return boom
		}
		return nil
	}}
	sink := &fakeSink{}
	opts := testOptions("direct", 5)
	opts.Grid = true

	res, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence: mustSequence(t, "1 | a\n2 | b"),
		Options:  opts,
		Sink:     sink,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, apperrors.KindBackend, apperrors.KindOf(err))

	require.NotNil(t, res)
	assert.Len(t, res.Frames, 2)
	assert.Len(t, res.Display, 3)
	assert.NotNil(t, sink.grid)
	assert.Equal(t, []int{0, 1}, sink.saved)
	assert.Len(t, gen.calls, 3)
}

func TestRun_TooFewKeyframes(t *testing.T) {
	gen := &fakeGenerator{}
	seq := &keyframe.Sequence{Keyframes: []keyframe.Keyframe{{Prompt: "a"}}, Negatives: []string{""}}

	res, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence: seq,
		Options:  testOptions("direct", 3),
	})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrTooFewKeyframes)
	assert.Empty(t, gen.calls)
}

func TestRun_VideoWithoutEncoderFailsBeforeGeneration(t *testing.T) {
	opts := testOptions("direct", 3)
	opts.Video = true

	gen := &fakeGenerator{}
	_, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence: mustSequence(t, "1 | a\n2 | b"),
		Options:  opts,
		Sink:     &fakeSink{},
	})
	assert.ErrorIs(t, err, apperrors.ErrVideoUnavailable)
	assert.Equal(t, apperrors.KindCapability, apperrors.KindOf(err))
	assert.Empty(t, gen.calls)

	enc := &fakeEncoder{unavailable: errors.New("not on PATH")}
	_, err = NewRunner(gen, slog.Default(), WithVideoEncoder(enc)).Run(context.Background(), Request{
		Sequence: mustSequence(t, "1 | a\n2 | b"),
		Options:  opts,
		Sink:     &fakeSink{},
	})
	assert.ErrorIs(t, err, apperrors.ErrVideoUnavailable)
	assert.Empty(t, gen.calls)
}

func TestRun_VideoGetsFullSequence(t *testing.T) {
	opts := testOptions("direct", 31)
	opts.Video = true
	opts.Grid = true

	gen := &fakeGenerator{}
	enc := &fakeEncoder{}
	res, err := NewRunner(gen, slog.Default(), WithVideoEncoder(enc)).Run(context.Background(), Request{
		Sequence: mustSequence(t, "1 | a\n2 | b"),
		Options:  opts,
		Sink:     &fakeSink{},
	})
	require.NoError(t, err)

	assert.Len(t, enc.frames, 31)
	assert.Equal(t, 5.0, enc.fps)
	assert.Equal(t, "/out/morph-00001.webm", res.VideoPath)
	assert.Len(t, res.Display, DisplayCap+1)
	assert.Same(t, res.Grid, res.Display[0])
	assert.Same(t, gen.images[0], res.Display[1])
	assert.Same(t, gen.images[30], res.Display[DisplayCap])
}

func TestRun_DerivedUsesPreviousImage(t *testing.T) {
	gen := &fakeGenerator{}
	_, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence: mustSequence(t, "1 | a\n2 | b"),
		Options:  testOptions("derived", 4),
	})
	require.NoError(t, err)
	require.Len(t, gen.calls, 4)

	assert.Equal(t, PassFull, gen.calls[0].Pass)
	assert.Equal(t, int64(1), gen.calls[0].Seed)
	assert.Zero(t, gen.calls[0].SubseedStrength)
	assert.Nil(t, gen.calls[0].Source)

	wantDenoise := []float64{0.4, 0.65, 0.9}
	for i, p := range gen.calls[1:] {
		assert.Equal(t, PassDerived, p.Pass)
		assert.Equal(t, int64(2), p.Seed)
		assert.Zero(t, p.SubseedStrength)
		assert.InDelta(t, wantDenoise[i], p.DenoisingStrength, 1e-9)
		assert.Equal(t, 7.0, p.CFGScale)
		assert.Same(t, gen.images[i], p.Source)
	}
}

func TestRun_DerivedSegmentStartSource(t *testing.T) {
	opts := testOptions("derived", 4)
	opts.Source = SourceSegmentStart

	gen := &fakeGenerator{}
	_, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence: mustSequence(t, "1 | a\n2 | b\n3 | c"),
		Options:  opts,
	})
	require.NoError(t, err)
	require.Len(t, gen.calls, 7)

	for _, p := range gen.calls[1:4] {
		assert.Same(t, gen.images[0], p.Source)
	}
	// segment 2 starts from the last image of segment 1
	for _, p := range gen.calls[4:] {
		assert.Same(t, gen.images[3], p.Source)
	}
}

func TestRun_DerivedSecondSegmentStartsFromLastImage(t *testing.T) {
	gen := &fakeGenerator{}
	_, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence: mustSequence(t, "1 | a\n2 | b\n3 | c"),
		Options:  testOptions("derived", 3),
	})
	require.NoError(t, err)
	require.Len(t, gen.calls, 5)

	assert.Equal(t, PassDerived, gen.calls[3].Pass)
	assert.Same(t, gen.images[2], gen.calls[3].Source)
	assert.Equal(t, int64(3), gen.calls[3].Seed)
}

func TestRun_SamplerProgressReachesObserver(t *testing.T) {
	gen := &fakeGenerator{samplerSteps: 2}
	rec := &progressRecorder{observerFunc: func(int, Frame) {}}

	_, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence: mustSequence(t, "1 | cat\n2 | dog"),
		Options:  testOptions("direct", 2),
		Observer: rec,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"job 1: 1/2", "job 1: 2/2", "job 2: 1/2", "job 2: 2/2"}, rec.updates)
}

func TestRun_NoProgressWithoutProgressObserver(t *testing.T) {
	gen := &fakeGenerator{samplerSteps: 2}

	_, err := NewRunner(gen, slog.Default()).Run(context.Background(), Request{
		Sequence: mustSequence(t, "1 | cat\n2 | dog"),
		Options:  testOptions("direct", 2),
		Observer: observerFunc(func(int, Frame) {}),
	})
	require.NoError(t, err)
	assert.Len(t, gen.calls, 2)
}
