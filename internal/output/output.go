package output

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	procimage "prompt-morph/internal/image"
	"prompt-morph/internal/morph"
	"prompt-morph/internal/runs"
	"prompt-morph/internal/video"
)

// Layout places each run in its own numbered directory under root/morphs
type Layout struct {
	root      string
	store     runs.Store
	processor *procimage.Processor
	logger    *slog.Logger
}

// NewLayout creates a layout writing under root
func NewLayout(root string, store runs.Store, processor *procimage.Processor, logger *slog.Logger) *Layout {
	return &Layout{
		root:      root,
		store:     store,
		processor: processor,
		logger:    logger,
	}
}

// Run is an allocated output directory. It implements morph.Sink.
type Run struct {
	Number    int64
	Dir       string
	processor *procimage.Processor
}

// Begin allocates the next run number and creates its directory
func (l *Layout) Begin(meta runs.Run) (*Run, error) {
	number, err := l.store.Allocate(meta)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(l.root, "morphs", fmt.Sprintf("%05d", number))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	l.logger.Debug("run allocated", "run", number, "dir", dir)
	return &Run{Number: number, Dir: dir, processor: l.processor}, nil
}

// End records the outcome of a run in the ledger
func (l *Layout) End(r *Run, result *morph.Result, runErr error) error {
	outcome := runs.Outcome{Status: runs.StatusDone}
	if result != nil {
		outcome.Images = len(result.Frames)
		outcome.VideoPath = result.VideoPath
		if result.Interrupted {
			outcome.Status = runs.StatusInterrupted
		}
	}
	if runErr != nil {
		outcome.Status = runs.StatusFailed
		outcome.Error = runErr.Error()
	}

	if err := l.store.Finish(r.Number, outcome); err != nil {
		return err
	}
	l.logger.Debug("run recorded", "run", r.Number, "status", outcome.Status)
	return nil
}

// FramePath is the file of the index-th image
func (r *Run) FramePath(index int, seed int64) string {
	return filepath.Join(r.Dir, fmt.Sprintf("%05d-%d.png", index, seed))
}

// GridPath is the contact sheet file
func (r *Run) GridPath() string {
	return filepath.Join(r.Dir, fmt.Sprintf("grid-%05d.png", r.Number))
}

// VideoPath is the video file
func (r *Run) VideoPath() string {
	return filepath.Join(r.Dir, fmt.Sprintf("morph-%05d%s", r.Number, video.Extension))
}

// SaveFrame writes one image
func (r *Run) SaveFrame(index int, frame morph.Frame) error {
	return r.write(r.FramePath(index, frame.Params.Seed), frame.Image)
}

// SaveGrid writes the contact sheet
func (r *Run) SaveGrid(grid image.Image) error {
	return r.write(r.GridPath(), grid)
}

func (r *Run) write(path string, img image.Image) error {
	data, err := r.processor.EncodePNG(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

var _ morph.Sink = (*Run)(nil)
