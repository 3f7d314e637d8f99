package reduce

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Options controls how a finished sequence is prepared for display
type Options struct {
	// Cap is the most images shown; 0 disables downsampling
	Cap  int
	Grid bool
}

// Result is the display view of a sequence
type Result struct {
	// Images is the display list, grid first when one was built
	Images []image.Image
	Grid   image.Image
}

// Indices picks limit evenly spaced indices into a sequence of length n,
// always including the first and last. Sequences no longer than limit are
// returned whole.
func Indices(n, limit int) []int {
	if limit <= 0 || n <= limit {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if limit == 1 {
		return []int{0}
	}

	idx := make([]int, limit)
	for i := range idx {
		idx[i] = int(math.Ceil(float64(i) / float64(limit-1) * float64(n-1)))
	}
	return idx
}

// Downsample returns the items at Indices(len(items), limit)
func Downsample[T any](items []T, limit int) []T {
	idx := Indices(len(items), limit)
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}

// GridShape returns the rows and columns of a contact sheet for n images
func GridShape(n int) (rows, cols int) {
	if n <= 0 {
		return 0, 0
	}
	rows = int(math.Round(math.Sqrt(float64(n))))
	if rows > n {
		rows = n
	}
	cols = int(math.Ceil(float64(n) / float64(rows)))
	return rows, cols
}

// Grid lays images out row by row on a black sheet. Every cell has the size
// of the first image; others are fitted into it.
func Grid(images []image.Image) image.Image {
	if len(images) == 0 {
		return nil
	}

	rows, cols := GridShape(len(images))
	cell := images[0].Bounds().Size()
	sheet := imaging.New(cols*cell.X, rows*cell.Y, color.Black)

	for i, img := range images {
		if img.Bounds().Size() != cell {
			img = imaging.Fit(img, cell.X, cell.Y, imaging.Lanczos)
		}
		at := image.Pt((i%cols)*cell.X, (i/cols)*cell.Y)
		sheet = imaging.Paste(sheet, img, at)
	}
	return sheet
}

// Reduce downsamples images for display and optionally prepends a grid
func Reduce(images []image.Image, opts Options) Result {
	shown := Downsample(images, opts.Cap)
	if !opts.Grid || len(shown) == 0 {
		return Result{Images: shown}
	}

	grid := Grid(shown)
	return Result{
		Images: append([]image.Image{grid}, shown...),
		Grid:   grid,
	}
}
