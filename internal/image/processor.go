package image

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
)

// Processor handles image format conversions between the backends, the
// output directory and chat previews
type Processor struct {
	jpegQuality int
	previewSize int
}

// NewProcessor creates a new image processor. previewSize bounds the longer
// side of JPEG previews; 0 keeps the original size.
func NewProcessor(jpegQuality, previewSize int) *Processor {
	return &Processor{
		jpegQuality: jpegQuality,
		previewSize: previewSize,
	}
}

// Decode parses image bytes returned by a backend
func (p *Processor) Decode(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		// Try generic decode in case it's not strictly PNG
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
	}
	return img, nil
}

// EncodePNG encodes img losslessly
func (p *Processor) EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Preview returns a JPEG of img scaled down to the preview size
func (p *Processor) Preview(img image.Image) ([]byte, error) {
	if p.previewSize > 0 {
		size := img.Bounds().Size()
		if size.X > p.previewSize || size.Y > p.previewSize {
			img = imaging.Fit(img, p.previewSize, p.previewSize, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	opts := &jpeg.Options{Quality: p.jpegQuality}
	if err := jpeg.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
