package image

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func TestProcessor_PNGRoundTrip(t *testing.T) {
	p := NewProcessor(80, 0)
	src := gradient(8, 4)

	data, err := p.EncodePNG(src)
	require.NoError(t, err)

	img, err := p.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), img.Bounds())
	assert.Equal(t, src.At(3, 2), color.RGBAModel.Convert(img.At(3, 2)))
}

func TestProcessor_DecodeJPEGFallback(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(4, 4), nil))

	img, err := NewProcessor(80, 0).Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
}

func TestProcessor_DecodeGarbage(t *testing.T) {
	_, err := NewProcessor(80, 0).Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestProcessor_PreviewScalesDown(t *testing.T) {
	data, err := NewProcessor(70, 64).Preview(gradient(256, 128))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}
