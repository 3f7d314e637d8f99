package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Extension is the container the FFmpeg encoder writes
const Extension = ".webm"

// FFmpeg encodes frame sequences by piping PNG frames into the ffmpeg binary
type FFmpeg struct {
	binary string
	logger *slog.Logger
}

// NewFFmpeg creates an encoder using binary, looked up on PATH when it is
// not an absolute path. An empty binary means "ffmpeg".
func NewFFmpeg(binary string, logger *slog.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary, logger: logger}
}

// Available reports whether the binary can be run
func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.binary); err != nil {
		return fmt.Errorf("find %s: %w", f.binary, err)
	}
	return nil
}

func (f *FFmpeg) args(fps float64, path string) []string {
	return []string{
		"-y",
		"-loglevel", "error",
		"-f", "image2pipe",
		"-framerate", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libvpx-vp9",
		"-pix_fmt", "yuv420p",
		"-crf", "32",
		"-b:v", "0",
		path,
	}
}

// Encode writes frames to path at fps frames per second
func (f *FFmpeg) Encode(ctx context.Context, frames []image.Image, fps float64, path string) error {
	if len(frames) == 0 {
		return fmt.Errorf("encode video: no frames")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create video directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, f.binary, f.args(fps, path)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	writeErr := writeFrames(stdin, frames)
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if writeErr != nil {
		return fmt.Errorf("write frames: %w", writeErr)
	}

	f.logger.Debug("video encoded", "path", path, "frames", len(frames), "fps", fps)
	return nil
}

func writeFrames(w io.Writer, frames []image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	for i, frame := range frames {
		if err := enc.Encode(w, frame); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return nil
}
