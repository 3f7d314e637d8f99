package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"prompt-morph/internal/comfyui"
	"prompt-morph/internal/config"
	apperrors "prompt-morph/internal/errors"
	procimage "prompt-morph/internal/image"
	"prompt-morph/internal/morph"
	"prompt-morph/internal/sdapi"
	"prompt-morph/internal/video"
)

// Backend is an image service both front ends can drive
type Backend interface {
	morph.Generator
	CheckHealth(ctx context.Context) error
	Interrupt(ctx context.Context) error
}

// NewLogger builds the process logger from the logging section
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if cfg.JSONFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewProcessor builds the image processor from the output section
func NewProcessor(cfg *config.Config) *procimage.Processor {
	return procimage.NewProcessor(cfg.Output.JPEGQuality, cfg.Output.PreviewSize)
}

// NewBackend creates the configured image backend
func NewBackend(cfg *config.Config, processor *procimage.Processor, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendComfyUI:
		client, err := comfyui.NewClient(cfg.ComfyUI, processor, logger.With("backend", "comfyui"))
		if err != nil {
			return nil, fmt.Errorf("create comfyui client: %w: %v", apperrors.ErrInvalidWorkflow, err)
		}
		return client, nil
	case config.BackendSDAPI:
		return sdapi.NewClient(cfg.SDAPI, processor, logger.With("backend", "sdapi")), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// CheckBackend reports an unreachable backend as ErrBackendUnavailable
func CheckBackend(ctx context.Context, backend Backend) error {
	if err := backend.CheckHealth(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	return nil
}

// NewRunner wires a runner with the configured video encoder
func NewRunner(cfg *config.Config, backend Backend, logger *slog.Logger) *morph.Runner {
	encoder := video.NewFFmpeg(cfg.Video.FFmpeg, logger)
	return morph.NewRunner(backend, logger, morph.WithVideoEncoder(encoder))
}
