package sdapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"time"

	"prompt-morph/internal/config"
	procimage "prompt-morph/internal/image"
	"prompt-morph/internal/morph"
)

// Client talks to a Stable Diffusion web UI started with --api
type Client struct {
	baseURL    string
	httpClient *http.Client
	processor  *procimage.Processor
	logger     *slog.Logger
}

// NewClient creates a new web UI client
func NewClient(cfg config.SDAPIConfig, processor *procimage.Processor, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		processor: processor,
		logger:    logger,
	}
}

// Generate renders one morph step through txt2img, or img2img when the step
// carries a source image.
func (c *Client) Generate(ctx context.Context, params morph.StepParameters) (image.Image, error) {
	req := GenerationRequest{
		Prompt:          params.Prompt,
		NegativePrompt:  params.NegativePrompt,
		Seed:            params.Seed,
		Subseed:         params.Subseed,
		SubseedStrength: params.SubseedStrength,
		SamplerName:     params.Sampler,
		CfgScale:        params.CFGScale,
		Steps:           params.Steps,
		Width:           params.Width,
		Height:          params.Height,
		BatchSize:       1,
		NIter:           1,
	}
	if params.Model != "" {
		req.OverrideSettings = map[string]any{"sd_model_checkpoint": params.Model}
	}

	endpoint := "/sdapi/v1/txt2img"
	if params.Source != nil {
		data, err := c.processor.EncodePNG(params.Source)
		if err != nil {
			return nil, fmt.Errorf("encode source image: %w", err)
		}
		req.InitImages = []string{base64.StdEncoding.EncodeToString(data)}
		denoise := params.DenoisingStrength
		req.DenoisingStrength = &denoise
		endpoint = "/sdapi/v1/img2img"
	}

	var resp GenerationResponse
	if err := c.post(ctx, endpoint, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 {
		return nil, fmt.Errorf("no output image found")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Images[0])
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	c.logger.Debug("image generated", "endpoint", endpoint, "seed", params.Seed, "bytes", len(data))

	return c.processor.Decode(data)
}

// Interrupt stops the generation the web UI is running right now
func (c *Client) Interrupt(ctx context.Context) error {
	return c.post(ctx, "/sdapi/v1/interrupt", nil, nil)
}

// CheckHealth verifies the web UI API is accessible
func (c *Client) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/sdapi/v1/progress", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && (apiErr.Error != "" || apiErr.Detail != "") {
			return fmt.Errorf("server returned %d: %s %s", resp.StatusCode, apiErr.Error, apiErr.Detail)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

var _ morph.Generator = (*Client)(nil)
