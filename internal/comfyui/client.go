package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"prompt-morph/internal/config"
	procimage "prompt-morph/internal/image"
	"prompt-morph/internal/morph"
)

// Client handles communication with the ComfyUI API
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	workflow   *WorkflowManager
	processor  *procimage.Processor
	logger     *slog.Logger

	seedBlendWarning sync.Once
}

// NewClient creates a new ComfyUI client
func NewClient(cfg config.ComfyUIConfig, processor *procimage.Processor, logger *slog.Logger) (*Client, error) {
	workflow, err := NewWorkflowManager(cfg.Txt2ImgWorkflow, cfg.Img2ImgWorkflow)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		wsURL:   cfg.WebSocketURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		workflow:  workflow,
		processor: processor,
		logger:    logger,
	}, nil
}

// Generate renders one morph step. Derived steps upload their source image
// first and run the img2img workflow.
func (c *Client) Generate(ctx context.Context, params morph.StepParameters) (image.Image, error) {
	if params.Source == nil && params.SubseedStrength > 0 && !c.workflow.BlendsSeeds() {
		c.seedBlendWarning.Do(func() {
			c.logger.Warn("txt2img workflow has no {{SUBSEED_STRENGTH}} placeholder, seed blending is ignored")
		})
	}

	var initImage string
	if params.Source != nil {
		if !c.workflow.SupportsDerived() {
			return nil, fmt.Errorf("derived step needs an img2img workflow")
		}
		name, err := c.UploadImage(ctx, params.Source)
		if err != nil {
			return nil, fmt.Errorf("upload source image: %w", err)
		}
		initImage = name
	}

	workflow, err := c.workflow.PrepareWorkflow(params, initImage)
	if err != nil {
		return nil, fmt.Errorf("prepare workflow: %w", err)
	}

	data, err := c.execute(ctx, workflow)
	if err != nil {
		return nil, err
	}

	return c.processor.Decode(data)
}

// execute queues a workflow and returns the bytes of its first output image.
// Sampler progress goes to the callback carried by ctx.
func (c *Client) execute(ctx context.Context, workflow map[string]any) ([]byte, error) {
	monitor := NewExecutionMonitor(c.wsURL, c.logger)
	if err := monitor.Connect(ctx); err != nil {
		return nil, err
	}
	defer monitor.Close()

	promptID, err := c.QueuePrompt(ctx, workflow, monitor.GetClientID())
	if err != nil {
		return nil, fmt.Errorf("queue prompt: %w", err)
	}

	c.logger.Debug("prompt queued", "prompt_id", promptID)

	if err := monitor.WaitForCompletion(ctx, promptID, ProgressCallback(morph.ProgressFromContext(ctx))); err != nil {
		return nil, fmt.Errorf("wait for completion: %w", err)
	}

	history, err := c.GetHistory(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	entry, ok := history[promptID]
	if !ok {
		return nil, fmt.Errorf("prompt not found in history")
	}

	for _, output := range entry.Outputs {
		if len(output.Images) > 0 {
			img := output.Images[0]
			return c.GetImage(ctx, img.Filename, img.Subfolder, img.Type)
		}
	}

	return nil, fmt.Errorf("no output image found")
}

// QueuePrompt sends a prompt to ComfyUI
func (c *Client) QueuePrompt(ctx context.Context, workflow map[string]any, clientID string) (string, error) {
	req := PromptRequest{
		Prompt:   workflow,
		ClientID: clientID,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	var promptResp PromptResponse
	if err := json.Unmarshal(respBody, &promptResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if promptResp.Error != "" {
		return "", fmt.Errorf("comfyui error: %s", promptResp.Error)
	}
	for node, errs := range promptResp.NodeErrors {
		if len(errs) > 0 {
			return "", fmt.Errorf("comfyui node %s: %s", node, errs[0].Message)
		}
	}

	return promptResp.PromptID, nil
}

// UploadImage stores img in ComfyUI's input folder under a fresh name and
// returns the name a LoadImage node expects.
func (c *Client) UploadImage(ctx context.Context, img image.Image) (string, error) {
	data, err := c.processor.EncodePNG(img)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("image", "morph-"+uuid.New().String()+".png")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := form.WriteField("overwrite", "true"); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/upload/image", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, string(msg))
	}

	var uploaded UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if uploaded.Subfolder != "" {
		return uploaded.Subfolder + "/" + uploaded.Name, nil
	}
	return uploaded.Name, nil
}

// GetHistory retrieves the execution history for a prompt
func (c *Client) GetHistory(ctx context.Context, promptID string) (HistoryResponse, error) {
	reqURL := fmt.Sprintf("%s/history/%s", c.baseURL, promptID)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var history HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return history, nil
}

// GetImage downloads an image from ComfyUI
func (c *Client) GetImage(ctx context.Context, filename, subfolder, imgType string) ([]byte, error) {
	params := url.Values{}
	params.Set("filename", filename)
	if subfolder != "" {
		params.Set("subfolder", subfolder)
	}
	if imgType != "" {
		params.Set("type", imgType)
	}

	reqURL := fmt.Sprintf("%s/view?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// Interrupt stops whatever ComfyUI is executing right now
func (c *Client) Interrupt(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/interrupt", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

// CheckHealth verifies ComfyUI is accessible
func (c *Client) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/system_stats", nil)
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

	var stats SystemStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err == nil {
		for _, d := range stats.Devices {
			c.logger.Debug("comfyui device", "name", d.Name, "vram_free", d.VRAMFree)
		}
	}

	return nil
}

var _ morph.Generator = (*Client)(nil)
