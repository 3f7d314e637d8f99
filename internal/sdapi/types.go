package sdapi

// GenerationRequest is sent to POST /sdapi/v1/txt2img and /sdapi/v1/img2img
type GenerationRequest struct {
	Prompt            string         `json:"prompt"`
	NegativePrompt    string         `json:"negative_prompt"`
	Seed              int64          `json:"seed"`
	Subseed           int64          `json:"subseed"`
	SubseedStrength   float64        `json:"subseed_strength"`
	SamplerName       string         `json:"sampler_name,omitempty"`
	CfgScale          float64        `json:"cfg_scale"`
	Steps             int            `json:"steps"`
	Width             int            `json:"width"`
	Height            int            `json:"height"`
	BatchSize         int            `json:"batch_size"`
	NIter             int            `json:"n_iter"`
	DenoisingStrength *float64       `json:"denoising_strength,omitempty"`
	InitImages        []string       `json:"init_images,omitempty"`
	OverrideSettings  map[string]any `json:"override_settings,omitempty"`
}

// GenerationResponse carries base64 encoded images
type GenerationResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

// ErrorResponse is returned by the API on failure
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}
