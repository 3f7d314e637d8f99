package comfyui

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"prompt-morph/internal/morph"
)

// String placeholders are replaced inside JSON strings
const (
	PromptPlaceholder         = "{{PROMPT}}"
	NegativePromptPlaceholder = "{{NEGATIVE_PROMPT}}"
	SamplerPlaceholder        = "{{SAMPLER}}"
	ModelPlaceholder          = "{{MODEL}}"
	InitImagePlaceholder      = "{{INIT_IMAGE}}"
)

// Numeric placeholders are written quoted in the template and replaced,
// quotes included, by a bare JSON number.
const (
	SeedPlaceholder            = `"{{SEED}}"`
	SubseedPlaceholder         = `"{{SUBSEED}}"`
	SubseedStrengthPlaceholder = `"{{SUBSEED_STRENGTH}}"`
	CFGPlaceholder             = `"{{CFG}}"`
	StepsPlaceholder           = `"{{STEPS}}"`
	WidthPlaceholder           = `"{{WIDTH}}"`
	HeightPlaceholder          = `"{{HEIGHT}}"`
	DenoisePlaceholder         = `"{{DENOISE}}"`
)

// Template is one workflow file
type Template struct {
	path string
	data []byte
	// blendsSeeds is set when the template consumes the subseed strength
	blendsSeeds bool
}

func loadTemplate(path string, required ...string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	// Validate it's valid JSON
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("invalid workflow JSON in %s: %w", path, err)
	}

	for _, p := range required {
		if !strings.Contains(string(data), p) {
			return nil, fmt.Errorf("workflow %s must contain %s placeholder", path, p)
		}
	}

	return &Template{
		path:        path,
		data:        data,
		blendsSeeds: strings.Contains(string(data), SubseedStrengthPlaceholder),
	}, nil
}

// WorkflowManager holds the txt2img and img2img templates
type WorkflowManager struct {
	txt2img *Template
	img2img *Template
}

// NewWorkflowManager loads both templates. The img2img path may be empty, in
// which case derived steps are rejected.
func NewWorkflowManager(txt2imgPath, img2imgPath string) (*WorkflowManager, error) {
	txt2img, err := loadTemplate(txt2imgPath, PromptPlaceholder)
	if err != nil {
		return nil, err
	}

	wm := &WorkflowManager{txt2img: txt2img}
	if img2imgPath != "" {
		wm.img2img, err = loadTemplate(img2imgPath, PromptPlaceholder, InitImagePlaceholder)
		if err != nil {
			return nil, err
		}
	}

	return wm, nil
}

// SupportsDerived reports whether an img2img template is loaded
func (wm *WorkflowManager) SupportsDerived() bool {
	return wm.img2img != nil
}

// BlendsSeeds reports whether full passes honor the subseed strength
func (wm *WorkflowManager) BlendsSeeds() bool {
	return wm.txt2img.blendsSeeds
}

// PrepareWorkflow fills a template with one step's parameters. initImage is the
// uploaded source image name and selects the img2img template when non-empty.
func (wm *WorkflowManager) PrepareWorkflow(params morph.StepParameters, initImage string) (map[string]any, error) {
	tmpl := wm.txt2img
	if initImage != "" {
		tmpl = wm.img2img
	}

	if tmpl == nil {
		return nil, fmt.Errorf("no img2img workflow configured")
	}

	replacer := strings.NewReplacer(
		PromptPlaceholder, sanitizeForJSON(params.Prompt),
		NegativePromptPlaceholder, sanitizeForJSON(params.NegativePrompt),
		SamplerPlaceholder, sanitizeForJSON(params.Sampler),
		ModelPlaceholder, sanitizeForJSON(params.Model),
		InitImagePlaceholder, sanitizeForJSON(initImage),
		SeedPlaceholder, strconv.FormatInt(params.Seed, 10),
		SubseedPlaceholder, strconv.FormatInt(params.Subseed, 10),
		SubseedStrengthPlaceholder, formatNumber(params.SubseedStrength),
		CFGPlaceholder, formatNumber(params.CFGScale),
		StepsPlaceholder, strconv.Itoa(params.Steps),
		WidthPlaceholder, strconv.Itoa(params.Width),
		HeightPlaceholder, strconv.Itoa(params.Height),
		DenoisePlaceholder, formatNumber(denoise(params)),
	)
	modified := replacer.Replace(string(tmpl.data))

	// Parse and validate result
	var workflow map[string]any
	if err := json.Unmarshal([]byte(modified), &workflow); err != nil {
		return nil, fmt.Errorf("parameters created invalid JSON: %w", err)
	}

	return workflow, nil
}

// full passes render from noise
func denoise(params morph.StepParameters) float64 {
	if params.Pass == morph.PassDerived {
		return params.DenoisingStrength
	}
	return 1
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// sanitizeForJSON escapes special characters for safe JSON string embedding
func sanitizeForJSON(s string) string {
	escaped, err := json.Marshal(s)
	if err != nil {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		return s
	}

	// Remove surrounding quotes from json.Marshal output
	return string(escaped[1 : len(escaped)-1])
}
