package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"prompt-morph/internal/morph"
)

const (
	BackendComfyUI = "comfyui"
	BackendSDAPI   = "sdapi"
)

type Config struct {
	Backend    string           `mapstructure:"backend"`
	ComfyUI    ComfyUIConfig    `mapstructure:"comfyui"`
	SDAPI      SDAPIConfig      `mapstructure:"sdapi"`
	Generation GenerationConfig `mapstructure:"generation"`
	Morph      MorphConfig      `mapstructure:"morph"`
	Output     OutputConfig     `mapstructure:"output"`
	Video      VideoConfig      `mapstructure:"video"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ComfyUIConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	WebSocketURL    string        `mapstructure:"websocket_url"`
	Txt2ImgWorkflow string        `mapstructure:"txt2img_workflow"`
	Img2ImgWorkflow string        `mapstructure:"img2img_workflow"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type SDAPIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GenerationConfig holds the per-step settings the morph does not vary
type GenerationConfig struct {
	Model          string  `mapstructure:"model"`
	Sampler        string  `mapstructure:"sampler"`
	Steps          int     `mapstructure:"steps"`
	Width          int     `mapstructure:"width"`
	Height         int     `mapstructure:"height"`
	CFGScale       float64 `mapstructure:"cfg_scale"`
	Seed           int64   `mapstructure:"seed"`
	NegativePrompt string  `mapstructure:"negative_prompt"`
}

type MorphConfig struct {
	Mode       string  `mapstructure:"mode"`
	Steps      int     `mapstructure:"steps"`
	MinDenoise float64 `mapstructure:"min_denoise"`
	MaxDenoise float64 `mapstructure:"max_denoise"`
	AltCFG     bool    `mapstructure:"alt_cfg"`
	GradualCFG bool    `mapstructure:"gradual_cfg"`
	MinCFG     float64 `mapstructure:"min_cfg"`
	MaxCFG     float64 `mapstructure:"max_cfg"`
	Source     string  `mapstructure:"source"`
	Curve      string  `mapstructure:"curve"`
	Grid       bool    `mapstructure:"grid"`
}

type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
	PreviewSize int    `mapstructure:"preview_size"`
}

type VideoConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	FPS     float64 `mapstructure:"fps"`
	FFmpeg  string  `mapstructure:"ffmpeg"`
}

type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	AllowedUsers   []int64       `mapstructure:"allowed_users"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	PollingTimeout int           `mapstructure:"polling_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StoreConfig struct {
	RunsPath     string `mapstructure:"runs_path"`
	SettingsPath string `mapstructure:"settings_path"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	JSONFormat bool   `mapstructure:"json_format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendComfyUI)

	v.SetDefault("comfyui.base_url", "http://localhost:8188")
	v.SetDefault("comfyui.websocket_url", "ws://localhost:8188/ws")
	v.SetDefault("comfyui.txt2img_workflow", "workflows/txt2img.json")
	v.SetDefault("comfyui.img2img_workflow", "workflows/img2img.json")
	v.SetDefault("comfyui.timeout", "5m")

	v.SetDefault("sdapi.base_url", "http://localhost:7860")
	v.SetDefault("sdapi.timeout", "5m")

	v.SetDefault("generation.model", "")
	v.SetDefault("generation.sampler", "euler")
	v.SetDefault("generation.steps", 20)
	v.SetDefault("generation.width", 512)
	v.SetDefault("generation.height", 512)
	v.SetDefault("generation.cfg_scale", 7.0)
	v.SetDefault("generation.seed", -1)
	v.SetDefault("generation.negative_prompt", "")

	v.SetDefault("morph.mode", "direct")
	v.SetDefault("morph.steps", 25)
	v.SetDefault("morph.min_denoise", 0.1)
	v.SetDefault("morph.max_denoise", 1.0)
	v.SetDefault("morph.alt_cfg", false)
	v.SetDefault("morph.gradual_cfg", false)
	v.SetDefault("morph.min_cfg", 3.0)
	v.SetDefault("morph.max_cfg", 7.0)
	v.SetDefault("morph.source", string(morph.SourcePrevious))
	v.SetDefault("morph.curve", "linear")
	v.SetDefault("morph.grid", true)

	v.SetDefault("output.dir", "outputs")
	v.SetDefault("output.jpeg_quality", 80)
	v.SetDefault("output.preview_size", 1280)

	v.SetDefault("video.enabled", false)
	v.SetDefault("video.fps", 10.0)
	v.SetDefault("video.ffmpeg", "ffmpeg")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.allowed_users", []int64{})
	v.SetDefault("telegram.max_concurrent", 1)
	v.SetDefault("telegram.polling_timeout", 60)
	v.SetDefault("telegram.request_timeout", "30m")

	v.SetDefault("store.runs_path", "data/runs.db")
	v.SetDefault("store.settings_path", "data/settings.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json_format", false)
}

// Load reads and validates the configuration
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Read loads configuration from file, env and defaults without validating
// it, for callers that apply overrides first. An empty path searches the
// usual locations; a missing file there is not an error.
func Read(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/prompt-morph")
	}

	// Environment variables
	v.SetEnvPrefix("PROMPT_MORPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks everything the CLI and the bot share
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendComfyUI:
		if c.ComfyUI.Txt2ImgWorkflow == "" {
			return fmt.Errorf("comfyui.txt2img_workflow is required")
		}
	case BackendSDAPI:
		if c.SDAPI.BaseURL == "" {
			return fmt.Errorf("sdapi.base_url is required")
		}
	default:
		return fmt.Errorf("backend must be %s or %s, got %q", BackendComfyUI, BackendSDAPI, c.Backend)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("output.jpeg_quality must be between 1 and 100")
	}
	if err := c.MorphOptions().Validate(); err != nil {
		return err
	}
	return nil
}

// ValidateTelegram checks the settings only the bot needs
func (c *Config) ValidateTelegram() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if len(c.Telegram.AllowedUsers) == 0 {
		return fmt.Errorf("telegram.allowed_users must contain at least one user ID")
	}
	return nil
}

// Settings is the shared generation settings of every step
func (c *Config) Settings() morph.Settings {
	return morph.Settings{
		Model:    c.Generation.Model,
		Sampler:  c.Generation.Sampler,
		Steps:    c.Generation.Steps,
		Width:    c.Generation.Width,
		Height:   c.Generation.Height,
		CFGScale: c.Generation.CFGScale,
	}
}

// MorphOptions converts the configured defaults into run options
func (c *Config) MorphOptions() morph.Options {
	return morph.Options{
		Mode:       c.Morph.Mode,
		Steps:      c.Morph.Steps,
		Seed:       c.Generation.Seed,
		Video:      c.Video.Enabled,
		FPS:        c.Video.FPS,
		Grid:       c.Morph.Grid,
		MinDenoise: c.Morph.MinDenoise,
		MaxDenoise: c.Morph.MaxDenoise,
		AltCFG:     c.Morph.AltCFG,
		GradualCFG: c.Morph.GradualCFG,
		MinCFG:     c.Morph.MinCFG,
		MaxCFG:     c.Morph.MaxCFG,
		Source:     morph.SourcePolicy(c.Morph.Source),
		Curve:      c.Morph.Curve,
		Generation: c.Settings(),
	}
}
