package main

import (
	"flag"

	"prompt-morph/internal/config"
)

type cliFlags struct {
	configPath string
	prompts    string
	negatives  string
	backend    string

	mode       string
	steps      int
	seed       int64
	source     string
	curve      string
	minDenoise float64
	maxDenoise float64
	altCFG     bool
	gradualCFG bool
	minCFG     float64
	maxCFG     float64
	grid       bool

	video bool
	fps   float64
}

// parseFlags also reports which flags were given so that only those override
// the config file.
func parseFlags(fs *flag.FlagSet, args []string) (*cliFlags, map[string]bool, error) {
	f := &cliFlags{}
	fs.StringVar(&f.configPath, "config", "", "config file (default: search ., ./configs, /etc/prompt-morph)")
	fs.StringVar(&f.prompts, "prompts", "", "keyframe file, one \"[seed |] prompt\" per line, - for stdin")
	fs.StringVar(&f.negatives, "negatives", "", "negative prompt file, one per keyframe")
	fs.StringVar(&f.backend, "backend", "", "image backend: comfyui or sdapi")

	fs.StringVar(&f.mode, "mode", "", "interpolation mode: direct or derived")
	fs.IntVar(&f.steps, "steps", 0, "images per keyframe pair, 2-256")
	fs.Int64Var(&f.seed, "seed", -1, "seed for keyframes without one, -1 for random")
	fs.StringVar(&f.source, "source", "", "derived mode source image: previous or segment-start")
	fs.StringVar(&f.curve, "curve", "", "derived mode easing expression of t, e.g. t*t")
	fs.Float64Var(&f.minDenoise, "min-denoise", 0, "derived mode starting denoise strength")
	fs.Float64Var(&f.maxDenoise, "max-denoise", 0, "derived mode final denoise strength")
	fs.BoolVar(&f.altCFG, "alt-cfg", false, "derived mode: use -max-cfg instead of the generation cfg scale")
	fs.BoolVar(&f.gradualCFG, "gradual-cfg", false, "derived mode: raise cfg scale from -min-cfg to the maximum")
	fs.Float64Var(&f.minCFG, "min-cfg", 0, "derived mode starting cfg scale")
	fs.Float64Var(&f.maxCFG, "max-cfg", 0, "derived mode final cfg scale with -alt-cfg")
	fs.BoolVar(&f.grid, "grid", true, "save a contact sheet")

	fs.BoolVar(&f.video, "video", false, "also encode a video")
	fs.Float64Var(&f.fps, "fps", 0, "video frame rate")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

// apply overrides config values with the flags that were given
func (f *cliFlags) apply(cfg *config.Config, set map[string]bool) {
	if set["backend"] {
		cfg.Backend = f.backend
	}
	if set["mode"] {
		cfg.Morph.Mode = f.mode
	}
	if set["steps"] {
		cfg.Morph.Steps = f.steps
	}
	if set["seed"] {
		cfg.Generation.Seed = f.seed
	}
	if set["source"] {
		cfg.Morph.Source = f.source
	}
	if set["curve"] {
		cfg.Morph.Curve = f.curve
	}
	if set["min-denoise"] {
		cfg.Morph.MinDenoise = f.minDenoise
	}
	if set["max-denoise"] {
		cfg.Morph.MaxDenoise = f.maxDenoise
	}
	if set["alt-cfg"] {
		cfg.Morph.AltCFG = f.altCFG
	}
	if set["gradual-cfg"] {
		cfg.Morph.GradualCFG = f.gradualCFG
	}
	if set["min-cfg"] {
		cfg.Morph.MinCFG = f.minCFG
	}
	if set["max-cfg"] {
		cfg.Morph.MaxCFG = f.maxCFG
	}
	if set["grid"] {
		cfg.Morph.Grid = f.grid
	}
	if set["video"] {
		cfg.Video.Enabled = f.video
	}
	if set["fps"] {
		cfg.Video.FPS = f.fps
	}
}
