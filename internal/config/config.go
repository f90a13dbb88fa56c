// Package config loads sketchcam settings from defaults, an optional
// sketchcam.yaml, SKETCHCAM_* environment variables and command line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// SKETCHCAM_PROCESS_TOP_X=3.
const EnvPrefix = "SKETCHCAM"

// Config is the complete application configuration.
type Config struct {
	Output   OutputConfig   `mapstructure:"output"`
	Log      LogConfig      `mapstructure:"log"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Detector DetectorConfig `mapstructure:"detector"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Sketch   SketchConfig   `mapstructure:"sketch"`
	Process  ProcessConfig  `mapstructure:"process"`
}

type OutputConfig struct {
	Dir   string `mapstructure:"dir"`
	Debug bool   `mapstructure:"debug"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Dir, when set, receives a dated log file per run.
	Dir string `mapstructure:"dir"`
}

type CameraConfig struct {
	// Backend is ffmpeg, gocv or none.
	Backend string        `mapstructure:"backend"`
	Device  string        `mapstructure:"device"`
	Format  string        `mapstructure:"format"`
	Binary  string        `mapstructure:"binary"`
	Width   int           `mapstructure:"width"`
	Height  int           `mapstructure:"height"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DetectorConfig struct {
	// Backend is shapes, onnx or worker.
	Backend string `mapstructure:"backend"`
	Model   string `mapstructure:"model"`
	Labels  string `mapstructure:"labels"`
	Library string `mapstructure:"library"`
	// Command is the worker command line, split on whitespace.
	Command       string `mapstructure:"command"`
	MaxDetections int    `mapstructure:"max_detections"`
	Threads       int    `mapstructure:"threads"`
}

type DatasetConfig struct {
	Dir     string `mapstructure:"dir"`
	Mapping string `mapstructure:"mapping"`
}

type SketchConfig struct {
	StrokeWidth float64 `mapstructure:"stroke_width"`
	StrokeColor string  `mapstructure:"stroke_color"`
	Background  string  `mapstructure:"background"`
}

type ProcessConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	TopX      int     `mapstructure:"top_x"`
	MaxDim    int     `mapstructure:"max_dim"`
}

// Backends.
const (
	CameraFFmpeg = "ffmpeg"
	CameraGoCV   = "gocv"
	CameraNone   = "none"

	DetectorShapes = "shapes"
	DetectorONNX   = "onnx"
	DetectorWorker = "worker"
)

// Defaults returns the built-in configuration.
func Defaults() map[string]any {
	return map[string]any{
		"output.dir":              "images",
		"output.debug":            false,
		"log.level":               "info",
		"log.dir":                 "",
		"camera.backend":          CameraNone,
		"camera.device":           "/dev/video0",
		"camera.format":           "",
		"camera.binary":           "ffmpeg",
		"camera.width":            640,
		"camera.height":           480,
		"camera.timeout":          "10s",
		"detector.backend":        DetectorShapes,
		"detector.model":          "",
		"detector.labels":         "",
		"detector.library":        "",
		"detector.command":        "",
		"detector.max_detections": 100,
		"detector.threads":        0,
		"dataset.dir":             "",
		"dataset.mapping":         "",
		"sketch.stroke_width":     2.0,
		"sketch.stroke_color":     "#000000",
		"sketch.background":       "#ffffff",
		"process.threshold":       0.3,
		"process.top_x":           0,
		"process.max_dim":         300,
	}
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes v into a Config. An empty
// file searches for sketchcam.yaml in the working directory and in
// $HOME/.sketchcam; a missing file there is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("sketchcam")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sketchcam")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and backend names.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Output.Dir == "" {
		add("output.dir must not be empty")
	}
	if c.Process.Threshold < 0 || c.Process.Threshold > 1 {
		add("process.threshold must be in [0,1], got %v", c.Process.Threshold)
	}
	if c.Process.TopX < 0 {
		add("process.top_x must be >= 0, got %d", c.Process.TopX)
	}
	if c.Process.MaxDim <= 0 {
		add("process.max_dim must be > 0, got %d", c.Process.MaxDim)
	}
	if c.Sketch.StrokeWidth <= 0 {
		add("sketch.stroke_width must be > 0, got %v", c.Sketch.StrokeWidth)
	}

	switch c.Camera.Backend {
	case CameraFFmpeg, CameraGoCV, CameraNone:
	default:
		add("camera.backend must be ffmpeg, gocv or none, got %q", c.Camera.Backend)
	}
	if c.Camera.Backend != CameraNone && (c.Camera.Width <= 0 || c.Camera.Height <= 0) {
		add("camera size must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}

	switch c.Detector.Backend {
	case DetectorShapes:
	case DetectorONNX:
		if c.Detector.Model == "" {
			add("detector.model is required for the onnx backend")
		}
	case DetectorWorker:
		if len(c.Detector.CommandArgs()) == 0 {
			add("detector.command is required for the worker backend")
		}
	default:
		add("detector.backend must be shapes, onnx or worker, got %q", c.Detector.Backend)
	}
	if c.Detector.MaxDetections <= 0 {
		add("detector.max_detections must be > 0, got %d", c.Detector.MaxDetections)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// CommandArgs splits the worker command line.
func (d DetectorConfig) CommandArgs() []string {
	return strings.Fields(d.Command)
}
