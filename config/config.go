package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort    int    `yaml:"HTTPPort"`
	RPCPort     int    `yaml:"RPCPort"`
	MetricsPort int    `yaml:"MetricsPort"`
	LogMode     string `yaml:"logMode"`

	APIBaseURL       string        `yaml:"apiBaseUrl"`
	ManagementAPIURL string        `yaml:"managementApiUrl"`
	ModelName        string        `yaml:"modelName"`
	ModelVersion     string        `yaml:"modelVersion"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`

	CanvasWidth  int     `yaml:"canvasWidth"`
	CanvasHeight int     `yaml:"canvasHeight"`
	BrushSize    int     `yaml:"brushSize"`
	JPEGQuality  float64 `yaml:"jpegQuality"`

	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	DebugLogLines int           `yaml:"debugLogLines"`
}

func Default() Config {
	return Config{
		HTTPPort:         8080,
		RPCPort:          50051,
		MetricsPort:      50053,
		LogMode:          "production",
		APIBaseURL:       "http://localhost:8085",
		ManagementAPIURL: "http://localhost:8086",
		ModelName:        "drawn_humanoid_detector",
		ModelVersion:     "3.9",
		CanvasWidth:      512,
		CanvasHeight:     512,
		BrushSize:        5,
		JPEGQuality:      0.8,
		IdleTimeout:      30 * time.Minute,
		DebugLogLines:    500,
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides. A missing file is not an error. The returned warnings describe
// values that were out of range and got replaced.
func Load(path string) (Config, []string, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return cfg, nil, err
	}
	return cfg, cfg.normalize(), nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"SKETCH_API_BASE_URL":       &c.APIBaseURL,
		"SKETCH_MANAGEMENT_API_URL": &c.ManagementAPIURL,
		"SKETCH_MODEL_NAME":         &c.ModelName,
		"SKETCH_MODEL_VERSION":      &c.ModelVersion,
		"SKETCH_LOG_MODE":           &c.LogMode,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v := os.Getenv("SKETCH_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SKETCH_HTTP_PORT: %w", err)
		}
		c.HTTPPort = port
	}
	return nil
}

func (c *Config) normalize() []string {
	def := Default()
	var warnings []string
	fix := func(bad bool, msg string, apply func()) {
		if bad {
			apply()
			warnings = append(warnings, msg)
		}
	}
	fix(c.CanvasWidth <= 0 || c.CanvasHeight <= 0, "Invalid canvas size in config, defaulting to 512x512", func() {
		c.CanvasWidth, c.CanvasHeight = def.CanvasWidth, def.CanvasHeight
	})
	fix(c.BrushSize <= 0, "Invalid brushSize in config, defaulting to 5", func() {
		c.BrushSize = def.BrushSize
	})
	fix(c.JPEGQuality <= 0 || c.JPEGQuality > 1, "jpegQuality must be in (0, 1], defaulting to 0.8", func() {
		c.JPEGQuality = def.JPEGQuality
	})
	fix(c.IdleTimeout <= 0, "Invalid idleTimeout in config, defaulting to 30m", func() {
		c.IdleTimeout = def.IdleTimeout
	})
	fix(c.RequestTimeout < 0, "Negative requestTimeout in config, disabling it", func() {
		c.RequestTimeout = 0
	})
	fix(c.ModelName == "", "Empty modelName in config, defaulting to drawn_humanoid_detector", func() {
		c.ModelName = def.ModelName
	})
	fix(c.DebugLogLines <= 0, "Invalid debugLogLines in config, defaulting to 500", func() {
		c.DebugLogLines = def.DebugLogLines
	})
	return warnings
}
