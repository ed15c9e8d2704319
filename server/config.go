package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cyclopcam/roadsign/pkg/nnload"
	"github.com/cyclopcam/roadsign/pkg/signdet"
	"gopkg.in/yaml.v3"
)

// Config is loaded from a YAML file, and then overridden by command line flags
type Config struct {
	Listen              string  `yaml:"listen"`         // eg ":8000"
	Model               string  `yaml:"model"`          // Path to the model weights
	Backend             string  `yaml:"backend"`        // "onnx" or "remote"
	OnnxRuntimeLib      string  `yaml:"onnxRuntimeLib"` // Path to libonnxruntime.so
	RemoteURL           string  `yaml:"remoteURL"`      // Inference sidecar, eg http://localhost:8001/predict
	RemoteTimeout       float64 `yaml:"remoteTimeout"`  // Seconds
	ClassFile           string  `yaml:"classes"`        // YOLO data.yaml, or a .txt with one class per line
	SignInfoFile        string  `yaml:"signInfo"`       // Pipe-delimited sign descriptions
	SignImagesDir       string  `yaml:"signImages"`     // Directory of <code>.png illustrations
	WWWDir              string  `yaml:"www"`            // Optional single page app
	ConfidenceThreshold float32 `yaml:"confidenceThreshold"`
	IoUThreshold        float32 `yaml:"iouThreshold"`
	Workers             int     `yaml:"workers"`       // Number of images processed concurrently
	QueueSize           int     `yaml:"queueSize"`     // Images waiting for a worker, before we return 503
	Tiling              bool    `yaml:"tiling"`        // Split large images into model-sized tiles
	MaxImageBytes       int64   `yaml:"maxImageBytes"` // Limit on the size of a predict request body
	RateLimit           int     `yaml:"rateLimit"`     // Predict requests per minute per IP. 0 = unlimited
}

func DefaultConfig() *Config {
	return &Config{
		Listen:              ":8000",
		Model:               "best.onnx",
		Backend:             nnload.BackendONNX,
		RemoteTimeout:       30,
		ClassFile:           "data.yaml",
		SignInfoFile:        "Thong-tin-bien-bao.txt",
		SignImagesDir:       "fdtest",
		ConfidenceThreshold: signdet.DefaultConfidenceThreshold,
		IoUThreshold:        signdet.DefaultIoUThreshold,
		Workers:             2,
		QueueSize:           16,
		MaxImageBytes:       32 * 1024 * 1024,
	}
}

// LoadConfig reads a YAML config file. Fields that are absent from the file keep their defaults.
// If filename is empty, the defaults are returned.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error parsing config file %v: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config file %v: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is empty")
	}
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1 (not %v)", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queueSize may not be negative (%v)", c.QueueSize)
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("maxImageBytes must be positive (%v)", c.MaxImageBytes)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rateLimit may not be negative (%v)", c.RateLimit)
	}
	if c.Backend == nnload.BackendRemote && c.RemoteURL == "" {
		return errors.New("remoteURL is required by the remote backend")
	}
	return nil
}

func (c *Config) Params() signdet.Params {
	return signdet.Params{
		ConfidenceThreshold: c.ConfidenceThreshold,
		IoUThreshold:        c.IoUThreshold,
	}
}

func (c *Config) LoadOptions() nnload.Options {
	return nnload.Options{
		Backend:           c.Backend,
		ModelFile:         c.Model,
		Threads:           c.Workers,
		ThreadsPerSession: 1,
		OnnxRuntimeLib:    c.OnnxRuntimeLib,
		RemoteURL:         c.RemoteURL,
		RemoteTimeout:     time.Duration(c.RemoteTimeout * float64(time.Second)),
	}
}
