package nn

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
)

// Package nn is a Neural Network interface layer
// To load a model, use the nnload package.

// The model emits many low probability candidates. Anything below this is dropped inside
// the backend, before the service applies its own (much higher) acceptance threshold.
const DefaultBackendFloor = 0.01

// Default network input size, when the model has no config file alongside it.
const DefaultModelWidth = 640
const DefaultModelHeight = 640

var ErrDetectorClosed = errors.New("Detector is closed")

// ObjectDetection is an object that a neural network has found in an image.
// This is raw network output: class is an index into ModelConfig.Classes (or the
// service's class table), and the box is in the coordinate space of the image
// that was given to DetectObjects.
type ObjectDetection struct {
	Class      int     `json:"classId"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"bbox"`
}

// ObjectDetector is given an image, and returns zero or more detected objects
type ObjectDetector interface {
	// Close releases the resources of the detector (sessions, tensors, connections).
	Close()

	// DetectObjects returns the raw candidates found in the image.
	// Implementations must be safe for concurrent use.
	DetectObjects(ctx context.Context, img image.Image) ([]ObjectDetection, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the detector has been created.
	Config() *ModelConfig
}

// HealthChecker is implemented by detectors that depend on something outside of
// this process, such as an inference sidecar.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // eg 640
	Height       int      `json:"height"`       // eg 640
	Classes      []string `json:"classes"`      // optional. The service uses its own class table.
}

func NewDefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		Architecture: "yolov8",
		Width:        DefaultModelWidth,
		Height:       DefaultModelHeight,
	}
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := NewDefaultModelConfig()
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, fmt.Errorf("Error parsing model config %v: %w", filename, err)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("Invalid model size %vx%v in %v", config.Width, config.Height, filename)
	}
	return config, nil
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}
