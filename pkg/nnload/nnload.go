package nnload

// Package nnload wraps up our 'nn' interface layer, and has concrete references to our
// neural network backends (onnxruntime, or a remote sidecar), so that you can just call
// one function to load a model, and not need to know about the implementation details.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/cyclopcam/roadsign/pkg/onnxdet"
	"github.com/cyclopcam/roadsign/pkg/remotedet"
)

const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

var ErrUnknownBackend = errors.New("Unknown NN backend")

// How long we wait for a sidecar to answer its health check at startup
const startupHealthTimeout = 5 * time.Second

type Options struct {
	Backend           string // "onnx" or "remote"
	ModelFile         string // Weights. Required for both backends, so that we fail early if the deployment is incomplete.
	Threads           int    // Number of images that can be processed concurrently
	OnnxRuntimeLib    string // Path to libonnxruntime.so
	RemoteURL         string // Sidecar prediction endpoint
	RemoteTimeout     time.Duration
	ThreadsPerSession int
}

// ModelConfigFile returns the path of the optional JSON config that lives alongside the weights.
// For "models/signs.onnx" this is "models/signs.json".
func ModelConfigFile(modelFile string) string {
	ext := ""
	if i := strings.LastIndexByte(modelFile, '.'); i > strings.LastIndexAny(modelFile, `/\`) {
		ext = modelFile[i:]
	}
	return strings.TrimSuffix(modelFile, ext) + ".json"
}

// LoadModelConfig reads the config that lives alongside the weights.
// If there is no such file, then the default config is returned.
func LoadModelConfig(log logs.Log, modelFile string) (*nn.ModelConfig, error) {
	configFile := ModelConfigFile(modelFile)
	config, err := nn.LoadModelConfig(configFile)
	if errors.Is(err, os.ErrNotExist) {
		config = nn.NewDefaultModelConfig()
		log.Infof("No model config at %v. Assuming %vx%v input", configFile, config.Width, config.Height)
		return config, nil
	} else if err != nil {
		return nil, err
	}
	return config, nil
}

// LoadModel loads a neural network from disk, or connects to one over the network.
// A missing model file is always an error.
func LoadModel(log logs.Log, opt Options) (nn.ObjectDetector, error) {
	if opt.ModelFile == "" {
		return nil, errors.New("No model file configured")
	}
	if st, err := os.Stat(opt.ModelFile); err != nil {
		return nil, fmt.Errorf("Model file not found: %w", err)
	} else if st.IsDir() {
		return nil, fmt.Errorf("Model file %v is a directory", opt.ModelFile)
	}

	config, err := LoadModelConfig(log, opt.ModelFile)
	if err != nil {
		return nil, err
	}

	switch opt.Backend {
	case BackendONNX, "":
		return onnxdet.NewDetector(log, config, onnxdet.Options{
			ModelFile:         opt.ModelFile,
			SharedLibraryPath: opt.OnnxRuntimeLib,
			NumSessions:       opt.Threads,
			ThreadsPerSession: opt.ThreadsPerSession,
			Floor:             nn.DefaultBackendFloor,
		})
	case BackendRemote:
		det, err := remotedet.NewDetector(log, config, remotedet.Options{
			URL:     opt.RemoteURL,
			Model:   modelName(opt.ModelFile),
			Timeout: opt.RemoteTimeout,
			Floor:   nn.DefaultBackendFloor,
		})
		if err != nil {
			return nil, err
		}
		// The sidecar may still be starting up, so this is not fatal
		if err := CheckHealth(det, startupHealthTimeout); err != nil {
			log.Warnf("Remote detector is not available yet: %v", err)
		}
		return det, nil
	default:
		return nil, fmt.Errorf("%w '%v'", ErrUnknownBackend, opt.Backend)
	}
}

// CheckHealth asks the detector whether its external service is reachable.
// Detectors that run in-process are always healthy.
func CheckHealth(det nn.ObjectDetector, timeout time.Duration) error {
	hc, ok := det.(nn.HealthChecker)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return hc.Health(ctx)
}

// eg "models/signs.onnx" -> "signs.onnx"
func modelName(modelFile string) string {
	if i := strings.LastIndexAny(modelFile, `/\`); i != -1 {
		return modelFile[i+1:]
	}
	return modelFile
}
