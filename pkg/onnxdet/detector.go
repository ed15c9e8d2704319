// Package onnxdet runs a YOLOv8/YOLO11 ONNX export in-process, via onnxruntime
package onnxdet

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/nn"
	ort "github.com/yalue/onnxruntime_go"
)

type Options struct {
	ModelFile         string
	SharedLibraryPath string  // Path to libonnxruntime.so. If empty, use the onnxruntime_go default.
	NumSessions       int     // Number of sessions in the pool. Each session can run one image at a time.
	ThreadsPerSession int     // Intra-op threads per session
	Floor             float32 // Candidates below this score are never returned
}

var envLock sync.Mutex
var envInitialized bool

// The onnxruntime environment is process-wide, and may only be initialized once
func initEnvironment(sharedLibraryPath string) error {
	envLock.Lock()
	defer envLock.Unlock()
	if envInitialized {
		return nil
	}
	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("Failed to initialize onnxruntime: %w", err)
	}
	envInitialized = true
	return nil
}

type session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *session) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// Detector implements nn.ObjectDetector on top of a pool of onnxruntime sessions
type Detector struct {
	log      logs.Log
	config   nn.ModelConfig
	floor    float32
	nClasses int
	nAnchors int
	pool     chan *session
	all      []*session
	closed   atomic.Bool
}

// NewDetector loads the model file, and creates the session pool.
// modelConfig may be nil, in which case the input size is read from the model.
func NewDetector(log logs.Log, modelConfig *nn.ModelConfig, opt Options) (*Detector, error) {
	if err := initEnvironment(opt.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opt.ModelFile)
	if err != nil {
		return nil, fmt.Errorf("Failed to inspect model %v: %w", opt.ModelFile, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("Expected 1 input and at least 1 output in %v, but found %v inputs and %v outputs", opt.ModelFile, len(inputs), len(outputs))
	}

	config := nn.NewDefaultModelConfig()
	if modelConfig != nil {
		*config = *modelConfig
	} else if dims := inputs[0].Dimensions; len(dims) == 4 && dims[2] > 0 && dims[3] > 0 {
		config.Height = int(dims[2])
		config.Width = int(dims[3])
	}

	nClasses, nAnchors, err := outputLayout(outputs[0].Dimensions, config)
	if err != nil {
		return nil, fmt.Errorf("Unsupported output %v of %v: %w", outputs[0].Name, opt.ModelFile, err)
	}

	numSessions := max(1, opt.NumSessions)
	threads := max(1, opt.ThreadsPerSession)
	floor := opt.Floor
	if floor <= 0 {
		floor = nn.DefaultBackendFloor
	}

	d := &Detector{
		log:      log,
		config:   *config,
		floor:    floor,
		nClasses: nClasses,
		nAnchors: nAnchors,
		pool:     make(chan *session, numSessions),
	}

	for i := 0; i < numSessions; i++ {
		s, err := newSession(opt.ModelFile, inputs[0].Name, outputs[0].Name, config, nClasses, nAnchors, threads)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.all = append(d.all, s)
		d.pool <- s
	}

	log.Infof("Loaded ONNX model %v (%vx%v, %v classes, %v anchors, %v sessions)", opt.ModelFile, config.Width, config.Height, nClasses, nAnchors, numSessions)
	return d, nil
}

// Returns the number of classes and anchors of a [1, 4+nc, N] detection head.
// Dynamic dimensions are inferred from the input size.
func outputLayout(dims ort.Shape, config *nn.ModelConfig) (nClasses, nAnchors int, err error) {
	if len(dims) != 3 {
		return 0, 0, fmt.Errorf("expected 3 dimensions, but shape is %v", dims)
	}
	if dims[1] > 4 {
		nClasses = int(dims[1]) - 4
	} else if len(config.Classes) != 0 {
		nClasses = len(config.Classes)
	} else {
		return 0, 0, fmt.Errorf("number of classes is unknown (shape %v)", dims)
	}
	if dims[2] > 0 {
		nAnchors = int(dims[2])
	} else {
		nAnchors = NumAnchors(config.Width, config.Height)
	}
	return nClasses, nAnchors, nil
}

func newSession(modelFile, inputName, outputName string, config *nn.ModelConfig, nClasses, nAnchors, threads int) (*session, error) {
	s := &session{}
	var err error
	inputShape := ort.NewShape(1, 3, int64(config.Height), int64(config.Width))
	s.input, err = ort.NewTensor(inputShape, make([]float32, 3*config.Width*config.Height))
	if err != nil {
		return nil, fmt.Errorf("Failed to create input tensor: %w", err)
	}
	outputShape := ort.NewShape(1, int64(4+nClasses), int64(nAnchors))
	s.output, err = ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("Failed to create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		s.destroy()
		return nil, err
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(threads)
	options.SetInterOpNumThreads(1)

	s.session, err = ort.NewAdvancedSession(modelFile,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{s.input},
		[]ort.Value{s.output},
		options)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("Failed to create ONNX session for %v: %w", modelFile, err)
	}
	return s, nil
}

func (d *Detector) Close() {
	if d.closed.Swap(true) {
		return
	}
	// Wait for in-flight inference to return its session
	for range d.all {
		s := <-d.pool
		s.destroy()
	}
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *Detector) DetectObjects(ctx context.Context, img image.Image) ([]nn.ObjectDetection, error) {
	if d.closed.Load() {
		return nil, nn.ErrDetectorClosed
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("Image is empty")
	}

	// Preprocess before acquiring a session, so that other goroutines can use it meanwhile
	lb := NewLetterbox(b.Dx(), b.Dy(), d.config.Width, d.config.Height)
	boxed := lb.Apply(img)

	var s *session
	select {
	case s = <-d.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() {
		d.pool <- s
	}()

	FillCHW(boxed, s.input.GetData())
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("ONNX inference failed: %w", err)
	}
	raw := DecodeYOLOv8(s.output.GetData(), d.nClasses, d.nAnchors, d.floor)

	dets := make([]nn.ObjectDetection, 0, len(raw))
	for _, r := range raw {
		r.Box = lb.ToSource(r.Box)
		if r.Box.IsValid() {
			dets = append(dets, r)
		}
	}
	return dets, nil
}

var _ nn.ObjectDetector = (*Detector)(nil)
