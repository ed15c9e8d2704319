package nnload

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestModelConfigFile(t *testing.T) {
	require.Equal(t, "models/signs.json", ModelConfigFile("models/signs.onnx"))
	require.Equal(t, "models.d/signs.json", ModelConfigFile("models.d/signs"))
	require.Equal(t, "signs.json", ModelConfigFile("signs.pt"))
}

func TestLoadModelConfig(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "signs.onnx")
	log := logs.NewTestingLog(t)

	config, err := LoadModelConfig(log, model)
	require.NoError(t, err)
	require.Equal(t, 640, config.Width)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "signs.json"), []byte(`{"architecture":"yolo11","width":320,"height":256}`), 0644))
	config, err = LoadModelConfig(log, model)
	require.NoError(t, err)
	require.Equal(t, 320, config.Width)
	require.Equal(t, 256, config.Height)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "signs.json"), []byte(`{"width":0}`), 0644))
	_, err = LoadModelConfig(log, model)
	require.Error(t, err)
}

func TestLoadModelMissingFile(t *testing.T) {
	log := logs.NewTestingLog(t)
	_, err := LoadModel(log, Options{Backend: BackendRemote, ModelFile: filepath.Join(t.TempDir(), "nope.onnx"), RemoteURL: "http://localhost:1/predict"})
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadModel(log, Options{Backend: BackendRemote})
	require.Error(t, err)

	_, err = LoadModel(log, Options{Backend: BackendRemote, ModelFile: t.TempDir()})
	require.Error(t, err)
}

func TestLoadModelBackends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"detections":[{"classId":1,"confidence":0.8,"bbox":[1,1,5,5]}]}`))
	}))
	defer srv.Close()

	log := logs.NewTestingLog(t)
	model := filepath.Join(t.TempDir(), "signs.onnx")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0644))

	_, err := LoadModel(log, Options{Backend: "tpu", ModelFile: model})
	require.ErrorIs(t, err, ErrUnknownBackend)

	det, err := LoadModel(log, Options{Backend: BackendRemote, ModelFile: model, RemoteURL: srv.URL + "/predict"})
	require.NoError(t, err)
	defer det.Close()
	dets, err := det.DetectObjects(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, 1, dets[0].Class)
}

type inProcessDetector struct{}

func (inProcessDetector) Close()                  {}
func (inProcessDetector) Config() *nn.ModelConfig { return nn.NewDefaultModelConfig() }
func (inProcessDetector) DetectObjects(ctx context.Context, img image.Image) ([]nn.ObjectDetection, error) {
	return nil, nil
}

func TestLoadModelChecksSidecarHealth(t *testing.T) {
	var healthy atomic.Bool
	var healthChecks atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			healthChecks.Add(1)
			if !healthy.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			return
		}
		w.Write([]byte(`{"detections":[]}`))
	}))
	defer srv.Close()

	model := filepath.Join(t.TempDir(), "signs.onnx")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0644))

	// An unhealthy sidecar doesn't prevent startup
	det, err := LoadModel(logs.NewTestingLog(t), Options{Backend: BackendRemote, ModelFile: model, RemoteURL: srv.URL + "/predict"})
	require.NoError(t, err)
	defer det.Close()
	require.EqualValues(t, 1, healthChecks.Load())

	require.Error(t, CheckHealth(det, time.Second))
	healthy.Store(true)
	require.NoError(t, CheckHealth(det, time.Second))
	require.EqualValues(t, 3, healthChecks.Load())

	require.NoError(t, CheckHealth(inProcessDetector{}, time.Second))
}
