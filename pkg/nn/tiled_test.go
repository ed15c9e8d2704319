package nn

import (
	"context"
	"image"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// Finds a single 10x10 object in the middle of every image it's given
type centerDetector struct {
	config ModelConfig
	calls  atomic.Int32
}

func (d *centerDetector) Close() {}

func (d *centerDetector) Config() *ModelConfig {
	return &d.config
}

func (d *centerDetector) DetectObjects(ctx context.Context, img image.Image) ([]ObjectDetection, error) {
	d.calls.Add(1)
	w := float32(img.Bounds().Dx())
	h := float32(img.Bounds().Dy())
	return []ObjectDetection{
		{Class: 3, Confidence: 0.8, Box: MakeBox(w/2-5, h/2-5, w/2+5, h/2+5)},
	}, nil
}

func TestTiledInferenceSingle(t *testing.T) {
	d := &centerDetector{config: ModelConfig{Width: 640, Height: 640}}
	img := image.NewNRGBA(image.Rect(0, 0, 320, 240))
	objects, err := TiledInference(context.Background(), d, img, 2)
	require.NoError(t, err)
	require.Equal(t, int32(1), d.calls.Load())
	require.Len(t, objects, 1)
	require.Equal(t, MakeBox(155, 115, 165, 125), objects[0].Box)
}

func TestTiledInferenceMultiple(t *testing.T) {
	d := &centerDetector{config: ModelConfig{Width: 128, Height: 128}}
	img := image.NewNRGBA(image.Rect(0, 0, 400, 128))
	objects, err := TiledInference(context.Background(), d, img, 3)
	require.NoError(t, err)
	require.Greater(t, d.calls.Load(), int32(1))
	require.NotEmpty(t, objects)
	for _, obj := range objects {
		require.Equal(t, 3, obj.Class)
		require.Equal(t, float32(0.8), obj.Confidence)
		require.GreaterOrEqual(t, obj.Box.X1(), float32(0))
		require.LessOrEqual(t, obj.Box.X2(), float32(400))
		require.GreaterOrEqual(t, obj.Box.Y1(), float32(0))
		require.LessOrEqual(t, obj.Box.Y2(), float32(128))
	}
}

func TestTiledInferenceCancelled(t *testing.T) {
	d := &centerDetector{config: ModelConfig{Width: 64, Height: 64}}
	img := image.NewNRGBA(image.Rect(0, 0, 400, 400))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := TiledInference(ctx, d, img, 2)
	require.ErrorIs(t, err, context.Canceled)
}
