package server

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestQueueDetect(t *testing.T) {
	det := newDummyDetector(testObjects())
	q := newDetectQueue(logs.NewTestingLog(t), det, 2, 4, false)
	q.Start()
	defer q.Close()

	objects, err := q.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)))
	require.NoError(t, err)
	require.Len(t, objects, len(testObjects()))
	require.Equal(t, int64(1), q.timing.Snapshot().Samples)
}

func TestQueueSkipsCancelledJobs(t *testing.T) {
	det := newDummyDetector(nil)
	q := newDetectQueue(logs.NewTestingLog(t), det, 1, 4, false)
	// Don't start the workers yet, so that the job waits in the queue until after its context is cancelled
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := q.Detect(ctx, image.NewNRGBA(image.Rect(0, 0, 10, 10)))
		done <- err
	}()
	require.Eventually(t, func() bool { return len(q.jobs) == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	q.Start()
	defer q.Close()
	require.Eventually(t, func() bool { return q.nSkipped.Load() == 1 }, 5*time.Second, time.Millisecond)
	require.Equal(t, int32(0), det.calls.Load())
}

func TestQueueFull(t *testing.T) {
	det := newDummyDetector(nil)
	q := newDetectQueue(logs.NewTestingLog(t), det, 1, 1, false)
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))

	// Without workers, the first job fills the queue
	ctx, cancel := context.WithCancel(context.Background())
	go q.Detect(ctx, img)
	require.Eventually(t, func() bool { return len(q.jobs) == 1 }, 5*time.Second, time.Millisecond)

	_, err := q.Detect(context.Background(), img)
	require.ErrorIs(t, err, ErrQueueFull)
	cancel()
}

func TestQueueClosed(t *testing.T) {
	q := newDetectQueue(logs.NewTestingLog(t), newDummyDetector(nil), 1, 1, false)
	q.Start()
	q.Close()
	q.Close()
	_, err := q.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)))
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueTiling(t *testing.T) {
	det := newDummyDetector([]nn.ObjectDetection{{Class: 0, Confidence: 0.9, Box: nn.MakeBox(1, 1, 5, 5)}})
	det.config.Width = 128
	det.config.Height = 128
	q := newDetectQueue(logs.NewTestingLog(t), det, 1, 1, true)
	q.Start()
	defer q.Close()

	// Small images are not tiled
	_, err := q.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 100, 100)))
	require.NoError(t, err)
	require.Equal(t, int32(1), det.calls.Load())

	_, err = q.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 400, 128)))
	require.NoError(t, err)
	require.Greater(t, det.calls.Load(), int32(2))
}
