package server

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/cyclopcam/roadsign/pkg/perfstats"
)

var ErrQueueFull = errors.New("Detection queue is full")
var ErrQueueClosed = errors.New("Detection queue is closed")

// How often we log inference timing
const queueStatsInterval = 5 * time.Minute

type detectResult struct {
	objects []nn.ObjectDetection
	err     error
}

type detectJob struct {
	ctx    context.Context
	img    image.Image
	result chan detectResult
}

// detectQueue bounds the number of images that are being processed, or waiting to be processed.
// Requests that arrive when the queue is full are rejected immediately, instead of
// piling up behind a slow detector.
type detectQueue struct {
	log      logs.Log
	detector nn.ObjectDetector
	tiling   bool
	workers  int
	jobs     chan detectJob
	stop     chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
	timing   perfstats.SyncTimeAccumulator
	nSkipped atomic.Int64
}

func newDetectQueue(log logs.Log, detector nn.ObjectDetector, workers, queueSize int, tiling bool) *detectQueue {
	return &detectQueue{
		log:      log,
		detector: detector,
		tiling:   tiling,
		workers:  max(1, workers),
		jobs:     make(chan detectJob, queueSize),
		stop:     make(chan struct{}),
	}
}

func (q *detectQueue) Start() {
	q.log.Infof("Starting %v detection workers (queue size %v, tiling %v)", q.workers, cap(q.jobs), q.tiling)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.wg.Add(1)
	go q.statsLoop()
}

// Close stops the workers. Jobs that are still in the queue are abandoned.
func (q *detectQueue) Close() {
	if q.closed.Swap(true) {
		return
	}
	close(q.stop)
	q.wg.Wait()
}

// Detect runs the detector on img, via one of the workers.
// Returns ErrQueueFull if there is no space in the queue.
func (q *detectQueue) Detect(ctx context.Context, img image.Image) ([]nn.ObjectDetection, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	job := detectJob{
		ctx:    ctx,
		img:    img,
		result: make(chan detectResult, 1),
	}
	select {
	case q.jobs <- job:
	default:
		return nil, ErrQueueFull
	}
	select {
	case r := <-job.result:
		return r.objects, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.stop:
		return nil, ErrQueueClosed
	}
}

func (q *detectQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case job := <-q.jobs:
			job.result <- q.run(job)
		}
	}
}

func (q *detectQueue) run(job detectJob) detectResult {
	// The client has gone away while this job was waiting
	if err := job.ctx.Err(); err != nil {
		q.nSkipped.Add(1)
		return detectResult{err: err}
	}
	start := time.Now()
	var objects []nn.ObjectDetection
	var err error
	if q.tiling {
		objects, err = nn.TiledInference(job.ctx, q.detector, job.img, 1)
	} else {
		objects, err = q.detector.DetectObjects(job.ctx, job.img)
	}
	if err == nil {
		q.timing.Since(start)
	}
	return detectResult{objects: objects, err: err}
}

func (q *detectQueue) statsLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(queueStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			s := q.timing.SnapshotAndReset()
			skipped := q.nSkipped.Swap(0)
			if s.Samples != 0 || skipped != 0 {
				q.log.Infof("Inference: %v images, average %v, max %v. %v abandoned by client", s.Samples, s.Average().Round(time.Millisecond), s.Max.Round(time.Millisecond), skipped)
			}
		}
	}
}
