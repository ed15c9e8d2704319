// Package remotedet runs object detection on an inference sidecar, over HTTP.
//
// The sidecar accepts
//
//	POST <url>  {"image": "<base64 PNG>", "width": 1280, "height": 720, "model": "signs.onnx"}
//
// and responds with
//
//	{"detections": [{"classId": 3, "confidence": 0.91, "bbox": [x1, y1, x2, y2]}]}
//
// Boxes are in pixels of the image that was sent.
package remotedet

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/cyclopcam/roadsign/pkg/requests"
	"github.com/disintegration/imaging"
)

type Options struct {
	URL     string        // Prediction endpoint, eg http://localhost:8001/predict
	Model   string        // Name of the model that the sidecar should run. May be empty.
	Timeout time.Duration // Per request. Zero means no timeout beyond the caller's context.
	Floor   float32       // Candidates below this score are dropped
}

type predictRequest struct {
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Model  string `json:"model,omitempty"`
}

type predictResponse struct {
	Detections []nn.ObjectDetection `json:"detections"`
}

// Detector implements nn.ObjectDetector by forwarding images to a sidecar
type Detector struct {
	log       logs.Log
	url       string
	healthURL string
	model     string
	floor     float32
	config    nn.ModelConfig
	client    *http.Client
	closed    atomic.Bool
}

func NewDetector(log logs.Log, modelConfig *nn.ModelConfig, opt Options) (*Detector, error) {
	if opt.URL == "" {
		return nil, fmt.Errorf("Remote detector URL is empty")
	}
	config := nn.NewDefaultModelConfig()
	if modelConfig != nil {
		*config = *modelConfig
	}
	floor := opt.Floor
	if floor <= 0 {
		floor = nn.DefaultBackendFloor
	}
	d := &Detector{
		log:       log,
		url:       opt.URL,
		healthURL: HealthURL(opt.URL),
		model:     opt.Model,
		floor:     floor,
		config:    *config,
		client:    &http.Client{Timeout: opt.Timeout},
	}
	log.Infof("Using remote detector at %v", opt.URL)
	return d, nil
}

// HealthURL returns the health endpoint of the sidecar that serves predictURL.
// The last path element of predictURL is replaced with "health".
func HealthURL(predictURL string) string {
	base := strings.TrimRight(predictURL, "/")
	if slash := strings.LastIndexByte(base, '/'); slash > len("https://") {
		base = base[:slash]
	}
	return base + "/health"
}

func (d *Detector) Close() {
	if d.closed.Swap(true) {
		return
	}
	d.client.CloseIdleConnections()
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *Detector) DetectObjects(ctx context.Context, img image.Image) ([]nn.ObjectDetection, error) {
	if d.closed.Load() {
		return nil, nn.ErrDetectorClosed
	}
	b := img.Bounds()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("Failed to encode image: %w", err)
	}
	req := predictRequest{
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:  b.Dx(),
		Height: b.Dy(),
		Model:  d.model,
	}
	resp, err := requests.RequestJSON[predictResponse](ctx, d.client, "POST", d.url, &req)
	if err != nil {
		return nil, fmt.Errorf("Remote detector: %w", err)
	}

	dets := make([]nn.ObjectDetection, 0, len(resp.Detections))
	for _, r := range resp.Detections {
		if r.Confidence < d.floor {
			continue
		}
		r.Box = r.Box.Clip(float32(b.Dx()), float32(b.Dy()))
		if !r.Box.IsValid() {
			continue
		}
		dets = append(dets, r)
	}
	return dets, nil
}

// Health returns nil if the sidecar answers its health endpoint with a 2xx status
func (d *Detector) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", d.healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("Remote detector unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("Remote detector unhealthy: %v", resp.Status)
	}
	return nil
}

var _ nn.ObjectDetector = (*Detector)(nil)
var _ nn.HealthChecker = (*Detector)(nil)
