package signdet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/cyclopcam/roadsign/pkg/signs"
)

// Params control which raw detections survive into a Response.
// These are fixed for the lifetime of a Pipeline, and are never set per request.
type Params struct {
	ConfidenceThreshold float32 // Keep candidates with confidence > ConfidenceThreshold
	IoUThreshold        float32 // Discard same-code candidates with IoU > IoUThreshold
}

func DefaultParams() Params {
	return Params{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		IoUThreshold:        DefaultIoUThreshold,
	}
}

// Validate returns an error if either threshold is outside of the range that makes sense
func (p Params) Validate() error {
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold >= 1 {
		return fmt.Errorf("confidenceThreshold %v must be in [0, 1)", p.ConfidenceThreshold)
	}
	if p.IoUThreshold < 0 || p.IoUThreshold > 1 {
		return fmt.Errorf("iouThreshold %v must be in [0, 1]", p.IoUThreshold)
	}
	return nil
}

// Pipeline holds everything that is needed to turn raw network output into a Response.
// It is created once at startup and never modified, so a single Pipeline can
// process any number of images concurrently.
type Pipeline struct {
	log           logs.Log
	catalog       *signs.Catalog
	params        Params
	signImagesDir string // Directory of <code>.png illustrations. May be empty.
}

func NewPipeline(log logs.Log, catalog *signs.Catalog, params Params, signImagesDir string) *Pipeline {
	return &Pipeline{
		log:           log,
		catalog:       catalog,
		params:        params,
		signImagesDir: signImagesDir,
	}
}

func (p *Pipeline) Catalog() *signs.Catalog {
	return p.catalog
}

func (p *Pipeline) Params() Params {
	return p.params
}

// Process filters, names, and deduplicates the raw detections of one image.
func (p *Pipeline) Process(raw []nn.ObjectDetection, imageWidth, imageHeight int) *Response {
	accepted := FilterByConfidence(raw, p.params.ConfidenceThreshold)
	if len(accepted) != len(raw) {
		p.log.Debugf("Skipped %v detections with confidence <= %.0f%%", len(raw)-len(accepted), p.params.ConfidenceThreshold*100)
	}

	// Every accepted candidate is logged, including those that NMS removes below
	dets := make([]Detection, 0, len(accepted))
	for _, r := range accepted {
		d := NewDetection(p.catalog, r)
		p.logSignImage(d)
		dets = append(dets, d)
	}

	kept := SuppressDuplicates(p.log, dets, p.params.IoUThreshold)
	p.log.Infof("Detections: %v before NMS, %v after NMS", len(dets), len(kept))

	return &Response{
		Detections: kept,
		ImageSize: ImageSize{
			Width:  imageWidth,
			Height: imageHeight,
		},
	}
}

// SignImagePath returns the path of the illustration for a sign code, or an empty string
// if we have no sign image directory.
func (p *Pipeline) SignImagePath(code string) string {
	if p.signImagesDir == "" {
		return ""
	}
	return filepath.Join(p.signImagesDir, filepath.Base(code)+".png")
}

// HasSignImage returns true if there is an illustration for the sign code
func (p *Pipeline) HasSignImage(code string) bool {
	path := p.SignImagePath(code)
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// A missing illustration is worth knowing about, but it's not the client's problem
func (p *Pipeline) logSignImage(d Detection) {
	if p.signImagesDir == "" {
		return
	}
	state := "FOUND"
	if !p.HasSignImage(d.Code) {
		state = "MISSING"
	}
	p.log.Infof("Sign '%v' (confidence: %.1f%%) image %v at %v", d.Code, d.Confidence*100, state, p.SignImagePath(d.Code))
}
