// Package signdet turns raw network output into the list of traffic signs that we
// report to a client: confidence filtering, duplicate suppression, and joining
// with the sign catalog.
package signdet

import (
	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/cyclopcam/roadsign/pkg/signs"
)

// Detection is one recognized traffic sign.
// Detections are values, and are never modified after construction.
type Detection struct {
	ClassID    int     `json:"classId"`
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Meaning    string  `json:"meaning"`
	Confidence float32 `json:"confidence"`
	BBox       nn.Box  `json:"bbox"`
}

// NewDetection resolves the class of a raw detection into a sign code, name and meaning.
// Code is never empty.
func NewDetection(catalog *signs.Catalog, raw nn.ObjectDetection) Detection {
	code := catalog.Code(raw.Class)
	info := catalog.Lookup(code)
	return Detection{
		ClassID:    raw.Class,
		Code:       code,
		Name:       info.Name,
		Meaning:    info.Meaning,
		Confidence: raw.Confidence,
		BBox:       raw.Box,
	}
}

type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Response is what we send back for a prediction request
type Response struct {
	Detections []Detection `json:"detections"`
	ImageSize  ImageSize   `json:"imageSize"`
}
