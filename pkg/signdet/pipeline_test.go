package signdet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/cyclopcam/roadsign/pkg/signs"
	"github.com/stretchr/testify/require"
)

func testCatalog() *signs.Catalog {
	return signs.NewCatalog(
		map[int]string{0: "P.102", 1: "W.201a"},
		map[string]signs.Info{
			"P.102": {Code: "P.102", Name: "No entry", Meaning: "Vehicles may not enter"},
		},
	)
}

func TestNewDetectionUnknownClass(t *testing.T) {
	d := NewDetection(testCatalog(), nn.ObjectDetection{Class: 999, Confidence: 0.5, Box: nn.MakeBox(1, 2, 3, 4)})
	require.Equal(t, 999, d.ClassID)
	require.Equal(t, "class_999", d.Code)
	require.Equal(t, "class_999", d.Name)
	require.Equal(t, signs.PlaceholderMeaning, d.Meaning)
}

func TestNewDetectionKnownClassWithoutInfo(t *testing.T) {
	d := NewDetection(testCatalog(), nn.ObjectDetection{Class: 1, Confidence: 0.5})
	require.Equal(t, "W.201a", d.Code)
	require.Equal(t, "W.201a", d.Name)
	require.Equal(t, signs.PlaceholderMeaning, d.Meaning)
}

func TestPipelineProcess(t *testing.T) {
	p := NewPipeline(logs.NewTestingLog(t), testCatalog(), DefaultParams(), "")
	raw := []nn.ObjectDetection{
		{Class: 0, Confidence: 0.9, Box: nn.MakeBox(0, 0, 10, 10)},
		{Class: 0, Confidence: 0.7, Box: nn.MakeBox(1, 1, 10, 10)},
		{Class: 1, Confidence: 0.8, Box: nn.MakeBox(0, 0, 10, 10)},
		{Class: 1, Confidence: 0.30, Box: nn.MakeBox(50, 50, 60, 60)},
		{Class: 999, Confidence: 0.36, Box: nn.MakeBox(70, 70, 80, 80)},
	}
	resp := p.Process(raw, 640, 480)
	require.Equal(t, ImageSize{Width: 640, Height: 480}, resp.ImageSize)
	require.Len(t, resp.Detections, 3)
	require.Equal(t, "P.102", resp.Detections[0].Code)
	require.Equal(t, "No entry", resp.Detections[0].Name)
	require.Equal(t, "W.201a", resp.Detections[1].Code)
	require.Equal(t, "class_999", resp.Detections[2].Code)
}

func TestPipelineEmpty(t *testing.T) {
	p := NewPipeline(logs.NewTestingLog(t), testCatalog(), DefaultParams(), "")
	resp := p.Process(nil, 10, 20)
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	require.JSONEq(t, `{"detections":[],"imageSize":{"width":10,"height":20}}`, string(b))
}

func TestResponseJSON(t *testing.T) {
	resp := Response{
		Detections: []Detection{
			{ClassID: 3, Code: "P.102", Name: "No entry", Meaning: "m", Confidence: 0.5, BBox: nn.MakeBox(1, 2, 3, 4)},
		},
		ImageSize: ImageSize{Width: 5, Height: 6},
	}
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	require.JSONEq(t, `{"detections":[{"classId":3,"code":"P.102","name":"No entry","meaning":"m","confidence":0.5,"bbox":[1,2,3,4]}],"imageSize":{"width":5,"height":6}}`, string(b))
}

func TestSignImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "P.102.png"), []byte("png"), 0644))
	p := NewPipeline(logs.NewTestingLog(t), testCatalog(), DefaultParams(), dir)
	require.True(t, p.HasSignImage("P.102"))
	require.False(t, p.HasSignImage("W.201a"))
	require.Equal(t, filepath.Join(dir, "W.201a.png"), p.SignImagePath("W.201a"))

	// Illustrations are only logged, so a missing one doesn't change the response
	resp := p.Process([]nn.ObjectDetection{{Class: 1, Confidence: 0.9, Box: nn.MakeBox(0, 0, 1, 1)}}, 1, 1)
	require.Len(t, resp.Detections, 1)

	noDir := NewPipeline(logs.NewTestingLog(t), testCatalog(), DefaultParams(), "")
	require.Equal(t, "", noDir.SignImagePath("P.102"))
	require.False(t, noDir.HasSignImage("P.102"))
}

// infoLog keeps Info lines, and discards everything else
type infoLog struct {
	lines []string
}

func (l *infoLog) Close()                            {}
func (l *infoLog) Debugf(format string, a ...any)    {}
func (l *infoLog) Warnf(format string, a ...any)     {}
func (l *infoLog) Errorf(format string, a ...any)    {}
func (l *infoLog) Criticalf(format string, a ...any) {}
func (l *infoLog) Infof(format string, a ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, a...))
}

func (l *infoLog) count(substr string) int {
	n := 0
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func TestSignImagesLoggedBeforeNMS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "P.102.png"), []byte("png"), 0644))
	log := &infoLog{}
	p := NewPipeline(log, testCatalog(), DefaultParams(), dir)
	raw := []nn.ObjectDetection{
		{Class: 0, Confidence: 0.9, Box: nn.MakeBox(0, 0, 10, 10)},
		{Class: 0, Confidence: 0.8, Box: nn.MakeBox(1, 1, 10, 10)}, // duplicate
		{Class: 1, Confidence: 0.6, Box: nn.MakeBox(20, 20, 30, 30)},
		{Class: 1, Confidence: 0.1, Box: nn.MakeBox(40, 40, 50, 50)}, // rejected
	}
	resp := p.Process(raw, 100, 100)
	require.Len(t, resp.Detections, 2)
	require.Equal(t, 2, log.count("'P.102'"))
	require.Equal(t, 2, log.count("FOUND"))
	require.Equal(t, 1, log.count("'W.201a'"))
	require.Equal(t, 1, log.count("MISSING"))
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	require.NoError(t, Params{ConfidenceThreshold: 0, IoUThreshold: 1}.Validate())
	require.Error(t, Params{ConfidenceThreshold: 1, IoUThreshold: 0.5}.Validate())
	require.Error(t, Params{ConfidenceThreshold: -0.1, IoUThreshold: 0.5}.Validate())
	require.Error(t, Params{ConfidenceThreshold: 0.35, IoUThreshold: 1.5}.Validate())
	require.Error(t, Params{ConfidenceThreshold: 0.35, IoUThreshold: -0.5}.Validate())
}
