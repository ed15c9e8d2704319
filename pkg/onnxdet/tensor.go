package onnxdet

import (
	"image"

	"github.com/cyclopcam/roadsign/pkg/nn"
)

// FillCHW writes img into dst as planar RGB, scaled to [0,1].
// dst must hold 3 * width * height floats.
func FillCHW(img *image.NRGBA, dst []float32) {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	plane := w * h
	r := dst[0:plane]
	g := dst[plane : 2*plane]
	b := dst[2*plane : 3*plane]
	const inv = 1.0 / 255
	i := 0
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			r[i] = float32(src[x*4]) * inv
			g[i] = float32(src[x*4+1]) * inv
			b[i] = float32(src[x*4+2]) * inv
			i++
		}
	}
}

// DecodeYOLOv8 decodes the [1, 4+nClasses, nAnchors] output of a YOLOv8/YOLO11 detection head.
// Each anchor produces at most one detection, of its highest scoring class.
// Anchors whose best score is below floor are dropped.
// Boxes are in network input coordinates.
func DecodeYOLOv8(output []float32, nClasses, nAnchors int, floor float32) []nn.ObjectDetection {
	if nClasses <= 0 || nAnchors <= 0 || len(output) < (4+nClasses)*nAnchors {
		return nil
	}
	dets := []nn.ObjectDetection{}
	for i := 0; i < nAnchors; i++ {
		bestCls := 0
		bestScore := output[4*nAnchors+i]
		for c := 1; c < nClasses; c++ {
			if s := output[(4+c)*nAnchors+i]; s > bestScore {
				bestScore = s
				bestCls = c
			}
		}
		if bestScore < floor {
			continue
		}
		cx := output[i]
		cy := output[nAnchors+i]
		w := output[2*nAnchors+i]
		h := output[3*nAnchors+i]
		dets = append(dets, nn.ObjectDetection{
			Class:      bestCls,
			Confidence: bestScore,
			Box:        nn.MakeBox(cx-w/2, cy-h/2, cx+w/2, cy+h/2),
		})
	}
	return dets
}

// NumAnchors returns the number of anchors of a YOLOv8 head with strides 8, 16 and 32
func NumAnchors(width, height int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		n += (width / stride) * (height / stride)
	}
	return n
}
