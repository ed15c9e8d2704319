package onnxdet

import (
	"image"
	"image/color"

	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/disintegration/imaging"
)

// Color of the letterbox bars. This is what the YOLO training pipeline pads with.
var PadColor = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// Letterbox scales an image to fit inside the network input, preserving aspect ratio,
// and centers it between two bars of padding.
type Letterbox struct {
	SrcWidth  int
	SrcHeight int
	DstWidth  int
	DstHeight int
	ResizeW   int // Width of the scaled image, before padding
	ResizeH   int // Height of the scaled image, before padding
	XPad      int
	YPad      int
	Scale     float32 // Src -> Dst
}

func NewLetterbox(srcWidth, srcHeight, dstWidth, dstHeight int) Letterbox {
	lb := Letterbox{
		SrcWidth:  srcWidth,
		SrcHeight: srcHeight,
		DstWidth:  dstWidth,
		DstHeight: dstHeight,
		ResizeW:   dstWidth,
		ResizeH:   dstHeight,
	}
	scaleW := float32(dstWidth) / float32(srcWidth)
	scaleH := float32(dstHeight) / float32(srcHeight)
	lb.Scale = scaleH
	if scaleW < scaleH {
		lb.Scale = scaleW
		lb.ResizeH = max(1, int(float32(srcHeight)*lb.Scale+0.5))
	} else {
		lb.ResizeW = max(1, int(float32(srcWidth)*lb.Scale+0.5))
	}
	lb.ResizeW = min(lb.ResizeW, dstWidth)
	lb.ResizeH = min(lb.ResizeH, dstHeight)
	lb.XPad = (dstWidth - lb.ResizeW) / 2
	lb.YPad = (dstHeight - lb.ResizeH) / 2
	return lb
}

// IsIdentity is true if the source image can be fed to the network as-is
func (lb *Letterbox) IsIdentity() bool {
	return lb.SrcWidth == lb.DstWidth && lb.SrcHeight == lb.DstHeight
}

// Apply returns a DstWidth x DstHeight image
func (lb *Letterbox) Apply(img image.Image) *image.NRGBA {
	if lb.IsIdentity() {
		return imaging.Clone(img)
	}
	resized := imaging.Resize(img, lb.ResizeW, lb.ResizeH, imaging.Linear)
	dst := imaging.New(lb.DstWidth, lb.DstHeight, PadColor)
	return imaging.Paste(dst, resized, image.Pt(lb.XPad, lb.YPad))
}

// ToSource maps a box from network coordinates back into source image coordinates,
// clipped to the source image.
func (lb *Letterbox) ToSource(b nn.Box) nn.Box {
	xp := float32(lb.XPad)
	yp := float32(lb.YPad)
	out := nn.MakeBox(
		(b.X1()-xp)/lb.Scale,
		(b.Y1()-yp)/lb.Scale,
		(b.X2()-xp)/lb.Scale,
		(b.Y2()-yp)/lb.Scale,
	)
	return out.Clip(float32(lb.SrcWidth), float32(lb.SrcHeight))
}
