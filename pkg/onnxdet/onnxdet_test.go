package onnxdet

import (
	"image"
	"image/color"
	"testing"

	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestLetterbox(t *testing.T) {
	tests := []struct {
		srcWidth      int
		srcHeight     int
		expectedXPad  int
		expectedYPad  int
		expectedScale float32
	}{
		{1280, 720, 0, 140, 0.5},
		{800, 1000, 64, 0, 0.64},
		{800, 800, 0, 0, 0.8},
		{640, 640, 0, 0, 1},
	}
	for _, tc := range tests {
		lb := NewLetterbox(tc.srcWidth, tc.srcHeight, 640, 640)
		require.Equal(t, tc.expectedXPad, lb.XPad, "%vx%v", tc.srcWidth, tc.srcHeight)
		require.Equal(t, tc.expectedYPad, lb.YPad, "%vx%v", tc.srcWidth, tc.srcHeight)
		require.InDelta(t, tc.expectedScale, lb.Scale, 1e-6)
	}
}

func TestLetterboxRoundTrip(t *testing.T) {
	lb := NewLetterbox(1280, 720, 640, 640)
	// A box in source coordinates, mapped into the network, and back again
	src := nn.MakeBox(100, 200, 300, 400)
	net := nn.MakeBox(
		src.X1()*lb.Scale+float32(lb.XPad),
		src.Y1()*lb.Scale+float32(lb.YPad),
		src.X2()*lb.Scale+float32(lb.XPad),
		src.Y2()*lb.Scale+float32(lb.YPad),
	)
	back := lb.ToSource(net)
	for i := 0; i < 4; i++ {
		require.InDelta(t, src[i], back[i], 1e-3)
	}

	// Boxes that stray into the padding are clipped to the image
	clipped := lb.ToSource(nn.MakeBox(-10, 100, 700, 600))
	require.Equal(t, nn.MakeBox(0, 0, 1280, 720), clipped)
}

func TestLetterboxApply(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	lb := NewLetterbox(200, 100, 64, 64)
	out := lb.Apply(src)
	require.Equal(t, image.Rect(0, 0, 64, 64), out.Bounds())
	require.Equal(t, 16, lb.YPad)
	require.Equal(t, PadColor, out.NRGBAAt(32, 2))
	require.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(32, 32))

	same := NewLetterbox(64, 64, 64, 64)
	require.True(t, same.IsIdentity())
	require.Equal(t, image.Rect(0, 0, 64, 64), same.Apply(out).Bounds())
}

func TestFillCHW(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{255, 0, 51, 255})
	img.SetNRGBA(1, 0, color.NRGBA{0, 255, 102, 255})
	dst := make([]float32, 6)
	FillCHW(img, dst)
	expect := []float32{1, 0, 0, 1, 0.2, 0.4}
	for i := range expect {
		require.InDelta(t, expect[i], dst[i], 1e-6)
	}
}

func TestDecodeYOLOv8(t *testing.T) {
	// 2 classes, 3 anchors. Rows are cx, cy, w, h, score0, score1
	nAnchors := 3
	output := []float32{
		10, 50, 90, // cx
		10, 50, 90, // cy
		4, 10, 20, // w
		4, 10, 20, // h
		0.9, 0.001, 0.2, // class 0
		0.1, 0.005, 0.7, // class 1
	}
	dets := DecodeYOLOv8(output, 2, nAnchors, 0.01)
	require.Len(t, dets, 2)

	require.Equal(t, 0, dets[0].Class)
	require.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	require.Equal(t, nn.MakeBox(8, 8, 12, 12), dets[0].Box)

	require.Equal(t, 1, dets[1].Class)
	require.InDelta(t, 0.7, dets[1].Confidence, 1e-6)
	require.Equal(t, nn.MakeBox(80, 80, 100, 100), dets[1].Box)

	require.Nil(t, DecodeYOLOv8(output[:10], 2, nAnchors, 0.01))
	require.Len(t, DecodeYOLOv8(output, 2, nAnchors, 0), 3)
}

func TestNumAnchors(t *testing.T) {
	require.Equal(t, 8400, NumAnchors(640, 640))
	require.Equal(t, 2100, NumAnchors(320, 320))
}
