package nn

import (
	"github.com/chewxy/math32"
)

// Box is an axis-aligned bounding box in pixel coordinates: [x1, y1, x2, y2].
// A valid box has x1 < x2 and y1 < y2.
// It serializes to JSON as a 4 element array, which is what our clients expect.
type Box [4]float32

func MakeBox(x1, y1, x2, y2 float32) Box {
	return Box{x1, y1, x2, y2}
}

func (b Box) X1() float32 { return b[0] }
func (b Box) Y1() float32 { return b[1] }
func (b Box) X2() float32 { return b[2] }
func (b Box) Y2() float32 { return b[3] }

func (b Box) Width() float32 {
	return b[2] - b[0]
}

func (b Box) Height() float32 {
	return b[3] - b[1]
}

func (b Box) Area() float32 {
	return b.Width() * b.Height()
}

// Intersection returns the overlapping region of the two boxes.
// If the boxes don't overlap, the result has zero width or height (never negative).
func (b Box) Intersection(o Box) Box {
	x1 := max(b[0], o[0])
	y1 := max(b[1], o[1])
	x2 := min(b[2], o[2])
	y2 := min(b[3], o[3])
	return Box{x1, y1, max(x1, x2), max(y1, y2)}
}

// Intersection over Union.
// Returns 0 if the boxes don't overlap, or if the union is empty (degenerate boxes).
func (b Box) IOU(o Box) float32 {
	inter := b.Intersection(o).Area()
	if inter <= 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union == 0 {
		return 0
	}
	return inter / union
}

// Clip the box to the rectangle [0,0,width,height]
func (b Box) Clip(width, height float32) Box {
	return Box{
		math32.Max(0, math32.Min(b[0], width)),
		math32.Max(0, math32.Min(b[1], height)),
		math32.Max(0, math32.Min(b[2], width)),
		math32.Max(0, math32.Min(b[3], height)),
	}
}

func (b Box) Offset(dx, dy float32) Box {
	return Box{b[0] + dx, b[1] + dy, b[2] + dx, b[3] + dy}
}

// IsValid returns true if the box has positive width and height
func (b Box) IsValid() bool {
	return b[2] > b[0] && b[3] > b[1]
}
