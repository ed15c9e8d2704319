package nn

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/bmharper/tiledinference"
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Run tiled inference on the image.
// We look at the width and height of the model, and if the image is larger, then we split the image
// up into tiles, and run each of those tiles through the model. Then, we merge the tiles back
// into a single dataset.
// If the model is larger than the image, then we just run the model directly, so it is safe
// to call TiledInference on any image, without incurring any performance loss.
// Returned boxes are relative to img.Bounds().Min.
func TiledInference(ctx context.Context, model ObjectDetector, img image.Image, nThreads int) ([]ObjectDetection, error) {
	config := model.Config()
	bounds := img.Bounds()

	// This is somewhat arbitrary, and should probably be some multiple of the model size.
	minPadding := 32

	tiling := tiledinference.MakeTiling(bounds.Dx(), bounds.Dy(), config.Width, config.Height, minPadding)
	if tiling.IsSingle() {
		return model.DetectObjects(ctx, img)
	}

	sub, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("Tiled inference needs an image that supports SubImage, but got %T", img)
	}

	tileQueue := make(chan tile, tiling.NumX*tiling.NumY)
	allTiles(tiling, tileQueue)
	close(tileQueue)

	var lock sync.Mutex
	allObjects := []ObjectDetection{}
	allBoxes := []tiledinference.Box{}

	nThreads = max(1, nThreads)
	detectionResults := make(chan error, nThreads)
	detectionThread := func() {
		for tile := range tileQueue {
			if err := ctx.Err(); err != nil {
				detectionResults <- err
				return
			}
			objects, boxes, err := detectTile(ctx, model, tiling, tile.x, tile.y, sub, bounds.Min)
			if err != nil {
				detectionResults <- err
				return
			}
			lock.Lock()
			allObjects = append(allObjects, objects...)
			allBoxes = append(allBoxes, boxes...)
			lock.Unlock()
		}
		detectionResults <- nil
	}

	for i := 0; i < nThreads; i++ {
		go detectionThread()
	}
	var firstError error
	for i := 0; i < nThreads; i++ {
		err := <-detectionResults
		if err != nil && firstError == nil {
			firstError = err
		}
	}
	if firstError != nil {
		return nil, firstError
	}

	finalClip := func(b Box) Box {
		return b.Clip(float32(bounds.Dx()), float32(bounds.Dy()))
	}

	merged := []ObjectDetection{}
	groups, mergedBoxes := tiledinference.MergeBoxes(tiling, allBoxes, nil)
	for igroup, group := range groups {
		// Start with the first object in the group
		newObj := allObjects[group[0]]
		r := mergedBoxes[igroup].Rect

		// Use the merged box, which can be larger than the first object in the group
		newObj.Box = finalClip(MakeBox(float32(r.X1), float32(r.Y1), float32(r.X2), float32(r.Y2)))

		// Use max(confidence) from all objects in the group
		for _, el := range group[1:] {
			newObj.Confidence = max(newObj.Confidence, allObjects[el].Confidence)
		}

		merged = append(merged, newObj)
	}

	return merged, nil
}

// Returns two parallel arrays
func detectTile(ctx context.Context, model ObjectDetector, tiling tiledinference.Tiling, tx, ty int, img subImager, origin image.Point) ([]ObjectDetection, []tiledinference.Box, error) {
	tileRect := tiling.TileRect(tx, ty)
	crop := img.SubImage(image.Rect(int(tileRect.X1), int(tileRect.Y1), int(tileRect.X2), int(tileRect.Y2)).Add(origin))
	objects, err := model.DetectObjects(ctx, crop)
	if err != nil {
		return nil, nil, err
	}
	boxes := make([]tiledinference.Box, 0, len(objects))
	for i, obj := range objects {
		box := tiledinference.Box{
			Rect: tiledinference.Rect{
				X1: int32(obj.Box.X1()),
				Y1: int32(obj.Box.Y1()),
				X2: int32(obj.Box.X2() + 0.5),
				Y2: int32(obj.Box.Y2() + 0.5),
			},
			Class: int32(obj.Class),
			Tile:  tiling.MakeTileIndex(tx, ty),
		}
		box.Rect.Offset(int32(tileRect.X1), int32(tileRect.Y1))
		objects[i].Box = obj.Box.Offset(float32(tileRect.X1), float32(tileRect.Y1))
		boxes = append(boxes, box)
	}
	return objects, boxes, nil
}

type tile struct {
	x int
	y int
}

func allTiles(tiling tiledinference.Tiling, ch chan tile) {
	for ty := 0; ty < tiling.NumY; ty++ {
		for tx := 0; tx < tiling.NumX; tx++ {
			ch <- tile{x: tx, y: ty}
		}
	}
}
