package signdet

import (
	"slices"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/nn"
)

const DefaultConfidenceThreshold = 0.35
const DefaultIoUThreshold = 0.5

// FilterByConfidence returns the candidates whose confidence is strictly greater than threshold.
// The input slice is not modified.
func FilterByConfidence(raw []nn.ObjectDetection, threshold float32) []nn.ObjectDetection {
	out := make([]nn.ObjectDetection, 0, len(raw))
	for _, r := range raw {
		if r.Confidence > threshold {
			out = append(out, r)
		}
	}
	return out
}

// SuppressDuplicates performs greedy Non-Maximum Suppression, scoped to each sign code.
//
// Detections are visited from highest to lowest confidence. Each visited detection is kept,
// and every remaining detection with the same code whose IoU with it is greater than
// iouThreshold is discarded. Detections with different codes never suppress each other,
// no matter how much they overlap. Equal confidences keep their input order.
//
// The input slice is not modified. log may be nil.
func SuppressDuplicates(log logs.Log, dets []Detection, iouThreshold float32) []Detection {
	if len(dets) == 0 {
		return []Detection{}
	}

	pool := slices.Clone(dets)
	slices.SortStableFunc(pool, func(a, b Detection) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	kept := make([]Detection, 0, len(pool))
	for len(pool) != 0 {
		best := pool[0]
		kept = append(kept, best)
		pool = survivors(log, best, pool[1:], iouThreshold)
	}
	return kept
}

// Returns a new slice with the members of pool that are not duplicates of best
func survivors(log logs.Log, best Detection, pool []Detection, iouThreshold float32) []Detection {
	remain := make([]Detection, 0, len(pool))
	for _, det := range pool {
		if det.Code != best.Code {
			remain = append(remain, det)
			continue
		}
		iou := best.BBox.IOU(det.BBox)
		if iou <= iouThreshold {
			remain = append(remain, det)
		} else if log != nil {
			log.Debugf("Removing duplicate '%v' (IoU=%.2f, conf=%.1f%% vs %.1f%%)", best.Code, iou, det.Confidence*100, best.Confidence*100)
		}
	}
	return remain
}
