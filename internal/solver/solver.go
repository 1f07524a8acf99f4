// Package solver turns per-scene quality measurements into the two encode
// decisions: target resolution and target CQ. Encoding and measuring are
// injected as callbacks so the solvers stay free of tool plumbing.
package solver

import (
	"context"
	"errors"
	"math"
)

// ErrNoDecision is returned when too few measurements survive to decide;
// the caller keeps the default in place.
var ErrNoDecision = errors.New("not enough measurements for a decision")

// ClipFunc encodes one sample clip at the given resolution and CQ, seeking
// to start seconds. Returns false when the clip could not be produced.
type ClipFunc func(ctx context.Context, start int, res int, cq float64, output string) bool

// CQClipFunc encodes one sample clip at the given CQ; the resolution is
// fixed to the already-decided target by the caller.
type CQClipFunc func(ctx context.Context, start int, cq float64, output string) bool

// ScoreFunc runs the perceptual scorer once on a clip.
type ScoreFunc func(ctx context.Context, clip string) (float64, bool)

// VMAFFunc measures distorted against reference.
type VMAFFunc func(ctx context.Context, reference, distorted string) (float64, bool)

// Timestep returns the scene spacing in whole seconds for the given duration
// and scene count. Scene s sits at s*Timestep, s starting at 1.
func Timestep(duration float64, scenes int) int {
	return int(duration / float64(scenes+1))
}

// keepBest returns the first ceil(len*fraction) values of an already-sorted
// slice.
func keepBest(sorted []float64, fraction float64) []float64 {
	keep := int(math.Ceil(float64(len(sorted)) * fraction))
	if keep < 1 {
		keep = 1
	}
	if keep > len(sorted) {
		keep = len(sorted)
	}
	return sorted[:keep]
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
