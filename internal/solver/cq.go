package solver

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
)

// CQConfig parameterizes one constant-quality search.
type CQConfig struct {
	Workspace      string
	Duration       float64
	Scenes         int
	CQValues       []float64
	Reference      float64
	Threshold      float64
	KeepBestScenes float64
}

// SolveCQ searches for the highest CQ whose VMAF loss against a
// near-lossless reference stays at the threshold. Per scene it measures the
// loss at four anchor CQ values, fits a quadratic to the loss curve, and
// solves it for the threshold; the per-scene solutions are then reduced
// conservatively and snapped to the encoder's 0.5 step.
//
// The middle anchor is measured only once, on scene 1, and reused across
// scenes; it sits in the flat part of the curve where scene variation is
// small, and skipping the extra encodes saves a third of the work.
func SolveCQ(ctx context.Context, cfg CQConfig, clip CQClipFunc, vmaf VMAFFunc) (float64, error) {
	if len(cfg.CQValues) != 4 {
		return 0, fmt.Errorf("cq_values must hold exactly 4 values, got %d", len(cfg.CQValues))
	}
	cqValues := append([]float64(nil), cfg.CQValues...)
	sort.Float64s(cqValues)

	timestep := Timestep(cfg.Duration, cfg.Scenes)

	// Near-lossless reference per scene.
	references := make(map[int]string)
	for scene := 1; scene <= cfg.Scenes; scene++ {
		output := filepath.Join(cfg.Workspace, fmt.Sprintf("%d_reference.mkv", scene))
		if !clip(ctx, scene*timestep, cfg.Reference, output) {
			continue
		}
		references[scene] = output
	}

	// VMAF per (scene, cq) for the outer anchors and the knee.
	results := make(map[int]map[float64]float64)
	for _, position := range []int{0, 2, 3} {
		cq := cqValues[position]
		for scene := 1; scene <= cfg.Scenes; scene++ {
			ref, ok := references[scene]
			if !ok {
				continue
			}
			output := filepath.Join(cfg.Workspace, fmt.Sprintf("%d_%s.mkv", scene, formatCQ(cq)))
			if !clip(ctx, scene*timestep, cq, output) {
				continue
			}
			score, ok := vmaf(ctx, ref, output)
			if !ok {
				continue
			}
			if results[scene] == nil {
				results[scene] = make(map[float64]float64)
			}
			results[scene][cq] = score
		}
	}

	// Middle anchor once, on scene 1, shared by every scene.
	if ref, ok := references[1]; ok {
		middle := cqValues[1]
		output := filepath.Join(cfg.Workspace, fmt.Sprintf("1_%s.mkv", formatCQ(middle)))
		if clip(ctx, 1*timestep, middle, output) {
			if score, ok := vmaf(ctx, ref, output); ok {
				for scene := range results {
					results[scene][middle] = score
				}
			}
		}
	}

	// Quadratic fit on the VMAF-loss series of each complete scene.
	var solutions []float64
	for _, perCQ := range results {
		if len(perCQ) != 4 {
			continue
		}
		base := perCQ[cqValues[0]]
		xs := make([]float64, 4)
		ys := make([]float64, 4)
		for i, cq := range cqValues {
			xs[i] = cq
			ys[i] = base - perCQ[cq]
		}
		ys[0] = 0

		a, b, c, ok := fitQuadratic(xs, ys)
		if !ok || a == 0 {
			continue
		}
		discriminant := b*b - 4*a*(c-cfg.Threshold)
		if discriminant < 0 {
			continue
		}
		solutions = append(solutions, (-b+math.Sqrt(discriminant))/(2*a))
	}

	if len(solutions) == 0 {
		return 0, ErrNoDecision
	}

	// Lowest solutions are the most conservative; keep those.
	sort.Float64s(solutions)
	target := mean(keepBest(solutions, cfg.KeepBestScenes))

	return math.Round(target*2) / 2, nil
}

// fitQuadratic least-squares fits y = a*x^2 + b*x + c by solving the normal
// equations with Cramer's rule.
func fitQuadratic(xs, ys []float64) (a, b, c float64, ok bool) {
	n := float64(len(xs))
	var sx, sx2, sx3, sx4 float64
	var sy, sxy, sx2y float64
	for i := range xs {
		x, y := xs[i], ys[i]
		x2 := x * x
		sx += x
		sx2 += x2
		sx3 += x2 * x
		sx4 += x2 * x2
		sy += y
		sxy += x * y
		sx2y += x2 * y
	}

	det := det3(
		sx4, sx3, sx2,
		sx3, sx2, sx,
		sx2, sx, n,
	)
	if det == 0 {
		return 0, 0, 0, false
	}

	a = det3(
		sx2y, sx3, sx2,
		sxy, sx2, sx,
		sy, sx, n,
	) / det
	b = det3(
		sx4, sx2y, sx2,
		sx3, sxy, sx,
		sx2, sy, n,
	) / det
	c = det3(
		sx4, sx3, sx2y,
		sx3, sx2, sxy,
		sx2, sx, sy,
	) / det
	return a, b, c, true
}

func det3(a11, a12, a13, a21, a22, a23, a31, a32, a33 float64) float64 {
	return a11*(a22*a33-a23*a32) - a12*(a21*a33-a23*a31) + a13*(a21*a32-a22*a31)
}

func formatCQ(cq float64) string {
	return strconv.FormatFloat(cq, 'f', -1, 64)
}
