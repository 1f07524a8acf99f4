package solver

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mhradec/autocomp/internal/config"
	"github.com/mhradec/autocomp/internal/logger"
)

// minResolution is the floor of the decode walk.
const minResolution = 854

// ResolutionConfig parameterizes one resolution search.
type ResolutionConfig struct {
	Workspace      string
	Duration       float64
	Scenes         int
	Resolutions    []int
	CQ             float64
	KeepBestSlopes float64
	Runs           int
	Threads        int
	DecodeTable    config.DecodeTable
	OrigHRes       int
}

// SolveResolution encodes short clips of each scene at the lowest and highest
// test resolution, scores them with the perceptual scorer, and maps the
// average score-per-pixel slope onto the profile's decode table.
//
// A high slope means the scorer barely rewards the extra pixels, so a lower
// target is enough; the table thresholds encode that trade per profile.
func SolveResolution(ctx context.Context, cfg ResolutionConfig, clip ClipFunc, score ScoreFunc) (int, error) {
	if len(cfg.Resolutions) < 2 {
		return 0, fmt.Errorf("need at least two testing resolutions, got %d", len(cfg.Resolutions))
	}
	resolutions := append([]int(nil), cfg.Resolutions...)
	sort.Ints(resolutions)
	resMin, resMax := resolutions[0], resolutions[len(resolutions)-1]

	timestep := Timestep(cfg.Duration, cfg.Scenes)
	runs := cfg.Runs
	if runs < 1 {
		runs = 1
	}
	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}

	// Encode all clips up front, then dispatch every scorer run to the pool.
	type clipKey struct {
		scene int
		res   int
	}
	clips := make(map[clipKey]string)
	for scene := 1; scene <= cfg.Scenes; scene++ {
		for _, res := range []int{resMin, resMax} {
			name := fmt.Sprintf("%d_%d_cq%s.mkv", scene, res, strconv.FormatFloat(cfg.CQ, 'f', -1, 64))
			output := filepath.Join(cfg.Workspace, name)
			if !clip(ctx, scene*timestep, res, cfg.CQ, output) {
				logger.Warn("test clip failed, scene will be incomplete", "scene", scene, "res", res)
				continue
			}
			clips[clipKey{scene, res}] = output
		}
	}

	scores := make(map[clipKey][]float64)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for key, path := range clips {
		for i := 0; i < runs; i++ {
			key, path := key, path
			g.Go(func() error {
				value, ok := score(gctx, path)
				if !ok {
					logger.Warn("scorer run produced no value", "clip", path)
					return nil
				}
				mu.Lock()
				scores[key] = append(scores[key], value)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// Per-scene slope between the two resolutions; scenes missing either
	// endpoint drop out.
	var slopes []float64
	for scene := 1; scene <= cfg.Scenes; scene++ {
		lo, okLo := scores[clipKey{scene, resMin}]
		hi, okHi := scores[clipKey{scene, resMax}]
		if !okLo || !okHi || len(lo) == 0 || len(hi) == 0 {
			continue
		}
		slope := (mean(hi) - mean(lo)) / float64(resMax-resMin)
		slopes = append(slopes, slope)
	}

	if len(slopes) == 0 {
		return 0, ErrNoDecision
	}

	// Keep the least-negative slopes after a descending sort.
	sort.Sort(sort.Reverse(sort.Float64Slice(slopes)))
	avg := mean(keepBest(slopes, cfg.KeepBestSlopes))
	logger.Info("average score slope", "slope", avg, "scenes", len(slopes))

	target := decodeResolution(avg, cfg.DecodeTable)
	if cfg.OrigHRes > 0 && target > cfg.OrigHRes {
		target = cfg.OrigHRes
	}
	return target, nil
}

// decodeResolution walks the table in declaration order, raising the answer
// whenever the slope clears an entry's threshold.
func decodeResolution(slope float64, table config.DecodeTable) int {
	target := minResolution
	for _, entry := range table {
		if slope >= entry.Slope && entry.Res > target {
			target = entry.Res
		}
	}
	return target
}
