// Package channels decides how many audio channels the output needs by
// extracting a short PCM sample and dropping channels that duplicate an
// earlier one.
package channels

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mhradec/autocomp/internal/logger"
	"github.com/mhradec/autocomp/internal/runner"
)

// ErrNoDecision is returned when no usable audio sample could be analysed.
var ErrNoDecision = errors.New("channel analysis reached no decision")

// Analyzer extracts audio with ffmpeg and compares channels.
type Analyzer struct {
	FFmpeg string
}

// New returns an Analyzer using the given ffmpeg binary, or "ffmpeg" from
// PATH when empty.
func New(ffmpegPath string) *Analyzer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Analyzer{FFmpeg: ffmpegPath}
}

// Count extracts the first `duration` seconds of audio as 16-bit PCM,
// computes the mean squared error between every channel pair, discards
// channels whose MSE to an earlier channel falls at the similarity cutoff
// (exact duplicates discard both), and maps the surviving count onto a
// standard speaker layout. Sources shorter than the sample window are
// skipped.
func (a *Analyzer) Count(ctx context.Context, source, workspace string, actualDuration float64, duration int, cutoff float64) (int, error) {
	if actualDuration < float64(duration) {
		logger.Info("source shorter than channel sample window, skipping",
			"duration", actualDuration, "window", duration)
		return 0, ErrNoDecision
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return 0, fmt.Errorf("create channel workspace: %w", err)
	}

	wavPath := filepath.Join(workspace, "audio_sample.wav")
	argv := []string{
		a.FFmpeg,
		"-i", source,
		"-vn",
		"-acodec", "pcm_s16le",
		"-t", strconv.Itoa(duration),
		wavPath,
		"-y",
	}
	if res := runner.Run(ctx, argv, 0); !res.OK {
		return 0, ErrNoDecision
	}

	samples, err := decodeWAV(wavPath)
	if err != nil {
		logger.Warn("audio sample unreadable", "error", err)
		return 0, ErrNoDecision
	}

	unique := uniqueChannels(samples, cutoff)
	decided := layoutFor(unique)
	logger.Info("channel analysis complete", "extracted", len(samples), "unique", unique, "decided", decided)
	return decided, nil
}

// uniqueChannels counts channels that carry distinct content. A channel is
// dropped when its MSE to an earlier channel is at or under the cutoff or
// repeats an already-seen pair MSE; a zero MSE means both copies are
// redundant and drops the pair.
func uniqueChannels(samples [][]float64, cutoff float64) int {
	n := len(samples)
	if n <= 1 {
		return n
	}

	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}

	var seen []float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			m := mse(samples[i], samples[j])
			if containsMSE(seen, m) || m <= cutoff {
				keep[j] = false
			}
			if m == 0 {
				keep[i] = false
				keep[j] = false
			}
			seen = append(seen, m)
		}
	}

	unique := 0
	for _, k := range keep {
		if k {
			unique++
		}
	}
	return unique
}

// layoutFor snaps a unique-channel count onto a deliverable layout: three
// distinct channels still need a 4.0 bed, five or more collapse to 5.1.
func layoutFor(unique int) int {
	switch {
	case unique == 0:
		return 1
	case unique == 3:
		return 4
	case unique >= 5:
		return 6
	default:
		return unique
	}
}

func mse(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum / float64(n)
}

func containsMSE(list []float64, v float64) bool {
	for _, m := range list {
		if m == v {
			return true
		}
	}
	return false
}
