// Package blackbar detects letterbox bars by sampling frames as PNGs and
// walking the central pixel column from both ends.
package blackbar

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mhradec/autocomp/internal/logger"
	"github.com/mhradec/autocomp/internal/runner"
)

// blackThreshold is the per-channel 8-bit value below which a pixel counts
// as black. Real bars are never exactly zero after lossy encoding.
const blackThreshold = 10

// ErrNoDecision is returned when no frame could be sampled or the detected
// bars would swallow the whole frame.
var ErrNoDecision = errors.New("black bar detection reached no decision")

// Detector extracts frames with ffmpeg and measures their bars.
type Detector struct {
	FFmpeg string
}

// New returns a Detector using the given ffmpeg binary, or "ffmpeg" from
// PATH when empty.
func New(ffmpegPath string) *Detector {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Detector{FFmpeg: ffmpegPath}
}

// Detect samples frames at evenly spaced timestamps of the source, measures
// the black prefix and suffix of each frame's central column, and returns
// the per-side minimum across frames. Taking the minimum keeps one bright
// frame from hiding the bars while dark scene content cannot grow them.
func (d *Detector) Detect(ctx context.Context, source, workspace string, duration float64, frames int) (top, bottom int, err error) {
	if frames < 1 {
		frames = 1
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return 0, 0, fmt.Errorf("create detection workspace: %w", err)
	}

	timestep := duration / float64(frames+1)

	top, bottom = -1, -1
	var height int
	for i := 1; i <= frames; i++ {
		framePath := filepath.Join(workspace, fmt.Sprintf("frame_%d.png", i))
		argv := []string{
			d.FFmpeg,
			"-ss", strconv.Itoa(int(timestep * float64(i))),
			"-i", source,
			"-frames:v", "1",
			"-y",
			framePath,
		}
		if res := runner.Run(ctx, argv, 0); !res.OK {
			logger.Warn("frame extraction failed", "frame", i)
			continue
		}

		img, err := loadPNG(framePath)
		if err != nil {
			logger.Warn("frame unreadable", "frame", i, "error", err)
			continue
		}

		frameTop, frameBottom := measureColumn(img)
		if top == -1 || frameTop < top {
			top = frameTop
		}
		if bottom == -1 || frameBottom < bottom {
			bottom = frameBottom
		}
		height = img.Bounds().Dy()
	}

	if top == -1 || bottom == -1 {
		return 0, 0, ErrNoDecision
	}
	if top+bottom >= height {
		// Every sampled frame was black top to bottom; crop decisions
		// from such samples would remove the picture.
		logger.Warn("sampled frames fully black, skipping crop decision")
		return 0, 0, ErrNoDecision
	}

	logger.Info("black bars detected", "top", top, "bottom", bottom)
	return top, bottom, nil
}

func loadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

// measureColumn walks the central vertical column and returns the longest
// all-black prefix and suffix.
func measureColumn(img image.Image) (top, bottom int) {
	bounds := img.Bounds()
	x := bounds.Min.X + bounds.Dx()/2

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		if !isBlack(img, x, y) {
			break
		}
		top++
	}
	for y := bounds.Max.Y - 1; y >= bounds.Min.Y; y-- {
		if !isBlack(img, x, y) {
			break
		}
		bottom++
	}
	return top, bottom
}

func isBlack(img image.Image, x, y int) bool {
	r, g, b, _ := img.At(x, y).RGBA()
	return r>>8 < blackThreshold && g>>8 < blackThreshold && b>>8 < blackThreshold
}
