// Package quality bridges to the perceptual scorer process and to ffmpeg's
// libvmaf filter. Both report a single float extracted from tool output.
package quality

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mhradec/autocomp/internal/logger"
	"github.com/mhradec/autocomp/internal/runner"
)

// DefaultTimeout bounds one scorer invocation. The scorer loads a model per
// run, so this is generous on purpose.
const DefaultTimeout = 1200 * time.Second

var (
	scoreLineRe = regexp.MustCompile(`quality score of the video.*?([01]\.\d+)`)
	vmafRe      = regexp.MustCompile(`harmonic_mean="([0-9.]+)"`)
)

// Scorer invokes the no-reference quality scorer. Command holds the base
// argv; the clip path is appended as the last argument.
type Scorer struct {
	Command []string
	Timeout time.Duration
}

// NewScorer builds a scorer for the vqa script under toolsPath.
func NewScorer(toolsPath string) *Scorer {
	if toolsPath == "" {
		toolsPath = "."
	}
	return &Scorer{
		Command: []string{"python", toolsPath + "/FastVQA-and-FasterVQA/vqa.py", "-v"},
		Timeout: DefaultTimeout,
	}
}

// Score runs the scorer `runs` times on the clip and returns the mean of the
// scores it managed to parse. ok is false when no run produced a score, on
// timeout included.
func (s *Scorer) Score(ctx context.Context, clip string, runs int) (float64, bool) {
	if runs < 1 {
		runs = 1
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	var sum float64
	var n int
	for i := 0; i < runs; i++ {
		argv := append(append([]string(nil), s.Command...), clip)
		lines, res := runner.RunCapture(ctx, argv, timeout)
		if !res.OK {
			logger.Warn("scorer run failed", "clip", clip, "run", i+1)
			continue
		}
		score, ok := parseScore(lines)
		if !ok {
			logger.Warn("scorer output had no score line", "clip", clip, "run", i+1)
			continue
		}
		sum += score
		n++
	}

	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func parseScore(lines []string) (float64, bool) {
	for _, line := range lines {
		if !strings.Contains(line, "The quality score of the video") {
			continue
		}
		m := scoreLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		score, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return score, true
	}
	return 0, false
}

// VMAF computes the VMAF score of distorted against reference using ffmpeg's
// libvmaf filter and returns the harmonic mean from the XML log. Returns
// (0, false) when the run or the log parse fails.
func VMAF(ctx context.Context, ffmpegPath, reference, distorted string, threads int, logPath string) (float64, bool) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	argv := []string{
		ffmpegPath,
		"-i", reference,
		"-i", distorted,
		"-lavfi", fmt.Sprintf("libvmaf=n_threads=%d:log_path=%s", threads, logPath),
		"-f", "null", "-",
	}

	res := runner.Run(ctx, argv, 0)
	if !res.OK {
		logger.Warn("VMAF computation failed", "reference", reference, "distorted", distorted)
		return 0, false
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		logger.Warn("VMAF log unreadable", "path", logPath, "error", err)
		return 0, false
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, `<metric name="vmaf"`) {
			continue
		}
		m := vmafRe.FindStringSubmatch(line)
		if m == nil {
			return 0, false
		}
		score, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		return score, true
	}

	logger.Warn("VMAF log had no vmaf metric line", "path", logPath)
	return 0, false
}
