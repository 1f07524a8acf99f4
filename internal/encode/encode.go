// Package encode builds and runs the ffmpeg and HandBrakeCLI invocations:
// stream-copy temporal cuts, short sample clips for the solvers, and the
// final production encode.
package encode

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/mhradec/autocomp/internal/logger"
	"github.com/mhradec/autocomp/internal/runner"
	"github.com/mhradec/autocomp/internal/vpc"
)

// SceneEncoder knows where the encoder binaries live.
type SceneEncoder struct {
	FFmpeg    string
	HandBrake string
}

// New returns a SceneEncoder resolving the binaries inside toolsPath, or
// from PATH when toolsPath is empty.
func New(toolsPath string) *SceneEncoder {
	e := &SceneEncoder{FFmpeg: "ffmpeg", HandBrake: "HandBrakeCLI"}
	if toolsPath != "" {
		e.FFmpeg = filepath.Join(toolsPath, "ffmpeg")
		e.HandBrake = filepath.Join(toolsPath, "HandBrakeCLI")
	}
	return e
}

// SpliceFilter merges a generated filter into the profile's video args. When
// the profile already carries -vf the filter is appended to the existing
// chain, otherwise a new -vf pair is added. The input slice is not modified.
func SpliceFilter(args []string, filter string) []string {
	out := append([]string(nil), args...)
	if filter == "" {
		return out
	}
	for i, a := range out {
		if a == "-vf" && i+1 < len(out) {
			out[i+1] = out[i+1] + "," + filter
			return out
		}
	}
	return append(out, "-vf", filter)
}

// CropScaleFilter builds the crop-and-scale filter chain. Crop runs first so
// the scale target applies to the bar-free frame; -2 keeps the height even.
func CropScaleFilter(origW, origH int, crop [2]int, targetRes int, swsFlags string) string {
	scale := fmt.Sprintf("scale=%d:-2:sws_flags=%s", targetRes, swsFlags)
	if crop[0] == 0 && crop[1] == 0 {
		return scale
	}
	croppedH := origH - crop[0] - crop[1]
	return fmt.Sprintf("crop=%d:%d:0:%d,%s", origW, croppedH, crop[0], scale)
}

// ClipOptions describes one sample clip for the solvers.
type ClipOptions struct {
	Source  string
	Output  string
	Start   int
	Length  int
	CQ      float64
	Res     int
	Crop    [2]int
	OrigW   int
	OrigH   int
	Profile []string
}

// Clip encodes one short sample. Seeking is placed before the input; sample
// clips tolerate keyframe-imprecise seeks, so the cheap seek is always used
// here. Scaling uses nearest neighbour to keep the solver measuring encoder
// behaviour rather than scaler quality.
func (e *SceneEncoder) Clip(ctx context.Context, o ClipOptions) bool {
	filter := CropScaleFilter(o.OrigW, o.OrigH, o.Crop, o.Res, "neighbor")

	argv := []string{
		e.FFmpeg,
		"-ss", strconv.Itoa(o.Start),
		"-i", o.Source,
	}
	argv = append(argv, SpliceFilter(o.Profile, filter)...)
	argv = append(argv,
		"-t", strconv.Itoa(o.Length),
		"-cq", formatCQ(o.CQ),
		"-an",
		"-y",
		o.Output,
	)

	res := runner.Run(ctx, argv, 0)
	return res.OK && runner.CheckOutput(o.Output, 0)
}

// TemporalCut stream-copies the segment [v.Start, v.Start+v.Duration) of the
// source into the target. With fast-seek support the seek goes before the
// input. Without it ffmpeg must decode from the head, so the cut seeks after
// the input with regenerated timestamps and over-reads by an offset; if the
// result comes out under-sized the offset grows from 3 up to 9 before giving
// up.
func (e *SceneEncoder) TemporalCut(ctx context.Context, v *vpc.VPC) bool {
	if v.Profile.FSEnable && v.FSSupport {
		argv := []string{
			e.FFmpeg,
			"-y",
			"-ss", strconv.Itoa(v.Start),
			"-i", v.SourcePath,
			"-t", strconv.Itoa(v.Duration),
			"-c:v", "copy",
			"-an",
			"-copy_unknown",
			v.TargetPath,
		}
		res := runner.Run(ctx, argv, 0)
		return res.OK && runner.CheckOutput(v.TargetPath, 0)
	}

	for offset := 3; offset <= 9; offset++ {
		argv := []string{
			e.FFmpeg,
			"-y",
			"-fflags", "+genpts",
			"-copyts",
			"-avoid_negative_ts", "make_zero",
			"-i", v.SourcePath,
			"-ss", strconv.Itoa(v.Start),
			"-t", strconv.Itoa(v.Duration + offset),
			"-c:v", "copy",
			"-an",
			"-copy_unknown",
			v.TargetPath,
		}
		res := runner.Run(ctx, argv, 0)
		if !res.OK {
			logger.Error("temporal cut failed", "source", v.SourcePath)
			return false
		}
		if runner.CheckOutput(v.TargetPath, 0) {
			return true
		}
		logger.Debug("cut came out under-sized, retrying with longer read", "offset", offset+1)
	}
	return false
}

// Encode runs the production ffmpeg encode from SourcePath to TargetPath
// using the decided resolution, CQ and crop. Audio and subtitles are
// stripped; the HDR pipeline re-attaches metadata afterwards. Production
// scaling uses lanczos.
func (e *SceneEncoder) Encode(ctx context.Context, v *vpc.VPC) bool {
	filter := CropScaleFilter(v.OrigHRes, v.OrigVRes, v.Crop, v.OutputRes, "lanczos")

	argv := []string{
		e.FFmpeg,
		"-i", v.SourcePath,
		"-an",
		"-sn",
	}
	argv = append(argv, SpliceFilter(v.Profile.Video, filter)...)
	argv = append(argv,
		"-copy_unknown",
		"-map_metadata", "0",
		"-cq", formatCQ(v.OutputCQ),
		"-y",
		v.TargetPath,
	)

	res := runner.Run(ctx, argv, 0)
	if !res.OK {
		return false
	}
	if !runner.CheckOutput(v.TargetPath, 0) {
		logger.Error("encoded file failed validation", "path", v.TargetPath)
		return false
	}
	return true
}

// EncodeHandBrake runs the production encode through HandBrakeCLI, writing
// straight to the final output path. Audio and subtitles are disabled; the
// crop syntax is top:bottom:left:right with zero side crop.
func (e *SceneEncoder) EncodeHandBrake(ctx context.Context, v *vpc.VPC) bool {
	argv := []string{
		e.HandBrake,
		"-i", v.SourcePath,
		"-o", v.OutputFilePath,
		"-q", formatCQ(v.OutputCQ),
		"--crop", fmt.Sprintf("0:%d:0:%d", v.Crop[0], v.Crop[1]),
		"--width", strconv.Itoa(v.OutputRes),
		"--non-anamorphic",
		"-a", "none",
		"-s", "none",
	}
	argv = append(argv, v.Profile.Video...)

	res := runner.Run(ctx, argv, 0)
	if !res.OK {
		return false
	}
	if !runner.CheckOutput(v.OutputFilePath, 0) {
		logger.Error("HandBrake output failed validation", "path", v.OutputFilePath)
		return false
	}
	return true
}

// formatCQ prints whole CQ values without a trailing .0, matching what the
// encoders expect on the command line.
func formatCQ(cq float64) string {
	return strconv.FormatFloat(cq, 'f', -1, 64)
}
