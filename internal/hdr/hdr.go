// Package hdr classifies a source's dynamic HDR metadata and drives the
// extract, encode, inject and remux chain that carries it through to the
// final output.
package hdr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mhradec/autocomp/internal/encode"
	"github.com/mhradec/autocomp/internal/logger"
	"github.com/mhradec/autocomp/internal/runner"
	"github.com/mhradec/autocomp/internal/vpc"
)

// Router dispatches the production encode, routing HDR sources through the
// metadata round-trip.
type Router struct {
	DoviTool  string
	HDR10Tool string
	Enc       *encode.SceneEncoder
}

// New returns a Router resolving the metadata tools inside toolsPath, or from
// PATH when toolsPath is empty.
func New(toolsPath string, enc *encode.SceneEncoder) *Router {
	r := &Router{DoviTool: "dovi_tool", HDR10Tool: "hdr10plus_tool", Enc: enc}
	if toolsPath != "" {
		r.DoviTool = filepath.Join(toolsPath, "dovi_tool")
		r.HDR10Tool = filepath.Join(toolsPath, "hdr10plus_tool")
	}
	return r
}

// DetectType classifies the source's dynamic metadata, trying Dolby Vision
// before HDR10+. A successful probe leaves the extracted metadata file in the
// workspace, so the later inject step reuses it instead of extracting again.
// The result is memoised on the VPC.
func (r *Router) DetectType(ctx context.Context, v *vpc.VPC) vpc.HDRType {
	if v.HDRType != vpc.HDRUninit {
		return v.HDRType
	}

	argv := []string{r.DoviTool, "extract-rpu", "-i", v.SourcePath, "-o", v.DoviMetadataFile}
	if res := runner.Run(ctx, argv, 0); res.OK && runner.CheckOutput(v.DoviMetadataFile, 0) {
		logger.Info("Dolby Vision RPU found", "path", v.DoviMetadataFile)
		v.SetHDRType(vpc.HDRDoVi)
		return v.HDRType
	}

	argv = []string{r.HDR10Tool, "extract", v.SourcePath, "-o", v.HDR10MetadataFile}
	if res := runner.Run(ctx, argv, 0); res.OK && runner.CheckOutput(v.HDR10MetadataFile, 0) {
		logger.Info("HDR10+ metadata found", "path", v.HDR10MetadataFile)
		v.SetHDRType(vpc.HDR10)
		return v.HDRType
	}

	logger.Info("no dynamic HDR metadata found")
	v.SetHDRType(vpc.HDRNone)
	return v.HDRType
}

// Compress runs the production encode for one video. The work happens on a
// clone so decisions already serialized stay untouched; only the HDR-disable
// signal propagates back to the parent.
func (r *Router) Compress(ctx context.Context, v *vpc.VPC) error {
	work := v.Clone()

	if work.Duration > 0 {
		cut := filepath.Join(work.Workspace, work.OutputFileName+"_time_crop.mkv")
		work.SetTargetPath(cut)
		if !r.Enc.TemporalCut(ctx, work) {
			return fmt.Errorf("temporal cut failed: %s", work.SourcePath)
		}
		work.SetSourcePath(cut)
	}

	if work.Profile != nil && work.Profile.Function == "HandbrakeAV1" {
		if !r.Enc.EncodeHandBrake(ctx, work) {
			return fmt.Errorf("HandBrake encode failed: %s", work.SourcePath)
		}
		return nil
	}

	if work.HDREnabled {
		switch r.DetectType(ctx, work) {
		case vpc.HDRDoVi, vpc.HDR10:
			err := r.compressHDR(ctx, work)
			if err == nil {
				return nil
			}
			logger.Warn("HDR pipeline failed, falling back to plain encode", "error", err)
			work.DisableParentHDR()
		}
	}

	work.SetTargetPath(work.OutputFilePath)
	if !r.Enc.Encode(ctx, work) {
		return fmt.Errorf("production encode failed: %s", work.SourcePath)
	}
	return nil
}

// compressHDR re-encodes to a raw HEVC elementary stream, injects the cached
// metadata back into it, and wraps the result into the final MKV.
func (r *Router) compressHDR(ctx context.Context, v *vpc.VPC) error {
	hevcPath := filepath.Join(v.Workspace, v.OutputFileName+"_reencode.hevc")
	injectPath := filepath.Join(v.Workspace, v.OutputFileName+"_HDR_inject.hevc")

	enc := v.Clone()
	enc.SetTargetPath(hevcPath)
	if !r.Enc.Encode(ctx, enc) {
		return fmt.Errorf("elementary stream encode failed")
	}

	var argv []string
	switch v.HDRType {
	case vpc.HDRDoVi:
		argv = []string{r.DoviTool, "inject-rpu", "-i", hevcPath, "--rpu-in", v.DoviMetadataFile, "-o", injectPath}
	case vpc.HDR10:
		argv = []string{r.HDR10Tool, "inject", "-i", hevcPath, "-j", v.HDR10MetadataFile, "-o", injectPath}
	default:
		return fmt.Errorf("no dynamic metadata to inject")
	}
	if res := runner.Run(ctx, argv, 0); !res.OK || !runner.CheckOutput(injectPath, 0) {
		return fmt.Errorf("metadata inject failed")
	}

	mp4Path := strings.TrimSuffix(injectPath, ".hevc") + ".mp4"
	if err := r.hevcToMKV(ctx, injectPath, mp4Path, v.OutputFilePath, v.OrigFramerate); err != nil {
		return err
	}

	if v.Settings != nil && v.Settings.EnableDelete.Enabled {
		for _, p := range []string{hevcPath, injectPath, mp4Path} {
			if err := os.Remove(p); err != nil {
				logger.Warn("could not remove intermediate", "path", p, "error", err)
			}
		}
	}
	return nil
}

// hevcToMKV wraps a raw HEVC stream into MKV. A raw stream carries no
// timestamps, so the first step regenerates PTS at the source frame rate into
// a fragmented MP4; the second stream-copies that into the MKV container.
func (r *Router) hevcToMKV(ctx context.Context, hevcPath, mp4Path, mkvPath string, fps float64) error {
	argv := []string{
		r.Enc.FFmpeg,
		"-y",
		"-fflags", "+genpts",
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", hevcPath,
		"-c:v", "copy",
		"-movflags", "frag_keyframe+empty_moov",
		mp4Path,
	}
	if res := runner.Run(ctx, argv, 0); !res.OK || !runner.CheckOutput(mp4Path, 0) {
		return fmt.Errorf("hevc to mp4 remux failed")
	}

	argv = []string{r.Enc.FFmpeg, "-y", "-i", mp4Path, "-c:v", "copy", mkvPath}
	if res := runner.Run(ctx, argv, 0); !res.OK || !runner.CheckOutput(mkvPath, 0) {
		return fmt.Errorf("mp4 to mkv remux failed")
	}
	return nil
}
