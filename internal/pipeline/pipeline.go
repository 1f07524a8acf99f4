// Package pipeline orchestrates one video through the decision stages and
// the production encode: probe, black bars, resolution, CQ, channels, then
// the HDR-aware encode, with every decision recorded on the way out.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/mhradec/autocomp/internal/blackbar"
	"github.com/mhradec/autocomp/internal/channels"
	"github.com/mhradec/autocomp/internal/config"
	"github.com/mhradec/autocomp/internal/encode"
	"github.com/mhradec/autocomp/internal/hdr"
	"github.com/mhradec/autocomp/internal/logger"
	"github.com/mhradec/autocomp/internal/probe"
	"github.com/mhradec/autocomp/internal/quality"
	"github.com/mhradec/autocomp/internal/solver"
	"github.com/mhradec/autocomp/internal/store"
	"github.com/mhradec/autocomp/internal/vpc"
)

// Options carries everything one run needs from the command line.
type Options struct {
	InputFile     string
	MovieName     string
	ProfilePath   string
	SettingsPath  string
	WorkspaceBase string
	ToolsPath     string
	LogLevel      string
}

// Pipeline bundles the tool bridges used by the stages.
type Pipeline struct {
	Enc      *encode.SceneEncoder
	Prober   *probe.Prober
	Detector *blackbar.Detector
	Analyzer *channels.Analyzer
	Scorer   *quality.Scorer
	Router   *hdr.Router
}

// New wires the stage bridges for tools under toolsPath, or from PATH when
// toolsPath is empty.
func New(toolsPath string) *Pipeline {
	enc := encode.New(toolsPath)
	return &Pipeline{
		Enc:      enc,
		Prober:   probe.New(toolPath(toolsPath, "ffprobe")),
		Detector: blackbar.New(enc.FFmpeg),
		Analyzer: channels.New(enc.FFmpeg),
		Scorer:   quality.NewScorer(toolsPath),
		Router:   hdr.New(toolsPath, enc),
	}
}

func toolPath(toolsPath, name string) string {
	if toolsPath == "" {
		return ""
	}
	return filepath.Join(toolsPath, name)
}

// Run processes one input file end to end. Stage failures downgrade to that
// stage's default; only workspace setup, config load and the production
// encode are fatal.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	workspace := filepath.Join(opts.WorkspaceBase, opts.MovieName)
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := logger.InitWorkspace(workspace, opts.LogLevel); err != nil {
		return err
	}
	defer logger.Close()

	profile, err := config.LoadProfile(opts.ProfilePath)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	settings, err := config.LoadSettings(opts.SettingsPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	db, err := store.Open(filepath.Join(opts.WorkspaceBase, "autocomp.db"))
	if err != nil {
		logger.Warn("run history unavailable", "error", err)
		db = nil
	} else {
		defer db.Close()
	}

	v, err := vpc.New(opts.InputFile, opts.MovieName, workspace)
	if err != nil {
		return err
	}
	v.AttachConfig(profile, settings)
	v.Analyze(ctx, p.Prober)

	if v.HDREnabled {
		logger.Info("HDR classification", "type", string(p.Router.DetectType(ctx, v)))
	}

	p.solveBlackBars(ctx, v, opts)
	p.solveResolution(ctx, v, opts)
	p.solveCQ(ctx, v, opts)
	p.solveChannels(ctx, v, opts)

	if v.Channels == 2 && len(v.Profile.Stereo) > 0 {
		logger.Info("two-channel output, using stereo audio arguments")
		v.Profile.Audio = v.Profile.Stereo
	}

	if err := v.ExportTxt(); err != nil {
		logger.Warn("could not write VPC.txt", "error", err)
	}

	var runErr error
	if v.Settings.ExportOutput.Enabled {
		runErr = p.Router.Compress(ctx, v)
		if runErr != nil {
			logger.Error("production encode failed", "error", runErr)
		}
	} else {
		logger.Info("export disabled, stopping after decisions")
	}

	p.record(db, v, runErr)
	return runErr
}

func (p *Pipeline) solveBlackBars(ctx context.Context, v *vpc.VPC, opts Options) {
	if !v.Settings.BlackBar.Enabled {
		return
	}
	ws := filepath.Join(v.Workspace, opts.MovieName+"_blackDetection")
	top, bottom, err := p.Detector.Detect(ctx, v.SourcePath, ws, v.OrigDuration, v.Settings.BlackBar.FramesToDetect)
	if err != nil {
		logger.Warn("black bar detection inconclusive, keeping full frame", "error", err)
		return
	}
	v.SetCrop(top, bottom)
}

func (p *Pipeline) solveResolution(ctx context.Context, v *vpc.VPC, opts Options) {
	if !v.Settings.Resolution.Enabled {
		return
	}
	ws := filepath.Join(v.Workspace, opts.MovieName+"_res")
	cfg := solver.ResolutionConfig{
		Workspace:      ws,
		Duration:       v.OrigDuration,
		Scenes:         v.Settings.Resolution.NumOfTests,
		Resolutions:    v.Settings.Resolution.TestingResolutions,
		CQ:             v.Settings.Resolution.CQValue,
		KeepBestSlopes: v.Settings.Resolution.KeepBestSlopes,
		Runs:           v.Settings.Resolution.NumOfVQARuns,
		Threads:        v.Settings.Resolution.Threads,
		DecodeTable:    v.Profile.Test.ResDecode,
		OrigHRes:       v.OrigHRes,
	}
	if err := os.MkdirAll(ws, 0755); err != nil {
		logger.Warn("resolution workspace unavailable", "error", err)
		return
	}

	clip := func(ctx context.Context, start, res int, cq float64, output string) bool {
		return p.Enc.Clip(ctx, encode.ClipOptions{
			Source:  v.SourcePath,
			Output:  output,
			Start:   start,
			Length:  v.Settings.Resolution.SceneLength,
			CQ:      cq,
			Res:     res,
			Crop:    v.Crop,
			OrigW:   v.OrigHRes,
			OrigH:   v.OrigVRes,
			Profile: v.Profile.Video,
		})
	}
	score := func(ctx context.Context, clipPath string) (float64, bool) {
		return p.Scorer.Score(ctx, clipPath, 1)
	}

	res, err := solver.SolveResolution(ctx, cfg, clip, score)
	if err != nil {
		logger.Warn("resolution search inconclusive, keeping source resolution", "error", err)
		return
	}
	v.SetOutputRes(res)
	logger.Info("output resolution decided", "res", res)
}

func (p *Pipeline) solveCQ(ctx context.Context, v *vpc.VPC, opts Options) {
	if !v.Settings.CQ.Enabled {
		return
	}
	ws := filepath.Join(v.Workspace, opts.MovieName+"_cq")
	if err := os.MkdirAll(ws, 0755); err != nil {
		logger.Warn("cq workspace unavailable", "error", err)
		return
	}
	cfg := solver.CQConfig{
		Workspace:      ws,
		Duration:       v.OrigDuration,
		Scenes:         v.Settings.CQ.NumberOfScenes,
		CQValues:       v.Settings.CQ.CQValues,
		Reference:      v.Settings.CQ.CQReference,
		Threshold:      v.Profile.Test.CQThreshold,
		KeepBestScenes: v.Settings.CQ.KeepBestScenes,
	}

	// CQ clips are encoded at the already-decided resolution and crop so
	// the loss curve matches what the production encode will do.
	clip := func(ctx context.Context, start int, cq float64, output string) bool {
		return p.Enc.Clip(ctx, encode.ClipOptions{
			Source:  v.SourcePath,
			Output:  output,
			Start:   start,
			Length:  v.Settings.CQ.SceneLength,
			CQ:      cq,
			Res:     v.OutputRes,
			Crop:    v.Crop,
			OrigW:   v.OrigHRes,
			OrigH:   v.OrigVRes,
			Profile: v.Profile.Video,
		})
	}
	vmaf := func(ctx context.Context, reference, distorted string) (float64, bool) {
		return quality.VMAF(ctx, p.Enc.FFmpeg, reference, distorted, v.Settings.CQ.Threads, distorted+"_vmaf.xml")
	}

	cq, err := solver.SolveCQ(ctx, cfg, clip, vmaf)
	if err != nil {
		logger.Warn("cq search inconclusive, keeping profile default", "error", err, "default", v.OutputCQ)
		return
	}
	v.SetOutputCQ(cq)
	logger.Info("output cq decided", "cq", cq)
}

func (p *Pipeline) solveChannels(ctx context.Context, v *vpc.VPC, opts Options) {
	if !v.Settings.Channels.Enabled {
		return
	}
	ws := filepath.Join(v.Workspace, opts.MovieName+"_channels")
	n, err := p.Analyzer.Count(ctx, v.SourcePath, ws, v.OrigDuration,
		v.Settings.Channels.Duration, v.Settings.Channels.SimilarityCutoff)
	if err != nil {
		logger.Warn("channel analysis inconclusive, keeping source channels", "error", err)
		return
	}
	v.SetChannels(n)
	logger.Info("output channels decided", "channels", n)
}

// record logs the size outcome and appends the run to the history database.
func (p *Pipeline) record(db *store.Store, v *vpc.VPC, runErr error) {
	origSize := fileSize(v.OrigFilePath)
	outSize := fileSize(v.OutputFilePath)

	var ratio float64
	if origSize > 0 && outSize > 0 {
		ratio = float64(outSize) / float64(origSize)
		logger.Info("size comparison",
			"original", humanize.Bytes(uint64(origSize)),
			"output", humanize.Bytes(uint64(outSize)),
			"ratio", fmt.Sprintf("%.3f", ratio))
	}

	if db == nil {
		return
	}

	run := &store.Run{
		InputPath:  v.OrigFilePath,
		Name:       v.OutputFileName,
		OutputPath: v.OutputFilePath,
		Width:      v.OrigHRes,
		Height:     v.OrigVRes,
		Duration:   v.OrigDuration,
		FrameRate:  v.OrigFramerate,
		IsHEVC:     v.IsH265,
		OutputRes:  v.OutputRes,
		OutputCQ:   v.OutputCQ,
		CropTop:    v.Crop[0],
		CropBottom: v.Crop[1],
		Channels:   v.Channels,
		HDRType:    string(v.HDRType),
		OrigSize:   origSize,
		OutputSize: outSize,
		Ratio:      ratio,
		Status:     store.StatusComplete,
	}
	if runErr != nil {
		run.Status = store.StatusFailed
		run.Error = runErr.Error()
	}
	if _, err := db.SaveRun(run); err != nil {
		logger.Warn("could not record run", "error", err)
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
