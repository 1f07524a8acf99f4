// Package vpc holds the mutable per-video processing record threaded through
// the pipeline: paths, probed facts, and the decisions each stage writes
// back. Stages read only what earlier stages wrote.
package vpc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mhradec/autocomp/internal/config"
	"github.com/mhradec/autocomp/internal/logger"
	"github.com/mhradec/autocomp/internal/probe"
)

// HDRType classifies the dynamic metadata found in the source.
type HDRType string

const (
	HDRUninit HDRType = "uninit"
	HDRDoVi   HDRType = "DoVi"
	HDR10     HDRType = "HDR10"
	HDRNone   HDRType = "None"
)

// VPC is the video processing configuration for one input file.
type VPC struct {
	// paths
	OrigFilePath   string
	OutputFileName string
	OutputFilePath string
	Workspace      string
	SourcePath     string
	TargetPath     string

	DoviMetadataFile  string
	HDR10MetadataFile string

	// probed facts
	OrigHRes      int
	OrigVRes      int
	OrigDuration  float64
	OrigFramerate float64
	IsH265        bool
	FSSupport     bool
	VUI           probe.VUI
	SideData      probe.SideData

	// decisions
	OutputRes int
	OutputCQ  float64
	Crop      [2]int
	Channels  int
	Start     int
	Duration  int
	Subtitles bool
	HDRType   HDRType

	// HDREnabled starts as the profile flag and is forced off for non-HEVC
	// input or after an HDR step fails.
	HDREnabled bool

	Profile  *config.Profile
	Settings *config.Settings

	parent *VPC
}

// New builds a VPC for one input file and creates its workspace directory.
func New(inputFile, outputName, workspace string) (*VPC, error) {
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	v := &VPC{
		OrigFilePath:      inputFile,
		OutputFileName:    outputName,
		OutputFilePath:    filepath.Join(workspace, outputName+".mkv"),
		Workspace:         workspace,
		DoviMetadataFile:  filepath.Join(workspace, "dovi_metadata_test.bin"),
		HDR10MetadataFile: filepath.Join(workspace, "HDR10_metadata_test.json"),
		HDRType:           HDRUninit,
	}
	return v, nil
}

// AttachConfig binds the loaded profile and settings and seeds the decision
// defaults from them.
func (v *VPC) AttachConfig(profile *config.Profile, settings *config.Settings) {
	v.Profile = profile
	v.Settings = settings
	v.OutputCQ = profile.Test.DefaultCQ
	v.HDREnabled = profile.HDREnable
}

// Analyze probes the original file and records its facts. HDR handling is
// forced off when the source is not HEVC, since the metadata tools only
// operate on H.265 streams.
func (v *VPC) Analyze(ctx context.Context, p *probe.Prober) {
	logger.Info("analyzing original file", "path", v.OrigFilePath)

	v.OrigHRes = p.Width(ctx, v.OrigFilePath)
	v.OrigVRes = p.Height(ctx, v.OrigFilePath)
	v.OrigFramerate = p.FrameRate(ctx, v.OrigFilePath)
	v.OrigDuration = p.Duration(ctx, v.OrigFilePath)
	v.FSSupport = probe.FastSeek(v.OrigFilePath)
	v.IsH265 = p.IsHEVC(ctx, v.OrigFilePath)

	if !v.IsH265 && v.HDREnabled {
		logger.Info("file is not h265, disabling HDR handling")
		v.HDREnabled = false
	}

	v.OutputRes = v.OrigHRes
	v.VUI, v.SideData = p.StaticMetadata(ctx, v.OrigFilePath)
	v.SourcePath = v.OrigFilePath
}

// Clone returns a copy that remembers its parent, so HDR failures discovered
// on the copy can propagate back up the chain.
func (v *VPC) Clone() *VPC {
	clone := *v
	clone.parent = v
	return &clone
}

// DisableParentHDR turns HDR handling off on this record and every ancestor.
// Called when an HDR extract or inject step fails mid-pipeline.
func (v *VPC) DisableParentHDR() {
	for cur := v; cur != nil; cur = cur.parent {
		cur.HDREnabled = false
	}
}

func (v *VPC) SetSourcePath(path string) { v.SourcePath = path }
func (v *VPC) SetTargetPath(path string) { v.TargetPath = path }
func (v *VPC) SetOutputCQ(cq float64)    { v.OutputCQ = cq }
func (v *VPC) SetOutputRes(res int)      { v.OutputRes = res }
func (v *VPC) SetCrop(top, bottom int)   { v.Crop = [2]int{top, bottom} }
func (v *VPC) SetChannels(channels int)  { v.Channels = channels }
func (v *VPC) SetStart(start int)        { v.Start = start }
func (v *VPC) SetDuration(duration int)  { v.Duration = duration }

// SetWorkspace switches the working directory, creating it when missing.
func (v *VPC) SetWorkspace(workspace string) error {
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	v.Workspace = workspace
	return nil
}

// SetOutputFileName renames the output, keeping it inside the workspace.
func (v *VPC) SetOutputFileName(name string) {
	v.OutputFileName = name
	v.OutputFilePath = filepath.Join(v.Workspace, name+".mkv")
}

// SetHDRType records the classification; unknown labels are rejected.
func (v *VPC) SetHDRType(t HDRType) {
	switch t {
	case HDRDoVi, HDR10, HDRNone:
		v.HDRType = t
	default:
		logger.Error("unknown HDR type", "type", string(t))
	}
}

// Fields returns every exported field as ordered key/value pairs, the
// serialisation used by VPC.txt.
func (v *VPC) Fields() [][2]string {
	return [][2]string{
		{"orig_file_path", v.OrigFilePath},
		{"output_file_name", v.OutputFileName},
		{"output_file_path", v.OutputFilePath},
		{"workspace", v.Workspace},
		{"source_path", v.SourcePath},
		{"target_path", v.TargetPath},
		{"dovi_metadata_file", v.DoviMetadataFile},
		{"HDR10_metadata_file", v.HDR10MetadataFile},
		{"orig_h_res", fmt.Sprintf("%d", v.OrigHRes)},
		{"orig_v_res", fmt.Sprintf("%d", v.OrigVRes)},
		{"orig_duration", fmt.Sprintf("%v", v.OrigDuration)},
		{"orig_framerate", fmt.Sprintf("%v", v.OrigFramerate)},
		{"is_H265", fmt.Sprintf("%v", v.IsH265)},
		{"FS_support", fmt.Sprintf("%v", v.FSSupport)},
		{"color_primaries", v.VUI.ColorPrimaries},
		{"color_space", v.VUI.ColorSpace},
		{"color_transfer", v.VUI.ColorTransfer},
		{"chroma_location", v.VUI.ChromaLocation},
		{"Cll_exists", fmt.Sprintf("%v", v.SideData.CllExists)},
		{"Mastering_display_exists", fmt.Sprintf("%v", v.SideData.MasteringExists)},
		{"output_res", fmt.Sprintf("%d", v.OutputRes)},
		{"output_cq", fmt.Sprintf("%v", v.OutputCQ)},
		{"crop", fmt.Sprintf("[%d, %d]", v.Crop[0], v.Crop[1])},
		{"channels", fmt.Sprintf("%d", v.Channels)},
		{"start", fmt.Sprintf("%d", v.Start)},
		{"duration", fmt.Sprintf("%d", v.Duration)},
		{"subtitles", fmt.Sprintf("%v", v.Subtitles)},
		{"HDR_type", string(v.HDRType)},
		{"HDR_enabled", fmt.Sprintf("%v", v.HDREnabled)},
	}
}

// ExportTxt dumps the full configuration to <workspace>/VPC.txt: one
// "key: value" line per field, then the profile and settings blocks.
func (v *VPC) ExportTxt() error {
	var b strings.Builder

	for _, kv := range v.Fields() {
		fmt.Fprintf(&b, "%s: %s\n", kv[0], kv[1])
	}

	if v.Profile != nil {
		b.WriteString("\n# profile settings\n")
		fmt.Fprintf(&b, "profile[function]: %s\n", v.Profile.Function)
		fmt.Fprintf(&b, "profile[video]: %v\n", []string(v.Profile.Video))
		fmt.Fprintf(&b, "profile[audio]: %v\n", []string(v.Profile.Audio))
		fmt.Fprintf(&b, "profile[stereo]: %v\n", []string(v.Profile.Stereo))
		fmt.Fprintf(&b, "profile[HDR_enable]: %v\n", v.Profile.HDREnable)
		fmt.Fprintf(&b, "profile[FS_enable]: %v\n", v.Profile.FSEnable)
		fmt.Fprintf(&b, "profile[res_decode]: %v\n", v.Profile.Test.ResDecode)
		fmt.Fprintf(&b, "profile[cq_threashold]: %v\n", v.Profile.Test.CQThreshold)
		fmt.Fprintf(&b, "profile[defalut_cq]: %v\n", v.Profile.Test.DefaultCQ)
	}

	if v.Settings != nil {
		b.WriteString("\n# test_settings\n")
		fmt.Fprintf(&b, "settings[Black_bar_detection]: %+v\n", v.Settings.BlackBar)
		fmt.Fprintf(&b, "settings[Resolution_calculation]: %+v\n", v.Settings.Resolution)
		fmt.Fprintf(&b, "settings[CQ_calculation]: %+v\n", v.Settings.CQ)
		fmt.Fprintf(&b, "settings[Channels_calculation]: %+v\n", v.Settings.Channels)
		fmt.Fprintf(&b, "settings[Export_output]: %+v\n", v.Settings.ExportOutput)
		fmt.Fprintf(&b, "settings[Enable_delete]: %+v\n", v.Settings.EnableDelete)
	}

	path := filepath.Join(v.Workspace, "VPC.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write VPC.txt: %w", err)
	}
	return nil
}

// ParseTxt reads a VPC.txt back into key/value pairs, keyed by field name.
// Used for auditing a finished run.
func ParseTxt(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, found := strings.Cut(line, ": ")
		if !found {
			key, val, found = strings.Cut(line, ":")
			if !found {
				continue
			}
		}
		fields[key] = strings.TrimSpace(val)
	}
	return fields, nil
}

// SortedKeys returns the keys of a parsed VPC.txt in stable order, for
// deterministic reporting.
func SortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
