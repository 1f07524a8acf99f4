package vpc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mhradec/autocomp/internal/config"
	"github.com/mhradec/autocomp/internal/logger"
	"github.com/mhradec/autocomp/internal/probe"
)

func testProfile() *config.Profile {
	return &config.Profile{
		Function:  "ffmpeg",
		Video:     config.ArgList{"-c:v", "hevc_nvenc", "-preset", "p7"},
		Audio:     config.ArgList{"-c:a", "libopus"},
		HDREnable: true,
		Test: config.ProfileTest{
			ResDecode: config.DecodeTable{
				{Res: 854, Slope: -10}, {Res: 1280, Slope: -1e-4}, {Res: 1920, Slope: -6.9e-5}, {Res: 3840, Slope: -4e-5},
			},
			CQThreshold: 0.6,
			DefaultCQ:   27,
		},
	}
}

func testSettings() *config.Settings {
	return &config.Settings{}
}

func fakeFFprobe(t *testing.T, jsonOut string) *probe.Prober {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffprobe")
	script := "#!/bin/sh\ncat <<'EOF'\n" + jsonOut + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return probe.New(path)
}

func TestNewCreatesWorkspace(t *testing.T) {
	logger.Init("error")
	ws := filepath.Join(t.TempDir(), "movie")

	v, err := New("/data/movie.mkv", "movie", ws)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := os.Stat(ws); err != nil {
		t.Errorf("workspace not created: %v", err)
	}
	if v.OutputFilePath != filepath.Join(ws, "movie.mkv") {
		t.Errorf("OutputFilePath = %q", v.OutputFilePath)
	}
	if v.HDRType != HDRUninit {
		t.Errorf("HDRType = %q, want uninit", v.HDRType)
	}
}

func TestAttachConfigSeedsDefaults(t *testing.T) {
	logger.Init("error")
	v, _ := New("/data/movie.mkv", "movie", t.TempDir())
	v.AttachConfig(testProfile(), testSettings())

	if v.OutputCQ != 27 {
		t.Errorf("OutputCQ = %v, want profile default 27", v.OutputCQ)
	}
	if !v.HDREnabled {
		t.Error("HDREnabled should mirror profile HDR_enable")
	}
}

func TestAnalyzeNonHEVCDisablesHDR(t *testing.T) {
	logger.Init("error")
	p := fakeFFprobe(t, `{"format": {"duration": "600.0"},
		"streams": [{"codec_name": "h264", "width": 1920, "height": 1080,
		             "r_frame_rate": "24/1", "avg_frame_rate": "24/1"}]}`)

	v, _ := New("/data/movie.mkv", "movie", t.TempDir())
	v.AttachConfig(testProfile(), testSettings())
	v.Analyze(context.Background(), p)

	if v.IsH265 {
		t.Error("h264 input must not report IsH265")
	}
	if v.HDREnabled {
		t.Error("HDR must be disabled for non-HEVC input even when the profile enables it")
	}
	if v.OutputRes != 1920 {
		t.Errorf("OutputRes = %d, want probed width 1920", v.OutputRes)
	}
	if v.SourcePath != v.OrigFilePath {
		t.Error("SourcePath should start at the original file")
	}
}

func TestCloneAndDisableParentHDR(t *testing.T) {
	logger.Init("error")
	root, _ := New("/data/movie.mkv", "movie", t.TempDir())
	root.AttachConfig(testProfile(), testSettings())
	root.HDREnabled = true

	child := root.Clone()
	grandchild := child.Clone()

	grandchild.DisableParentHDR()

	if root.HDREnabled || child.HDREnabled || grandchild.HDREnabled {
		t.Error("DisableParentHDR must clear the flag on the whole chain")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	logger.Init("error")
	root, _ := New("/data/movie.mkv", "movie", t.TempDir())
	root.SetOutputRes(1920)

	child := root.Clone()
	child.SetOutputRes(854)
	child.SetCrop(60, 60)

	if root.OutputRes != 1920 {
		t.Errorf("parent OutputRes changed to %d", root.OutputRes)
	}
	if root.Crop != [2]int{0, 0} {
		t.Errorf("parent Crop changed to %v", root.Crop)
	}
}

func TestSetHDRType(t *testing.T) {
	logger.Init("error")
	v, _ := New("/data/movie.mkv", "movie", t.TempDir())

	v.SetHDRType(HDRDoVi)
	if v.HDRType != HDRDoVi {
		t.Errorf("HDRType = %q, want DoVi", v.HDRType)
	}

	v.SetHDRType("weird")
	if v.HDRType != HDRDoVi {
		t.Errorf("invalid type must not overwrite, got %q", v.HDRType)
	}
}

func TestExportTxtRoundTrip(t *testing.T) {
	logger.Init("error")
	ws := t.TempDir()
	v, _ := New("/data/movie.mkv", "movie", ws)
	v.AttachConfig(testProfile(), testSettings())
	v.OrigHRes = 3840
	v.OrigVRes = 2160
	v.OrigDuration = 7254.5
	v.IsH265 = true
	v.SetOutputRes(1920)
	v.SetOutputCQ(23.5)
	v.SetCrop(60, 60)
	v.SetChannels(6)
	v.SetHDRType(HDR10)

	if err := v.ExportTxt(); err != nil {
		t.Fatalf("ExportTxt: %v", err)
	}

	fields, err := ParseTxt(filepath.Join(ws, "VPC.txt"))
	if err != nil {
		t.Fatalf("ParseTxt: %v", err)
	}

	// Every serialised field must read back with the value that was on
	// the record, decisions included.
	for _, kv := range v.Fields() {
		got, ok := fields[kv[0]]
		if !ok {
			t.Errorf("field %q missing from VPC.txt", kv[0])
			continue
		}
		if got != kv[1] {
			t.Errorf("field %q = %q, want %q", kv[0], got, kv[1])
		}
	}

	if fields["output_cq"] != "23.5" {
		t.Errorf("output_cq = %q, want 23.5", fields["output_cq"])
	}
	if fields["crop"] != "[60, 60]" {
		t.Errorf("crop = %q, want [60, 60]", fields["crop"])
	}
	if fields["profile[defalut_cq]"] != "27" {
		t.Errorf("profile default cq = %q", fields["profile[defalut_cq]"])
	}
}

func TestSetOutputFileName(t *testing.T) {
	logger.Init("error")
	ws := t.TempDir()
	v, _ := New("/data/movie.mkv", "movie", ws)

	v.SetOutputFileName("movie_v2")
	if v.OutputFilePath != filepath.Join(ws, "movie_v2.mkv") {
		t.Errorf("OutputFilePath = %q", v.OutputFilePath)
	}
}
