package quality

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mhradec/autocomp/internal/logger"
)

func fakeScorer(t *testing.T, script string) *Scorer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vqa.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return &Scorer{Command: []string{path}, Timeout: 10 * time.Second}
}

func TestScore(t *testing.T) {
	logger.Init("error")
	s := fakeScorer(t, `echo "loading weights"
echo "The quality score of the video (range [0,1]) is 0.71342"
`)

	score, ok := s.Score(context.Background(), "clip.mkv", 1)
	if !ok {
		t.Fatal("expected score")
	}
	if score != 0.71342 {
		t.Errorf("score = %v, want 0.71342", score)
	}
}

func TestScoreAveragesRuns(t *testing.T) {
	logger.Init("error")
	dir := t.TempDir()
	countFile := filepath.Join(dir, "count")
	path := filepath.Join(dir, "vqa.sh")
	script := `#!/bin/sh
n=$(cat ` + countFile + ` 2>/dev/null || echo 0)
n=$((n + 1))
echo $n > ` + countFile + `
if [ $n -eq 1 ]; then
  echo "The quality score of the video (range [0,1]) is 0.60000"
else
  echo "The quality score of the video (range [0,1]) is 0.80000"
fi
`
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	s := &Scorer{Command: []string{path}, Timeout: 10 * time.Second}

	score, ok := s.Score(context.Background(), "clip.mkv", 2)
	if !ok {
		t.Fatal("expected score")
	}
	if score != 0.7 {
		t.Errorf("score = %v, want mean 0.7", score)
	}
}

func TestScoreToleratesOneFailedRun(t *testing.T) {
	logger.Init("error")
	dir := t.TempDir()
	countFile := filepath.Join(dir, "count")
	path := filepath.Join(dir, "vqa.sh")
	script := `#!/bin/sh
n=$(cat ` + countFile + ` 2>/dev/null || echo 0)
n=$((n + 1))
echo $n > ` + countFile + `
if [ $n -eq 1 ]; then
  exit 1
fi
echo "The quality score of the video (range [0,1]) is 0.50000"
`
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	s := &Scorer{Command: []string{path}, Timeout: 10 * time.Second}

	score, ok := s.Score(context.Background(), "clip.mkv", 2)
	if !ok {
		t.Fatal("one good run should still produce a score")
	}
	if score != 0.5 {
		t.Errorf("score = %v, want 0.5", score)
	}
}

func TestScoreNoScoreLine(t *testing.T) {
	logger.Init("error")
	s := fakeScorer(t, `echo "model exploded"`)

	if _, ok := s.Score(context.Background(), "clip.mkv", 2); ok {
		t.Error("missing score line must report not ok")
	}
}

func TestScoreTimeout(t *testing.T) {
	logger.Init("error")
	s := fakeScorer(t, "sleep 5\n")
	s.Timeout = 200 * time.Millisecond

	if _, ok := s.Score(context.Background(), "clip.mkv", 1); ok {
		t.Error("timed-out scorer must report not ok")
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  float64
		ok    bool
	}{
		{
			"plain score",
			[]string{"The quality score of the video (range [0,1]) is 0.81234"},
			0.81234, true,
		},
		{
			"perfect score",
			[]string{"The quality score of the video (range [0,1]) is 1.00000"},
			1.0, true,
		},
		{
			"score buried in output",
			[]string{"warmup", "The quality score of the video (range [0,1]) is 0.5", "done"},
			0.5, true,
		},
		{
			"no matching line",
			[]string{"nothing here"},
			0, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseScore(tt.lines)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseScore = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestVMAF(t *testing.T) {
	logger.Init("error")
	dir := t.TempDir()
	logPath := filepath.Join(dir, "VMAFlog.xml")

	// The fake ffmpeg writes the libvmaf XML log the real filter would.
	tool := filepath.Join(dir, "ffmpeg")
	script := `#!/bin/sh
cat > ` + logPath + ` <<'EOF'
<fyi fps="120.5" />
<metric name="psnr_y" harmonic_mean="43.1" />
<metric name="vmaf" min="88.1" max="99.2" mean="96.44" harmonic_mean="96.40121" />
EOF
`
	if err := os.WriteFile(tool, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	score, ok := VMAF(context.Background(), tool, "ref.mkv", "dist.mkv", 8, logPath)
	if !ok {
		t.Fatal("expected VMAF score")
	}
	if score != 96.40121 {
		t.Errorf("score = %v, want 96.40121", score)
	}
}

func TestVMAFFailedRun(t *testing.T) {
	logger.Init("error")
	tool := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\nexit 1\n"), 0755); err != nil {
		t.Fatal(err)
	}

	if _, ok := VMAF(context.Background(), tool, "ref.mkv", "dist.mkv", 8, "nolog.xml"); ok {
		t.Error("failed ffmpeg must report not ok")
	}
}

func TestVMAFMissingMetric(t *testing.T) {
	logger.Init("error")
	dir := t.TempDir()
	logPath := filepath.Join(dir, "VMAFlog.xml")
	tool := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\necho '<fyi fps=\"120\" />' > " + logPath + "\n"
	if err := os.WriteFile(tool, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	if _, ok := VMAF(context.Background(), tool, "ref.mkv", "dist.mkv", 8, logPath); ok {
		t.Error("log without vmaf metric must report not ok")
	}
}
