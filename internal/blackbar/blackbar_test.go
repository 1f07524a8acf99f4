package blackbar

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/mhradec/autocomp/internal/logger"
)

// writePNG renders a frame with black bars of the given heights and a grey
// picture area between them.
func writePNG(t *testing.T, path string, width, height, topBar, bottomBar int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		var c color.RGBA
		switch {
		case y < topBar || y >= height-bottomBar:
			c = color.RGBA{2, 2, 2, 255}
		default:
			c = color.RGBA{120, 120, 120, 255}
		}
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// fakeFFmpeg copies a prepared frame to the requested output path. With
// several sources it cycles through them call by call.
func fakeFFmpeg(t *testing.T, dir string, sources ...string) string {
	t.Helper()
	countFile := filepath.Join(dir, "count")
	tool := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\n" +
		"n=$(cat " + countFile + " 2>/dev/null || echo 0)\n" +
		"n=$((n + 1))\n" +
		"echo $n > " + countFile + "\n" +
		"for last; do :; done\n" +
		"case $((n % " + itoa(len(sources)) + ")) in\n"
	for i, src := range sources {
		script += itoa((i+1)%len(sources)) + ") cp " + src + " \"$last\" ;;\n"
	}
	script += "esac\n"
	if err := os.WriteFile(tool, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return tool
}

func itoa(n int) string {
	s := ""
	if n == 0 {
		return "0"
	}
	for n > 0 {
		s = string(rune('0'+n%10)) + s
		n /= 10
	}
	return s
}

func TestDetectLetterbox(t *testing.T) {
	logger.Init("error")
	dir := t.TempDir()

	frame := filepath.Join(dir, "source.png")
	writePNG(t, frame, 192, 108, 6, 6)
	tool := fakeFFmpeg(t, dir, frame)

	d := &Detector{FFmpeg: tool}
	top, bottom, err := d.Detect(context.Background(), "in.mkv", filepath.Join(dir, "detect"), 3200, 16)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if top != 6 || bottom != 6 {
		t.Errorf("crop = [%d, %d], want [6, 6]", top, bottom)
	}
}

func TestDetectNoBars(t *testing.T) {
	logger.Init("error")
	dir := t.TempDir()

	frame := filepath.Join(dir, "source.png")
	writePNG(t, frame, 192, 108, 0, 0)
	tool := fakeFFmpeg(t, dir, frame)

	d := &Detector{FFmpeg: tool}
	top, bottom, err := d.Detect(context.Background(), "in.mkv", filepath.Join(dir, "detect"), 3200, 4)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if top != 0 || bottom != 0 {
		t.Errorf("crop = [%d, %d], want [0, 0]", top, bottom)
	}
}

func TestDetectTakesMinimumAcrossFrames(t *testing.T) {
	logger.Init("error")
	dir := t.TempDir()

	// A dark scene reads as deeper bars; the frame with real picture at
	// the edge must win.
	darkScene := filepath.Join(dir, "dark.png")
	writePNG(t, darkScene, 192, 108, 30, 30)
	normal := filepath.Join(dir, "normal.png")
	writePNG(t, normal, 192, 108, 6, 8)
	tool := fakeFFmpeg(t, dir, darkScene, normal)

	d := &Detector{FFmpeg: tool}
	top, bottom, err := d.Detect(context.Background(), "in.mkv", filepath.Join(dir, "detect"), 3200, 4)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if top != 6 || bottom != 8 {
		t.Errorf("crop = [%d, %d], want per-side minimum [6, 8]", top, bottom)
	}
}

func TestDetectAsymmetricBars(t *testing.T) {
	logger.Init("error")
	dir := t.TempDir()

	frame := filepath.Join(dir, "source.png")
	writePNG(t, frame, 192, 108, 10, 4)
	tool := fakeFFmpeg(t, dir, frame)

	d := &Detector{FFmpeg: tool}
	top, bottom, err := d.Detect(context.Background(), "in.mkv", filepath.Join(dir, "detect"), 3200, 2)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if top != 10 || bottom != 4 {
		t.Errorf("crop = [%d, %d], want [10, 4]", top, bottom)
	}
}

func TestDetectFullyBlackFrames(t *testing.T) {
	logger.Init("error")
	dir := t.TempDir()

	frame := filepath.Join(dir, "source.png")
	writePNG(t, frame, 192, 108, 108, 0)
	tool := fakeFFmpeg(t, dir, frame)

	d := &Detector{FFmpeg: tool}
	_, _, err := d.Detect(context.Background(), "in.mkv", filepath.Join(dir, "detect"), 3200, 2)
	if !errors.Is(err, ErrNoDecision) {
		t.Errorf("fully black samples must yield ErrNoDecision, got %v", err)
	}
}

func TestDetectExtractionFailure(t *testing.T) {
	logger.Init("error")
	dir := t.TempDir()

	tool := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\nexit 1\n"), 0755); err != nil {
		t.Fatal(err)
	}

	d := &Detector{FFmpeg: tool}
	_, _, err := d.Detect(context.Background(), "in.mkv", filepath.Join(dir, "detect"), 3200, 3)
	if !errors.Is(err, ErrNoDecision) {
		t.Errorf("no extracted frames must yield ErrNoDecision, got %v", err)
	}
}

func TestMeasureColumn(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 50))
	for y := 0; y < 50; y++ {
		c := color.RGBA{200, 200, 200, 255}
		if y < 5 || y >= 45 {
			c = color.RGBA{0, 0, 0, 255}
		}
		for x := 0; x < 20; x++ {
			img.Set(x, y, c)
		}
	}

	top, bottom := measureColumn(img)
	if top != 5 || bottom != 5 {
		t.Errorf("measureColumn = (%d, %d), want (5, 5)", top, bottom)
	}
}

func TestIsBlackThreshold(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{9, 9, 9, 255})
	img.Set(1, 0, color.RGBA{10, 10, 10, 255})

	if !isBlack(img, 0, 0) {
		t.Error("channel value 9 must count as black")
	}
	if isBlack(img, 1, 0) {
		t.Error("channel value 10 must not count as black")
	}
}
