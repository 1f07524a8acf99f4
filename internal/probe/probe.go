// Package probe answers questions about a media file: duration, geometry,
// framerate, codec, container seekability, and static HDR metadata. All
// queries go through ffprobe except the fast-seek scan, which reads the
// container head directly.
package probe

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mhradec/autocomp/internal/logger"
	"github.com/mhradec/autocomp/internal/runner"
)

// Prober runs ffprobe queries against media files.
type Prober struct {
	FFprobe string
}

// New returns a Prober using the given ffprobe binary, or "ffprobe" from
// PATH when empty.
func New(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{FFprobe: ffprobePath}
}

type formatJSON struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type streamsJSON struct {
	Streams []streamJSON `json:"streams"`
}

type streamJSON struct {
	CodecName      string         `json:"codec_name"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	RFrameRate     string         `json:"r_frame_rate"`
	AvgFrameRate   string         `json:"avg_frame_rate"`
	ColorPrimaries string         `json:"color_primaries"`
	ColorSpace     string         `json:"color_space"`
	ColorTransfer  string         `json:"color_transfer"`
	ChromaLocation string         `json:"chroma_location"`
	SideDataList   []sideDataJSON `json:"side_data_list"`
}

type sideDataJSON struct {
	SideDataType string `json:"side_data_type"`

	// content light level
	MaxContent float64 `json:"max_content"`
	MaxAverage float64 `json:"max_average"`

	// mastering display, values arrive as rationals like "35400/50000"
	RedX         string `json:"red_x"`
	RedY         string `json:"red_y"`
	GreenX       string `json:"green_x"`
	GreenY       string `json:"green_y"`
	BlueX        string `json:"blue_x"`
	BlueY        string `json:"blue_y"`
	WhitePointX  string `json:"white_point_x"`
	WhitePointY  string `json:"white_point_y"`
	MinLuminance string `json:"min_luminance"`
	MaxLuminance string `json:"max_luminance"`
}

func (p *Prober) query(ctx context.Context, args ...string) ([]byte, bool) {
	argv := append([]string{p.FFprobe}, args...)
	lines, res := runner.RunCapture(ctx, argv, 0)
	if !res.OK {
		return nil, false
	}
	return []byte(strings.Join(lines, "\n")), true
}

// Duration returns the container duration in seconds, or 0 when it cannot be
// determined.
func (p *Prober) Duration(ctx context.Context, path string) float64 {
	out, ok := p.query(ctx, "-v", "error", "-show_entries", "format=duration", "-of", "json", path)
	if !ok {
		return 0
	}
	var data formatJSON
	if err := json.Unmarshal(out, &data); err != nil {
		logger.Warn("duration probe returned bad JSON", "path", path, "error", err)
		return 0
	}
	d, err := strconv.ParseFloat(data.Format.Duration, 64)
	if err != nil || d <= 0 {
		logger.Warn("duration probe returned no usable value", "path", path)
		return 0
	}
	return d
}

func (p *Prober) firstStream(ctx context.Context, path string, entries string) (streamJSON, bool) {
	args := []string{"-v", "error", "-select_streams", "v:0"}
	if entries != "" {
		args = append(args, "-show_entries", entries)
	} else {
		args = append(args, "-show_streams")
	}
	args = append(args, "-of", "json", path)

	out, ok := p.query(ctx, args...)
	if !ok {
		return streamJSON{}, false
	}
	var data streamsJSON
	if err := json.Unmarshal(out, &data); err != nil || len(data.Streams) == 0 {
		return streamJSON{}, false
	}
	return data.Streams[0], true
}

// Width returns the horizontal resolution of the first video stream, 0 on
// failure.
func (p *Prober) Width(ctx context.Context, path string) int {
	s, ok := p.firstStream(ctx, path, "stream=width")
	if !ok {
		return 0
	}
	return s.Width
}

// Height returns the vertical resolution of the first video stream, 0 on
// failure.
func (p *Prober) Height(ctx context.Context, path string) int {
	s, ok := p.firstStream(ctx, path, "stream=height")
	if !ok {
		return 0
	}
	return s.Height
}

// FrameRate returns the framerate of the first video stream. r_frame_rate is
// tried first (constant frame rate), then avg_frame_rate; a value is accepted
// only in the [10, 1000] fps range. Returns 0 when neither probe yields a
// plausible rate.
func (p *Prober) FrameRate(ctx context.Context, path string) float64 {
	s, ok := p.firstStream(ctx, path, "stream=r_frame_rate,avg_frame_rate")
	if !ok {
		return 0
	}
	for _, raw := range []string{s.RFrameRate, s.AvgFrameRate} {
		if fps, ok := parseRational(raw); ok && fps >= 10 && fps <= 1000 {
			return fps
		}
	}
	logger.Warn("framerate detection failed", "path", path)
	return 0
}

// IsHEVC reports whether the first video stream uses the H.265/HEVC codec.
func (p *Prober) IsHEVC(ctx context.Context, path string) bool {
	s, ok := p.firstStream(ctx, path, "stream=codec_name")
	if !ok {
		return false
	}
	return strings.ToLower(s.CodecName) == "hevc"
}

// VUI holds the color-description fields of the video usability information.
type VUI struct {
	ColorPrimaries string
	ColorSpace     string
	ColorTransfer  string
	ChromaLocation string
}

// SideData holds static HDR metadata attached to the stream: content light
// level and mastering display primaries.
type SideData struct {
	CllExists  bool
	MaxContent float64
	MaxAverage float64

	MasteringExists bool
	RedX            float64
	RedY            float64
	GreenX          float64
	GreenY          float64
	BlueX           float64
	BlueY           float64
	WhitePointX     float64
	WhitePointY     float64
	MinLuminance    float64
	MaxLuminance    float64
}

// StaticMetadata extracts VUI color description and HDR side data from the
// first video stream. Missing fields come back as "unknown" / zero values;
// a failed probe returns the neutral structs.
func (p *Prober) StaticMetadata(ctx context.Context, path string) (VUI, SideData) {
	vui := VUI{
		ColorPrimaries: "unknown",
		ColorSpace:     "unknown",
		ColorTransfer:  "unknown",
		ChromaLocation: "unknown",
	}
	var side SideData

	s, ok := p.firstStream(ctx, path, "")
	if !ok {
		logger.Warn("static metadata probe failed", "path", path)
		return vui, side
	}

	if s.ColorPrimaries != "" {
		vui.ColorPrimaries = s.ColorPrimaries
	}
	if s.ColorSpace != "" {
		vui.ColorSpace = s.ColorSpace
	}
	if s.ColorTransfer != "" {
		vui.ColorTransfer = s.ColorTransfer
	}
	if s.ChromaLocation != "" {
		vui.ChromaLocation = s.ChromaLocation
	}

	for _, sd := range s.SideDataList {
		switch {
		case strings.Contains(sd.SideDataType, "Content light level"):
			side.CllExists = true
			side.MaxContent = sd.MaxContent
			side.MaxAverage = sd.MaxAverage
		case strings.Contains(sd.SideDataType, "Mastering display"):
			side.MasteringExists = true
			side.RedX = rationalOrZero(sd.RedX)
			side.RedY = rationalOrZero(sd.RedY)
			side.GreenX = rationalOrZero(sd.GreenX)
			side.GreenY = rationalOrZero(sd.GreenY)
			side.BlueX = rationalOrZero(sd.BlueX)
			side.BlueY = rationalOrZero(sd.BlueY)
			side.WhitePointX = rationalOrZero(sd.WhitePointX)
			side.WhitePointY = rationalOrZero(sd.WhitePointY)
			side.MinLuminance = rationalOrZero(sd.MinLuminance)
			side.MaxLuminance = rationalOrZero(sd.MaxLuminance)
		}
	}
	return vui, side
}

// parseRational parses "num/den" or a plain decimal.
func parseRational(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if num, den, found := strings.Cut(raw, "/"); found {
		n, errN := strconv.ParseFloat(num, 64)
		d, errD := strconv.ParseFloat(den, 64)
		if errN != nil || errD != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func rationalOrZero(raw string) float64 {
	v, _ := parseRational(raw)
	return v
}
