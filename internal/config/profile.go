package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ArgList is an ordered list of encoder arguments. In the profile YAML the
// section is written as a mapping of flag to value; declaration order is
// significant, so decoding goes through yaml.Node instead of a Go map.
// A plain sequence of strings is accepted too.
type ArgList []string

// UnmarshalYAML flattens a YAML mapping into ["-flag", "value", ...] pairs in
// declaration order, or copies a sequence verbatim.
func (a *ArgList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make([]string, 0, len(node.Content))
		for i := 0; i+1 < len(node.Content); i += 2 {
			out = append(out, node.Content[i].Value, node.Content[i+1].Value)
		}
		*a = out
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, c := range node.Content {
			out = append(out, c.Value)
		}
		*a = out
		return nil
	case 0:
		*a = nil
		return nil
	}
	return fmt.Errorf("args section must be a mapping or sequence, got %v", node.Kind)
}

// DecodeEntry maps a horizontal resolution to the minimum measured slope that
// justifies encoding at that resolution.
type DecodeEntry struct {
	Res   int
	Slope float64
}

// DecodeTable is the profile's slope-to-resolution mapping. Entries keep YAML
// declaration order; the resolver iterates them in order and raises the target
// monotonically, so an unordered map would change decisions.
type DecodeTable []DecodeEntry

func (d *DecodeTable) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("res_decode must be a mapping, got %v", node.Kind)
	}
	out := make(DecodeTable, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		res, err := strconv.Atoi(node.Content[i].Value)
		if err != nil {
			return fmt.Errorf("res_decode key %q: %w", node.Content[i].Value, err)
		}
		slope, err := strconv.ParseFloat(node.Content[i+1].Value, 64)
		if err != nil {
			return fmt.Errorf("res_decode value %q: %w", node.Content[i+1].Value, err)
		}
		out = append(out, DecodeEntry{Res: res, Slope: slope})
	}
	*d = out
	return nil
}

// ProfileTest carries the decision thresholds embedded in a profile. The YAML
// key spellings (cq_threashold, defalut_cq) are part of the established file
// format and are kept as-is.
type ProfileTest struct {
	ResDecode   DecodeTable `yaml:"res_decode"`
	CQThreshold float64     `yaml:"cq_threashold"`
	DefaultCQ   float64     `yaml:"defalut_cq"`
}

// Profile is a static description of how to encode, loaded from a YAML file.
// It is read-only after load; per-video mutable state lives on the VPC.
type Profile struct {
	// Function selects the encoder front-end: "HandbrakeAV1" or "ffmpeg"
	Function string `yaml:"function"`

	// Video is the ordered argument list for the video pass
	Video ArgList `yaml:"video"`

	// Audio is the argument list for the audio pass
	Audio ArgList `yaml:"audio"`

	// Stereo, when present, replaces Audio for two-channel output
	Stereo ArgList `yaml:"stereo"`

	// HDREnable permits the HDR metadata round-trip path
	HDREnable bool `yaml:"HDR_enable"`

	// FSEnable permits fast-seek (pre-input) placement of -ss
	FSEnable bool `yaml:"FS_enable"`

	Test ProfileTest `yaml:"test_settings"`
}

// LoadProfile reads an encoding profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	if p.Function == "" {
		return nil, fmt.Errorf("profile missing function")
	}
	if p.Test.DefaultCQ == 0 {
		return nil, fmt.Errorf("profile missing defalut_cq")
	}

	return &p, nil
}

// CQRange returns the lowest and highest CQ values a decision may take given
// the configured test values, useful for sanity checks and reporting.
func CQRange(cqValues []float64) (min, max float64) {
	if len(cqValues) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), cqValues...)
	sort.Float64s(sorted)
	return sorted[0], sorted[len(sorted)-1]
}
