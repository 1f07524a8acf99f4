package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BlackBarStage configures black-bar probing.
type BlackBarStage struct {
	Enabled        bool `yaml:"Enabled"`
	FramesToDetect int  `yaml:"frames_to_detect"`
}

// ResolutionStage configures the resolution test. Threads is capitalized in
// the YAML; that spelling is part of the established settings format.
type ResolutionStage struct {
	Enabled            bool    `yaml:"Enabled"`
	NumOfTests         int     `yaml:"num_of_tests"`
	TestingResolutions []int   `yaml:"testing_resolutions"`
	SceneLength        int     `yaml:"scene_length"`
	CQValue            float64 `yaml:"cq_value"`
	KeepBestSlopes     float64 `yaml:"keep_best_slopes"`
	NumOfVQARuns       int     `yaml:"num_of_VQA_runs"`
	Threads            int     `yaml:"Threads"`
}

// CQStage configures the constant-quality search.
type CQStage struct {
	Enabled        bool      `yaml:"Enabled"`
	CQValues       []float64 `yaml:"cq_values"`
	NumberOfScenes int       `yaml:"number_of_scenes"`
	CQReference    float64   `yaml:"cq_reference"`
	SceneLength    int       `yaml:"scene_length"`
	KeepBestScenes float64   `yaml:"keep_best_scenes"`
	Threads        int       `yaml:"threads"`
}

// ChannelsStage configures audio channel deduplication.
type ChannelsStage struct {
	Enabled          bool    `yaml:"Enabled"`
	SimilarityCutoff float64 `yaml:"similarity_cutoff"`
	Duration         int     `yaml:"duration"`
}

// ToggleStage is a stage with no parameters beyond on/off.
type ToggleStage struct {
	Enabled bool `yaml:"Enabled"`
}

// Settings holds the per-run stage configuration loaded from the settings
// YAML. Unlike Profile, which describes how to encode, Settings describes
// which measurements to run and how hard to work at them.
type Settings struct {
	BlackBar     BlackBarStage   `yaml:"Black_bar_detection"`
	Resolution   ResolutionStage `yaml:"Resolution_calculation"`
	CQ           CQStage         `yaml:"CQ_calculation"`
	Channels     ChannelsStage   `yaml:"Channels_calculation"`
	ExportOutput ToggleStage     `yaml:"Export_output"`
	EnableDelete ToggleStage     `yaml:"Enable_delete"`
}

// LoadSettings reads the stage settings from a YAML file and fills in
// defaults for anything the file leaves out.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	s.applyDefaults()
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.BlackBar.FramesToDetect == 0 {
		s.BlackBar.FramesToDetect = 10
	}

	if s.Resolution.NumOfTests == 0 {
		s.Resolution.NumOfTests = 5
	}
	if len(s.Resolution.TestingResolutions) == 0 {
		s.Resolution.TestingResolutions = []int{854, 3840}
	}
	if s.Resolution.SceneLength == 0 {
		s.Resolution.SceneLength = 1
	}
	if s.Resolution.CQValue == 0 {
		s.Resolution.CQValue = 1
	}
	if s.Resolution.KeepBestSlopes == 0 {
		s.Resolution.KeepBestSlopes = 0.6
	}
	if s.Resolution.NumOfVQARuns == 0 {
		s.Resolution.NumOfVQARuns = 2
	}
	if s.Resolution.Threads == 0 {
		s.Resolution.Threads = 6
	}

	if len(s.CQ.CQValues) == 0 {
		s.CQ.CQValues = []float64{15, 18, 27, 36}
	}
	if s.CQ.NumberOfScenes == 0 {
		s.CQ.NumberOfScenes = 3
	}
	if s.CQ.CQReference == 0 {
		s.CQ.CQReference = 1
	}
	if s.CQ.SceneLength == 0 {
		s.CQ.SceneLength = 60
	}
	if s.CQ.KeepBestScenes == 0 {
		s.CQ.KeepBestScenes = 0.6
	}
	if s.CQ.Threads == 0 {
		s.CQ.Threads = 6
	}

	if s.Channels.SimilarityCutoff == 0 {
		s.Channels.SimilarityCutoff = 0.01
	}
	if s.Channels.Duration == 0 {
		s.Channels.Duration = 60
	}
}
