// internal/planner/speckit.go
package planner

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"inkforge/internal/workspace"
)

// StoryConfigPath is the story parameter file within a workspace.
const StoryConfigPath = ".inkforge/story.yaml"

// StoryConfig holds the story-level parameters that feed plan
// regeneration and prompt building.
type StoryConfig struct {
	Version           string      `yaml:"version"`
	StoryType         string      `yaml:"story_type"`
	TargetWords       int         `yaml:"target_words"`
	ChapterCount      int         `yaml:"chapter_count"`
	ChapterWordTarget int         `yaml:"chapter_word_target"`
	Style             StyleConfig `yaml:"style"`
	Rhythm            Rhythm      `yaml:"rhythm"`
	Ratios            Ratios      `yaml:"ratios"`
	Theme             Theme       `yaml:"theme"`
}

type StyleConfig struct {
	POV   string `yaml:"pov"`
	Tense string `yaml:"tense"`
	Tone  string `yaml:"tone"`
}

type Rhythm struct {
	Act1Ratio       float64 `yaml:"act1_ratio"`
	Act2Ratio       float64 `yaml:"act2_ratio"`
	Act3Ratio       float64 `yaml:"act3_ratio"`
	TensionBaseline int     `yaml:"tension_baseline"`
	TensionPeak     int     `yaml:"tension_peak"`
}

type Ratios struct {
	Dialogue    float64 `yaml:"dialogue"`
	Action      float64 `yaml:"action"`
	Description float64 `yaml:"description"`
}

type Theme struct {
	Statement string   `yaml:"statement"`
	Keywords  []string `yaml:"keywords,omitempty"`
}

// DefaultStoryConfig returns the shipped story parameters.
func DefaultStoryConfig() StoryConfig {
	return StoryConfig{
		Version:           "1.0.0",
		StoryType:         "coming_of_age",
		TargetWords:       100000,
		ChapterCount:      30,
		ChapterWordTarget: 3500,
		Style: StyleConfig{
			POV:   "third_limited",
			Tense: "past",
			Tone:  "serious",
		},
		Rhythm: Rhythm{
			Act1Ratio:       0.25,
			Act2Ratio:       0.50,
			Act3Ratio:       0.25,
			TensionBaseline: 20,
			TensionPeak:     95,
		},
		Ratios: Ratios{
			Dialogue:    0.35,
			Action:      0.25,
			Description: 0.40,
		},
	}
}

// normalize clamps out-of-range values back to sane defaults.
func (c *StoryConfig) normalize() {
	def := DefaultStoryConfig()
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.TargetWords <= 0 {
		c.TargetWords = def.TargetWords
	}
	if c.ChapterCount <= 0 {
		c.ChapterCount = def.ChapterCount
	}
	if c.ChapterWordTarget <= 0 {
		c.ChapterWordTarget = def.ChapterWordTarget
	}
	if c.Rhythm.Act1Ratio <= 0 || c.Rhythm.Act2Ratio <= 0 || c.Rhythm.Act3Ratio <= 0 {
		c.Rhythm = def.Rhythm
	}
	if c.Ratios.Dialogue <= 0 && c.Ratios.Action <= 0 && c.Ratios.Description <= 0 {
		c.Ratios = def.Ratios
	}
}

// LoadStoryConfig reads the workspace story config, writing defaults
// when none exists yet.
func LoadStoryConfig(store *workspace.Store) (StoryConfig, error) {
	doc, err := store.Read(StoryConfigPath)
	if err != nil {
		cfg := DefaultStoryConfig()
		if saveErr := SaveStoryConfig(store, cfg); saveErr != nil {
			return cfg, saveErr
		}
		return cfg, nil
	}
	var cfg StoryConfig
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return StoryConfig{}, fmt.Errorf("parse story config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// SaveStoryConfig writes the story config to the workspace.
func SaveStoryConfig(store *workspace.Store, cfg StoryConfig) error {
	cfg.normalize()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal story config: %w", err)
	}
	return store.WriteEnsured(StoryConfigPath, string(data))
}
