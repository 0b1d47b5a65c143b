package allocation

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ScoreWeights struct {
	Completion float64 `yaml:"completion_rate"`
	OnTime     float64 `yaml:"ontime_rate"`
	Acceptance float64 `yaml:"acceptance_rate"`
	// QualityScale and PerformanceDivisor keep quality_score the dominant
	// sort key: score = quality*scale + performance/divisor.
	QualityScale       float64 `yaml:"quality_scale"`
	PerformanceDivisor float64 `yaml:"performance_divisor"`
}

type CapacityRules struct {
	ConsumeOn       string `yaml:"consume_on"` // allocate|accept
	FreeOn          string `yaml:"free_on"`    // reject,timeout,unallocate
	ResetTime       string `yaml:"reset_time"` // "HH:MM", daily boundary
	DefaultMaxDaily int    `yaml:"default_max_daily"`
}

type QualityThresholds struct {
	MinQualityScore   float64 `yaml:"min_quality_score"`
	MinCompletionRate float64 `yaml:"min_completion_rate"`
	MinAcceptanceRate float64 `yaml:"min_acceptance_rate"`
}

type Config struct {
	Weights                 ScoreWeights      `yaml:"score_weights"`
	AcceptanceWindowMinutes int               `yaml:"acceptance_window_minutes"`
	NudgeAfterMinutes       int               `yaml:"nudge_after_minutes"`
	MaxWaves                int               `yaml:"max_waves"`
	Capacity                CapacityRules     `yaml:"capacity"`
	Thresholds              QualityThresholds `yaml:"quality_thresholds"`
}

func Default() Config {
	return Config{
		Weights: ScoreWeights{
			Completion:         0.4,
			OnTime:             0.4,
			Acceptance:         0.2,
			QualityScale:       10,
			PerformanceDivisor: 10,
		},
		AcceptanceWindowMinutes: 30,
		NudgeAfterMinutes:       15,
		MaxWaves:                3,
		Capacity: CapacityRules{
			ConsumeOn:       "allocate",
			FreeOn:          "reject,timeout,unallocate",
			ResetTime:       "06:00",
			DefaultMaxDaily: 10,
		},
		Thresholds: QualityThresholds{
			MinQualityScore:   0.30,
			MinCompletionRate: 0.30,
			MinAcceptanceRate: 0.30,
		},
	}
}

// Load reads a yaml config file and merges it over the defaults. Any read or
// parse failure returns the defaults along with the error; callers log and
// keep going rather than failing allocation.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read allocation config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse allocation config: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	d := Default()
	if c.Weights.QualityScale <= 0 {
		c.Weights.QualityScale = d.Weights.QualityScale
	}
	if c.Weights.PerformanceDivisor <= 0 {
		c.Weights.PerformanceDivisor = d.Weights.PerformanceDivisor
	}
	if c.AcceptanceWindowMinutes <= 0 {
		c.AcceptanceWindowMinutes = d.AcceptanceWindowMinutes
	}
	if c.NudgeAfterMinutes <= 0 {
		c.NudgeAfterMinutes = d.NudgeAfterMinutes
	}
	if c.MaxWaves <= 0 {
		c.MaxWaves = d.MaxWaves
	}
	if strings.TrimSpace(c.Capacity.ConsumeOn) == "" {
		c.Capacity.ConsumeOn = d.Capacity.ConsumeOn
	}
	if strings.TrimSpace(c.Capacity.FreeOn) == "" {
		c.Capacity.FreeOn = d.Capacity.FreeOn
	}
	if strings.TrimSpace(c.Capacity.ResetTime) == "" {
		c.Capacity.ResetTime = d.Capacity.ResetTime
	}
	if c.Capacity.DefaultMaxDaily <= 0 {
		c.Capacity.DefaultMaxDaily = d.Capacity.DefaultMaxDaily
	}
	return c
}

func (c Config) AcceptanceWindow() time.Duration {
	return time.Duration(c.AcceptanceWindowMinutes) * time.Minute
}

func (c Config) NudgeAfter() time.Duration {
	return time.Duration(c.NudgeAfterMinutes) * time.Minute
}

// ResetClock parses the capacity reset boundary; malformed values fall back
// to 06:00.
func (c Config) ResetClock() (hour, minute int) {
	parts := strings.SplitN(strings.TrimSpace(c.Capacity.ResetTime), ":", 2)
	if len(parts) != 2 {
		return 6, 0
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 6, 0
	}
	return h, m
}

func (c Config) ConsumeOnAllocate() bool {
	return strings.TrimSpace(strings.ToLower(c.Capacity.ConsumeOn)) != "accept"
}
