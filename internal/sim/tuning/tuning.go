package tuning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	AI          AI          `yaml:"ai"`
	Validation  Validation  `yaml:"validation"`
	Broadcast   Broadcast   `yaml:"broadcast"`
	Persistence Persistence `yaml:"persistence"`
	Clock       Clock       `yaml:"clock"`
}

type AI struct {
	StepIntervalMs   int     `yaml:"step_interval_ms"`
	WaypointReach    float64 `yaml:"waypoint_reach"`
	DisengageFactor  float64 `yaml:"disengage_factor"`
	AttackExitFactor float64 `yaml:"attack_exit_factor"`
}

type Validation struct {
	MaxSpeed            float64 `yaml:"max_speed"`
	SpeedTolerance      float64 `yaml:"speed_tolerance"`
	MinDisplacement     float64 `yaml:"min_displacement"`
	MinSamples          int     `yaml:"min_samples"`
	MinDeltaSec         float64 `yaml:"min_delta_sec"`
	MaxDeltaSec         float64 `yaml:"max_delta_sec"`
	MaxDamage           float64 `yaml:"max_damage"`
	MaxAttackRange      float64 `yaml:"max_attack_range"`
	HealthEpsilon       float64 `yaml:"health_epsilon"`
	HealthJump          float64 `yaml:"health_jump"`
	MaxPickupRange      float64 `yaml:"max_pickup_range"`
	RateLimit           int     `yaml:"rate_limit"`
	RateWindowMs        int     `yaml:"rate_window_ms"`
	KickAfterViolations int     `yaml:"kick_after_violations"`
}

type Broadcast struct {
	AIIntervalMs      int `yaml:"ai_interval_ms"`
	PlayersIntervalMs int `yaml:"players_interval_ms"`
}

type Persistence struct {
	AutosaveSec int `yaml:"autosave_sec"`
	ArchiveKeep int `yaml:"archive_keep"`
}

type Clock struct {
	HoursPerSecond float64 `yaml:"hours_per_second"`
}

func Defaults() Tuning {
	return Tuning{
		AI: AI{
			StepIntervalMs:   50,
			WaypointReach:    0.5,
			DisengageFactor:  1.5,
			AttackExitFactor: 1.2,
		},
		Validation: Validation{
			MaxSpeed:            15,
			SpeedTolerance:      1.5,
			MinDisplacement:     1.0,
			MinSamples:          10,
			MinDeltaSec:         0.016,
			MaxDeltaSec:         1.0,
			MaxDamage:           500,
			MaxAttackRange:      100,
			HealthEpsilon:       0.1,
			HealthJump:          50,
			MaxPickupRange:      5,
			RateLimit:           100,
			RateWindowMs:        1000,
			KickAfterViolations: 10,
		},
		Broadcast: Broadcast{
			AIIntervalMs:      100,
			PlayersIntervalMs: 500,
		},
		Persistence: Persistence{
			AutosaveSec: 300,
			ArchiveKeep: 10,
		},
		Clock: Clock{HoursPerSecond: 0.001},
	}
}

func (a AI) StepInterval() time.Duration { return time.Duration(a.StepIntervalMs) * time.Millisecond }
func (v Validation) RateWindow() time.Duration {
	return time.Duration(v.RateWindowMs) * time.Millisecond
}
func (b Broadcast) AIInterval() time.Duration { return time.Duration(b.AIIntervalMs) * time.Millisecond }
func (b Broadcast) PlayersInterval() time.Duration {
	return time.Duration(b.PlayersIntervalMs) * time.Millisecond
}
func (p Persistence) Autosave() time.Duration { return time.Duration(p.AutosaveSec) * time.Second }

// Load reads path over the defaults; keys absent from the file keep their default value.
// On error the returned value is the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Defaults(), fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Defaults(), fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// LoadOrCreate is Load, writing the defaults to path first when it does not exist.
func LoadOrCreate(path string) (t Tuning, created bool, err error) {
	t, err = Load(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return t, false, err
	}
	t = Defaults()
	if err := writeYAML(path, t); err != nil {
		return t, false, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, true, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.AI.StepIntervalMs <= 0:
		return errors.New("ai.step_interval_ms must be > 0")
	case t.AI.DisengageFactor < 1 || t.AI.AttackExitFactor < 1:
		return errors.New("ai hysteresis factors must be >= 1")
	case t.Validation.MaxSpeed <= 0:
		return errors.New("validation.max_speed must be > 0")
	case t.Validation.RateLimit <= 0 || t.Validation.RateWindowMs <= 0:
		return errors.New("validation rate limit must be > 0")
	case t.Broadcast.AIIntervalMs <= 0 || t.Broadcast.PlayersIntervalMs <= 0:
		return errors.New("broadcast intervals must be > 0")
	case t.Persistence.AutosaveSec <= 0:
		return errors.New("persistence.autosave_sec must be > 0")
	}
	return nil
}

func writeYAML(path string, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o644)
}
