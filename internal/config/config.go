package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type RigConfig struct {
	Name     string
	Session  SessionConfig
	Loop     LoopConfig
	Link     LinkConfig
	Joints   JointsConfig
	IMU      IMUConfig
	Blackbox BlackboxConfig
	Admin    AdminConfig
}

type SessionConfig struct {
	ResendInterval time.Duration
}

type LoopConfig struct {
	Period time.Duration
	// MaxCycles stops the loop after this many cycles. Zero runs until
	// cancelled.
	MaxCycles uint64
	// Policy is "hold" or "pd". The pd policy holds the pose read on the
	// first cycle.
	Policy string
	Kp     float64
	Kd     float64
}

const (
	PolicyHold = "hold"
	PolicyPD   = "pd"
)

type LinkConfig struct {
	AckAfterPackets int
	Timeout         time.Duration
	Unreachable     bool
}

type JointsConfig struct {
	Count         int
	MotorIndexes  []int
	Polarities    []bool
	GearRatio     float64
	MotorConstant float64
	MaxCurrent    float64
	SafetyDamping float64
	MaxVelocity   float64
	LowerLimits   []float64
	UpperLimits   []float64
}

type IMUConfig struct {
	Enabled bool
}

type BlackboxConfig struct {
	Path string
}

type AdminConfig struct {
	Addr        string
	CorsOrigins []string
}

func Default() RigConfig {
	return RigConfig{
		Name:    "solo12",
		Session: SessionConfig{ResendInterval: time.Millisecond},
		Loop: LoopConfig{
			Period: time.Millisecond,
			Policy: PolicyHold,
			Kp:     3.0,
			Kd:     0.05,
		},
		Link: LinkConfig{
			AckAfterPackets: 3,
			Timeout:         100 * time.Millisecond,
		},
		Joints: JointsConfig{
			Count:         12,
			GearRatio:     9.0,
			MotorConstant: 0.025,
			MaxCurrent:    8.0,
			SafetyDamping: 0.2,
			MaxVelocity:   80.0,
		},
		IMU:   IMUConfig{Enabled: true},
		Admin: AdminConfig{Addr: "127.0.0.1:7020"},
	}
}

type fileConfig struct {
	Name    string `toml:"name"`
	Session struct {
		ResendInterval string `toml:"resend_interval"`
	} `toml:"session"`
	Loop struct {
		Period    string  `toml:"period"`
		MaxCycles uint64  `toml:"max_cycles"`
		Policy    string  `toml:"policy"`
		Kp        float64 `toml:"kp"`
		Kd        float64 `toml:"kd"`
	} `toml:"loop"`
	Link struct {
		AckAfterPackets int    `toml:"ack_after_packets"`
		Timeout         string `toml:"timeout"`
		Unreachable     bool   `toml:"unreachable"`
	} `toml:"link"`
	Joints struct {
		Count         int       `toml:"count"`
		MotorIndexes  []int     `toml:"motor_indexes"`
		Polarities    []bool    `toml:"polarities"`
		GearRatio     float64   `toml:"gear_ratio"`
		MotorConstant float64   `toml:"motor_constant"`
		MaxCurrent    float64   `toml:"max_current"`
		SafetyDamping float64   `toml:"safety_damping"`
		MaxVelocity   float64   `toml:"max_velocity"`
		LowerLimits   []float64 `toml:"lower_limits"`
		UpperLimits   []float64 `toml:"upper_limits"`
	} `toml:"joints"`
	IMU struct {
		Enabled bool `toml:"enabled"`
	} `toml:"imu"`
	Blackbox struct {
		Path string `toml:"path"`
	} `toml:"blackbox"`
	Admin struct {
		Addr        string   `toml:"addr"`
		CorsOrigins []string `toml:"cors_origins"`
	} `toml:"admin"`
}

// Load reads a rig config. Keys absent from the file keep their defaults.
func Load(path string) (RigConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return RigConfig{}, fmt.Errorf("load rig config: %w", err)
	}
	cfg, err := resolve(raw, meta)
	if err != nil {
		return RigConfig{}, fmt.Errorf("load rig config: %w", err)
	}
	return cfg, nil
}

// Parse decodes a rig config from TOML text.
func Parse(data string) (RigConfig, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return RigConfig{}, fmt.Errorf("parse rig config: %w", err)
	}
	cfg, err := resolve(raw, meta)
	if err != nil {
		return RigConfig{}, fmt.Errorf("parse rig config: %w", err)
	}
	return cfg, nil
}

func resolve(raw fileConfig, meta toml.MetaData) (RigConfig, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return RigConfig{}, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return RigConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return RigConfig{}, err
	}
	return cfg, nil
}

func apply(cfg RigConfig, raw fileConfig, meta toml.MetaData) (RigConfig, error) {
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}

	if meta.IsDefined("session", "resend_interval") {
		d, err := parseDuration("session.resend_interval", raw.Session.ResendInterval)
		if err != nil {
			return RigConfig{}, err
		}
		cfg.Session.ResendInterval = d
	}

	if meta.IsDefined("loop", "period") {
		d, err := parseDuration("loop.period", raw.Loop.Period)
		if err != nil {
			return RigConfig{}, err
		}
		cfg.Loop.Period = d
	}
	if meta.IsDefined("loop", "max_cycles") {
		cfg.Loop.MaxCycles = raw.Loop.MaxCycles
	}
	if meta.IsDefined("loop", "policy") {
		cfg.Loop.Policy = strings.ToLower(strings.TrimSpace(raw.Loop.Policy))
	}
	if meta.IsDefined("loop", "kp") {
		cfg.Loop.Kp = raw.Loop.Kp
	}
	if meta.IsDefined("loop", "kd") {
		cfg.Loop.Kd = raw.Loop.Kd
	}

	if meta.IsDefined("link", "ack_after_packets") {
		cfg.Link.AckAfterPackets = raw.Link.AckAfterPackets
	}
	if meta.IsDefined("link", "timeout") {
		d, err := parseDuration("link.timeout", raw.Link.Timeout)
		if err != nil {
			return RigConfig{}, err
		}
		cfg.Link.Timeout = d
	}
	if meta.IsDefined("link", "unreachable") {
		cfg.Link.Unreachable = raw.Link.Unreachable
	}

	j := raw.Joints
	if meta.IsDefined("joints", "count") {
		cfg.Joints.Count = j.Count
	}
	if meta.IsDefined("joints", "motor_indexes") {
		cfg.Joints.MotorIndexes = j.MotorIndexes
	}
	if meta.IsDefined("joints", "polarities") {
		cfg.Joints.Polarities = j.Polarities
	}
	if meta.IsDefined("joints", "gear_ratio") {
		cfg.Joints.GearRatio = j.GearRatio
	}
	if meta.IsDefined("joints", "motor_constant") {
		cfg.Joints.MotorConstant = j.MotorConstant
	}
	if meta.IsDefined("joints", "max_current") {
		cfg.Joints.MaxCurrent = j.MaxCurrent
	}
	if meta.IsDefined("joints", "safety_damping") {
		cfg.Joints.SafetyDamping = j.SafetyDamping
	}
	if meta.IsDefined("joints", "max_velocity") {
		cfg.Joints.MaxVelocity = j.MaxVelocity
	}
	if meta.IsDefined("joints", "lower_limits") {
		cfg.Joints.LowerLimits = j.LowerLimits
	}
	if meta.IsDefined("joints", "upper_limits") {
		cfg.Joints.UpperLimits = j.UpperLimits
	}

	if meta.IsDefined("imu", "enabled") {
		cfg.IMU.Enabled = raw.IMU.Enabled
	}
	if meta.IsDefined("blackbox", "path") {
		cfg.Blackbox.Path = strings.TrimSpace(raw.Blackbox.Path)
	}
	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeOrigins(raw.Admin.CorsOrigins)
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func Validate(cfg RigConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("rig config missing name")
	}
	if cfg.Session.ResendInterval <= 0 {
		return fmt.Errorf("session.resend_interval must be positive")
	}
	if cfg.Loop.Period <= 0 {
		return fmt.Errorf("loop.period must be positive")
	}
	switch cfg.Loop.Policy {
	case PolicyHold:
	case PolicyPD:
		if cfg.Loop.Kp < 0 || cfg.Loop.Kd < 0 {
			return fmt.Errorf("loop.kp and loop.kd must not be negative")
		}
	default:
		return fmt.Errorf("unknown loop.policy %q", cfg.Loop.Policy)
	}
	if cfg.Link.AckAfterPackets <= 0 {
		return fmt.Errorf("link.ack_after_packets must be positive")
	}
	if cfg.Link.Timeout <= cfg.Loop.Period {
		return fmt.Errorf("link.timeout %v must exceed loop.period %v", cfg.Link.Timeout, cfg.Loop.Period)
	}
	if err := ValidateJoints(cfg.Joints); err != nil {
		return fmt.Errorf("joints invalid: %w", err)
	}
	return nil
}

func ValidateJoints(j JointsConfig) error {
	if j.Count <= 0 {
		return fmt.Errorf("count must be positive")
	}
	if j.GearRatio <= 0 || j.MotorConstant <= 0 || j.MaxCurrent <= 0 {
		return fmt.Errorf("gear_ratio, motor_constant, and max_current must be positive")
	}
	if j.SafetyDamping < 0 || j.MaxVelocity < 0 {
		return fmt.Errorf("safety_damping and max_velocity must not be negative")
	}
	if n := len(j.MotorIndexes); n != 0 && n != j.Count {
		return fmt.Errorf("motor_indexes has %d entries for %d joints", n, j.Count)
	}
	if n := len(j.Polarities); n != 0 && n != j.Count {
		return fmt.Errorf("polarities has %d entries for %d joints", n, j.Count)
	}
	if len(j.LowerLimits) != len(j.UpperLimits) {
		return fmt.Errorf("lower_limits and upper_limits differ in length")
	}
	if n := len(j.LowerLimits); n != 0 && n != j.Count {
		return fmt.Errorf("limits have %d entries for %d joints", n, j.Count)
	}
	return nil
}
