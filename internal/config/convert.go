package config

import (
	"github.com/danmuck/rigctl/internal/control"
	"github.com/danmuck/rigctl/internal/joints"
	"github.com/danmuck/rigctl/internal/robot"
	"github.com/danmuck/rigctl/internal/sim"
)

// Board maps the link section onto a simulated board with one motor per
// joint, or as many as the highest motor index needs.
func (c RigConfig) Board() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Motors = c.Joints.Count
	for _, idx := range c.Joints.MotorIndexes {
		if idx+1 > cfg.Motors {
			cfg.Motors = idx + 1
		}
	}
	cfg.AckAfterPackets = c.Link.AckAfterPackets
	cfg.Timeout = c.Link.Timeout
	cfg.Unreachable = c.Link.Unreachable
	cfg.Step = c.Loop.Period
	cfg.MotorConstant = c.Joints.MotorConstant
	return cfg
}

func (c RigConfig) JointModules() joints.Config {
	return joints.Config{
		MotorIndexes:  append([]int(nil), c.Joints.MotorIndexes...),
		Polarities:    append([]bool(nil), c.Joints.Polarities...),
		GearRatio:     c.Joints.GearRatio,
		MotorConstant: c.Joints.MotorConstant,
		MaxCurrent:    c.Joints.MaxCurrent,
		SafetyDamping: c.Joints.SafetyDamping,
		MaxVelocity:   c.Joints.MaxVelocity,
		LowerLimits:   append([]float64(nil), c.Joints.LowerLimits...),
		UpperLimits:   append([]float64(nil), c.Joints.UpperLimits...),
	}
}

func (c RigConfig) Robot() robot.Config {
	cfg := robot.DefaultConfig()
	cfg.ResendInterval = c.Session.ResendInterval
	return cfg
}

func (c RigConfig) Policy() control.Policy {
	if c.Loop.Policy == PolicyPD {
		return control.NewPDPolicy(c.Loop.Kp, c.Loop.Kd)
	}
	return control.HoldPolicy{}
}
