// Package joints maps motor drivers to robot joints: gear ratio, polarity,
// current limits, joint limits, and the damping safety controller.
package joints

import (
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/rigctl/internal/robot"
)

var ErrInvalidConfig = errors.New("joints: invalid config")

// MotorBus is the driver-side view of the motors behind the joints.
type MotorBus interface {
	MotorCount() int
	EnableMotor(i int)
	MotorEnabled(i int) bool
	MotorReady(i int) bool
	MotorError(i int) bool
	MotorPosition(i int) float64
	MotorVelocity(i int) float64
	SetMotorCurrent(i int, amps float64)
}

type Config struct {
	// MotorIndexes maps joint i to a motor on the bus. Empty means identity.
	MotorIndexes  []int
	Polarities    []bool
	GearRatio     float64
	MotorConstant float64
	MaxCurrent    float64
	SafetyDamping float64
	// MaxVelocity is the joint speed limit in rad/s. Zero disables the check.
	MaxVelocity float64
	// LowerLimits and UpperLimits are joint position limits in rad. Empty
	// disables the check.
	LowerLimits []float64
	UpperLimits []float64
}

func DefaultConfig(n int) Config {
	return Config{
		Polarities:    make([]bool, n),
		GearRatio:     9.0,
		MotorConstant: 0.025,
		MaxCurrent:    8.0,
		SafetyDamping: 0.2,
		MaxVelocity:   80.0,
	}
}

// Modules is a fixed-size joint group on top of a MotorBus.
type Modules struct {
	bus     MotorBus
	motor   []int
	sign    []float64
	lower   []float64
	upper   []float64
	gear    float64
	kt      float64
	maxAmps float64
	damping float64
	maxVel  float64
	torques []float64
}

var _ robot.Joints = (*Modules)(nil)

// New builds a group of n joints. All per-joint slices are copied.
func New(bus MotorBus, n int, cfg Config) (*Modules, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", ErrInvalidConfig)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: joint count %d", ErrInvalidConfig, n)
	}
	if cfg.GearRatio <= 0 || cfg.MotorConstant <= 0 || cfg.MaxCurrent <= 0 {
		return nil, fmt.Errorf("%w: gear_ratio, motor_constant, max_current must be positive", ErrInvalidConfig)
	}
	if cfg.SafetyDamping < 0 || cfg.MaxVelocity < 0 {
		return nil, fmt.Errorf("%w: safety_damping and max_velocity must not be negative", ErrInvalidConfig)
	}

	motor := make([]int, n)
	switch len(cfg.MotorIndexes) {
	case 0:
		for i := range motor {
			motor[i] = i
		}
	case n:
		copy(motor, cfg.MotorIndexes)
	default:
		return nil, fmt.Errorf("%w: motor_indexes has %d entries for %d joints", ErrInvalidConfig, len(cfg.MotorIndexes), n)
	}
	for i, m := range motor {
		if m < 0 || m >= bus.MotorCount() {
			return nil, fmt.Errorf("%w: joint %d maps to motor %d of %d", ErrInvalidConfig, i, m, bus.MotorCount())
		}
	}

	sign := make([]float64, n)
	for i := range sign {
		sign[i] = 1
	}
	if len(cfg.Polarities) != 0 {
		if len(cfg.Polarities) != n {
			return nil, fmt.Errorf("%w: polarities has %d entries for %d joints", ErrInvalidConfig, len(cfg.Polarities), n)
		}
		for i, reversed := range cfg.Polarities {
			if reversed {
				sign[i] = -1
			}
		}
	}

	lower, upper, err := limits(cfg, n)
	if err != nil {
		return nil, err
	}

	return &Modules{
		bus:     bus,
		motor:   motor,
		sign:    sign,
		lower:   lower,
		upper:   upper,
		gear:    cfg.GearRatio,
		kt:      cfg.MotorConstant,
		maxAmps: cfg.MaxCurrent,
		damping: cfg.SafetyDamping,
		maxVel:  cfg.MaxVelocity,
		torques: make([]float64, n),
	}, nil
}

func limits(cfg Config, n int) ([]float64, []float64, error) {
	if len(cfg.LowerLimits) == 0 && len(cfg.UpperLimits) == 0 {
		return nil, nil, nil
	}
	if len(cfg.LowerLimits) != n || len(cfg.UpperLimits) != n {
		return nil, nil, fmt.Errorf("%w: limits need %d entries each", ErrInvalidConfig, n)
	}
	lower := append([]float64(nil), cfg.LowerLimits...)
	upper := append([]float64(nil), cfg.UpperLimits...)
	for i := range lower {
		if lower[i] >= upper[i] {
			return nil, nil, fmt.Errorf("%w: joint %d lower limit %v >= upper limit %v", ErrInvalidConfig, i, lower[i], upper[i])
		}
	}
	return lower, upper, nil
}

func (m *Modules) Count() int {
	return len(m.motor)
}

// Enable arms every motor. It does not send a command.
func (m *Modules) Enable() {
	for _, idx := range m.motor {
		m.bus.EnableMotor(idx)
	}
}

func (m *Modules) IsReady(i int) bool {
	idx := m.motor[i]
	return m.bus.MotorEnabled(idx) && m.bus.MotorReady(idx)
}

// HasError reports a driver fault, a joint outside its limits, or a joint
// above its speed limit.
func (m *Modules) HasError(i int) bool {
	idx := m.motor[i]
	if m.bus.MotorError(idx) {
		return true
	}
	if m.lower != nil {
		if q := m.Position(i); q < m.lower[i] || q > m.upper[i] {
			return true
		}
	}
	if m.maxVel > 0 && math.Abs(m.Velocity(i)) > m.maxVel {
		return true
	}
	return false
}

// Position is the joint angle in rad.
func (m *Modules) Position(i int) float64 {
	return m.sign[i] * m.bus.MotorPosition(m.motor[i]) / m.gear
}

// Velocity is the joint speed in rad/s.
func (m *Modules) Velocity(i int) float64 {
	return m.sign[i] * m.bus.MotorVelocity(m.motor[i]) / m.gear
}

// Positions fills dst with joint angles. dst must hold Count entries.
func (m *Modules) Positions(dst []float64) {
	for i := range m.motor {
		dst[i] = m.Position(i)
	}
}

// Velocities fills dst with joint speeds. dst must hold Count entries.
func (m *Modules) Velocities(dst []float64) {
	for i := range m.motor {
		dst[i] = m.Velocity(i)
	}
}

// Torques returns the last staged joint torques. The slice is owned by m.
func (m *Modules) Torques() []float64 {
	return m.torques
}

// SetTorques stages joint torques for the next command frame. Currents are
// clamped to MaxCurrent.
func (m *Modules) SetTorques(tau []float64) {
	for i := range m.motor {
		m.setTorque(i, tau[i])
	}
}

func (m *Modules) setTorque(i int, tau float64) {
	amps := m.sign[i] * tau / (m.kt * m.gear)
	if amps > m.maxAmps {
		amps = m.maxAmps
	} else if amps < -m.maxAmps {
		amps = -m.maxAmps
	}
	m.torques[i] = m.sign[i] * amps * m.kt * m.gear
	m.bus.SetMotorCurrent(m.motor[i], amps)
}

// RunSafetyController stages a pure damping torque on every joint.
func (m *Modules) RunSafetyController() {
	for i := range m.motor {
		m.setTorque(i, -m.damping*m.Velocity(i))
	}
}
