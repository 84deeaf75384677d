// Package sim provides an in-process master board: a handshake-capable link,
// a bank of motor drivers with a first-order plant, and an imu. It stands in
// for the bus driver during dry runs and tests.
package sim

import (
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/danmuck/rigctl/internal/robot"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoMotors = errors.New("sim: board needs at least one motor")

// Driver error codes reported by MotorErrorCode.
const (
	MotorErrNone        uint32 = 0
	MotorErrOverCurrent uint32 = 1
	MotorErrEncoder     uint32 = 2
	MotorErrSPI         uint32 = 3
	MotorErrOverheat    uint32 = 4
)

const gravity = 9.81

type Config struct {
	Motors int
	// AckAfterPackets is the number of init packets the board needs before it
	// acknowledges the session.
	AckAfterPackets int
	// Timeout is the silence after which the link latches a timeout.
	Timeout time.Duration
	// Unreachable drops every init packet.
	Unreachable bool
	// Step is the plant integration step applied per command frame.
	Step time.Duration
	// MotorConstant converts amps to motor-side torque.
	MotorConstant float64
	Inertia       float64
	Friction      float64
	Now           func() time.Time
	Logger        *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Motors:          12,
		AckAfterPackets: 3,
		Timeout:         100 * time.Millisecond,
		Step:            time.Millisecond,
		MotorConstant:   0.025,
		Inertia:         0.0001,
		Friction:        0.001,
		Now:             time.Now,
	}
}

type motor struct {
	enabled atomic.Bool
	ready   atomic.Bool
	errCode atomic.Uint32
	// published readings, float64 bits
	measPos atomic.Uint64
	measVel atomic.Uint64

	// control goroutine only
	current float64
	pos     float64
	vel     float64
}

// Board is the simulated master board. Flag accessors are safe from any
// goroutine; staging currents, sending, and parsing belong to the control
// goroutine.
type Board struct {
	cfg    Config
	epoch  time.Time
	logger zerolog.Logger

	opened   atomic.Bool
	acked    atomic.Bool
	timedOut atomic.Bool
	// nanoseconds since epoch of the last exchange with the board
	lastExchange atomic.Int64

	inits    atomic.Int64
	commands atomic.Int64
	parses   atomic.Int64

	motors []motor

	imuReady atomic.Bool
	imuErr   atomic.Bool
	attitude [3]float64
	gyro     [3]float64
	accel    [3]float64
}

var _ robot.Link = (*Board)(nil)

func NewBoard(cfg Config) (*Board, error) {
	def := DefaultConfig()
	if cfg.Motors <= 0 {
		return nil, ErrNoMotors
	}
	if cfg.AckAfterPackets <= 0 {
		cfg.AckAfterPackets = def.AckAfterPackets
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Step <= 0 {
		cfg.Step = def.Step
	}
	if cfg.MotorConstant <= 0 {
		cfg.MotorConstant = def.MotorConstant
	}
	if cfg.Inertia <= 0 {
		cfg.Inertia = def.Inertia
	}
	if cfg.Friction < 0 {
		cfg.Friction = def.Friction
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Board{
		cfg:    cfg,
		epoch:  cfg.Now(),
		logger: logger.With().Str("component", "sim.board").Logger(),
		motors: make([]motor, cfg.Motors),
	}, nil
}

func (b *Board) since() int64 {
	return int64(b.cfg.Now().Sub(b.epoch))
}

func (b *Board) touch() {
	b.lastExchange.Store(b.since())
}

// InitLink opens the bus. Calling it again is a no-op.
func (b *Board) InitLink() {
	if b.opened.CompareAndSwap(false, true) {
		b.touch()
		b.logger.Debug().Int("motors", len(b.motors)).Msg("link open")
	}
}

// IsTimedOut latches once the board has been silent for longer than Timeout.
func (b *Board) IsTimedOut() bool {
	if b.timedOut.Load() {
		return true
	}
	if !b.opened.Load() {
		return false
	}
	if time.Duration(b.since()-b.lastExchange.Load()) > b.cfg.Timeout {
		if b.timedOut.CompareAndSwap(false, true) {
			b.logger.Warn().Dur("timeout", b.cfg.Timeout).Msg("link timed out")
		}
		return true
	}
	return false
}

func (b *Board) IsAckReceived() bool {
	return b.acked.Load()
}

func (b *Board) SendInit() {
	if !b.opened.Load() || b.timedOut.Load() || b.cfg.Unreachable {
		return
	}
	n := b.inits.Add(1)
	if !b.acked.Load() && n >= int64(b.cfg.AckAfterPackets) {
		b.acked.Store(true)
		b.touch()
		b.logger.Debug().Int64("packets", n).Msg("session acknowledged")
	}
}

// SendCommand applies the staged currents for one plant step.
func (b *Board) SendCommand() {
	if !b.acked.Load() || b.timedOut.Load() {
		return
	}
	b.commands.Add(1)
	b.touch()
	dt := b.cfg.Step.Seconds()
	for i := range b.motors {
		m := &b.motors[i]
		torque := 0.0
		if m.enabled.Load() && m.errCode.Load() == MotorErrNone {
			torque = b.cfg.MotorConstant * m.current
		}
		acc := (torque - b.cfg.Friction*m.vel) / b.cfg.Inertia
		m.vel += acc * dt
		m.pos += m.vel * dt
	}
}

// ParseSensorData publishes the latest motor and imu readings.
func (b *Board) ParseSensorData() {
	if !b.acked.Load() || b.timedOut.Load() {
		return
	}
	b.parses.Add(1)
	for i := range b.motors {
		m := &b.motors[i]
		m.measPos.Store(math.Float64bits(m.pos))
		m.measVel.Store(math.Float64bits(m.vel))
		if m.enabled.Load() {
			m.ready.Store(true)
		}
	}
	b.accel = [3]float64{0, 0, gravity}
	b.imuReady.Store(true)
}

func (b *Board) MotorCount() int {
	return len(b.motors)
}

func (b *Board) EnableMotor(i int) {
	b.motors[i].enabled.Store(true)
}

func (b *Board) MotorEnabled(i int) bool {
	return b.motors[i].enabled.Load()
}

func (b *Board) MotorReady(i int) bool {
	return b.motors[i].ready.Load()
}

func (b *Board) MotorError(i int) bool {
	return b.motors[i].errCode.Load() != MotorErrNone
}

func (b *Board) MotorErrorCode(i int) uint32 {
	return b.motors[i].errCode.Load()
}

func (b *Board) MotorPosition(i int) float64 {
	return math.Float64frombits(b.motors[i].measPos.Load())
}

func (b *Board) MotorVelocity(i int) float64 {
	return math.Float64frombits(b.motors[i].measVel.Load())
}

func (b *Board) SetMotorCurrent(i int, amps float64) {
	b.motors[i].current = amps
}

func (b *Board) MotorCurrent(i int) float64 {
	return b.motors[i].current
}

func (b *Board) IMUReady() bool {
	return b.imuReady.Load()
}

func (b *Board) IMUError() bool {
	return b.imuErr.Load()
}

func (b *Board) Attitude() [3]float64 {
	return b.attitude
}

func (b *Board) Gyroscope() [3]float64 {
	return b.gyro
}

func (b *Board) Accelerometer() [3]float64 {
	return b.accel
}

// InitPackets returns the number of handshake packets the board accepted.
func (b *Board) InitPackets() int64 {
	return b.inits.Load()
}

func (b *Board) Commands() int64 {
	return b.commands.Load()
}

// SetMotorState overrides the plant state of motor i. Intended for tests and
// scripted scenarios; it takes effect on the next ParseSensorData.
func (b *Board) SetMotorState(i int, pos, vel float64) {
	b.motors[i].pos = pos
	b.motors[i].vel = vel
}

func (b *Board) InjectMotorError(i int, code uint32) {
	b.motors[i].errCode.Store(code)
	b.logger.Warn().Int("motor", i).Uint32("code", code).Msg("motor fault injected")
}

func (b *Board) InjectIMUError() {
	b.imuErr.Store(true)
	b.logger.Warn().Msg("imu fault injected")
}

func (b *Board) InjectTimeout() {
	b.timedOut.Store(true)
	b.logger.Warn().Msg("link timeout injected")
}

// ClearFaults resets device faults. A latched link timeout stays.
func (b *Board) ClearFaults() {
	for i := range b.motors {
		b.motors[i].errCode.Store(MotorErrNone)
	}
	b.imuErr.Store(false)
}
