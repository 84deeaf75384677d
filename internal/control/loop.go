// Package control runs the fixed-period control loop over an active session.
package control

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/rigctl/internal/blackbox"
	"github.com/danmuck/rigctl/internal/observability"
	"github.com/danmuck/rigctl/internal/robot"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNilSession = errors.New("control: nil session or plant")
	ErrPeriod     = errors.New("control: period must be positive")
)

// Session is the part of the robot session the loop drives.
type Session interface {
	ParseSensorData()
	HasError() bool
	SendCommand() bool
	Phase() robot.Phase
	Diagnose() robot.Status
}

// Plant is the joint group the loop reads and commands.
type Plant interface {
	Count() int
	Positions(dst []float64)
	Velocities(dst []float64)
	Torques() []float64
	SetTorques(tau []float64)
	RunSafetyController()
}

// Recorder receives one snapshot per cycle and the first fault.
type Recorder interface {
	WriteCycle(s blackbox.Snapshot) error
	WriteFault(f blackbox.Fault) error
}

type Config struct {
	Period time.Duration
	// MaxCycles stops Run after that many cycles. Zero runs until the
	// context is done.
	MaxCycles uint64
	Policy    Policy
	Recorder  Recorder
	Now       func() time.Time
	Logger    *zerolog.Logger
}

type Summary struct {
	Cycles        uint64
	FaultedCycles uint64
	Overruns      uint64
}

type Loop struct {
	session Session
	plant   Plant

	period    time.Duration
	maxCycles uint64
	policy    Policy
	recorder  Recorder
	now       func() time.Time
	logger    zerolog.Logger

	started  time.Time
	pos      []float64
	vel      []float64
	tau      []float64
	summary  Summary
	faultLog bool
	recErr   bool
}

func New(cfg Config, session Session, plant Plant) (*Loop, error) {
	if session == nil || plant == nil {
		return nil, ErrNilSession
	}
	if cfg.Period <= 0 {
		return nil, ErrPeriod
	}
	if cfg.Policy == nil {
		cfg.Policy = HoldPolicy{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	n := plant.Count()
	return &Loop{
		session:   session,
		plant:     plant,
		period:    cfg.Period,
		maxCycles: cfg.MaxCycles,
		policy:    cfg.Policy,
		recorder:  cfg.Recorder,
		now:       cfg.Now,
		logger:    logger.With().Str("component", "control").Logger(),
		pos:       make([]float64, n),
		vel:       make([]float64, n),
		tau:       make([]float64, n),
	}, nil
}

// Run steps the loop once per period until ctx is done or MaxCycles is
// reached. It returns ctx.Err() when cancelled.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	l.logger.Info().Dur("period", l.period).Uint64("max_cycles", l.maxCycles).Msg("control loop start")
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logStop("cancelled")
			return l.summary, ctx.Err()
		case <-ticker.C:
		}
		l.Step()
		if l.maxCycles > 0 && l.summary.Cycles >= l.maxCycles {
			l.logStop("max cycles")
			return l.summary, nil
		}
	}
}

// Step runs one control cycle and reports whether the safety controller ran.
// The command frame is sent on every cycle.
func (l *Loop) Step() bool {
	start := l.now()
	if l.started.IsZero() {
		l.started = start
	}
	cycle := l.summary.Cycles

	l.session.ParseSensorData()
	l.plant.Positions(l.pos)
	l.plant.Velocities(l.vel)

	// a faulted session stays on the safety controller after devices recover
	faulted := l.session.HasError() || l.session.Phase() == robot.PhaseFaulted
	if faulted {
		l.plant.RunSafetyController()
	} else {
		clear(l.tau)
		l.policy.Torques(cycle, l.pos, l.vel, l.tau)
		l.plant.SetTorques(l.tau)
	}
	after := l.session.SendCommand()

	l.summary.Cycles++
	if faulted {
		l.summary.FaultedCycles++
	}
	if (faulted || after) && !l.faultLog {
		l.faultLog = true
		l.reportFault(cycle)
	}
	observability.SetPhase(l.session.Phase())
	l.record(blackbox.Snapshot{
		Cycle:      cycle,
		Elapsed:    start.Sub(l.started),
		HasError:   faulted,
		Phase:      l.session.Phase().String(),
		Positions:  l.pos,
		Velocities: l.vel,
		Torques:    l.plant.Torques(),
	})

	work := l.now().Sub(start)
	observability.RecordCycle(work, faulted)
	if work > l.period {
		l.summary.Overruns++
		observability.RecordOverrun()
	}
	return faulted
}

func (l *Loop) Summary() Summary {
	return l.summary
}

func (l *Loop) reportFault(cycle uint64) {
	status := l.session.Diagnose()
	kinds := status.Kinds()
	for _, kind := range kinds {
		observability.RecordFault(kind)
	}
	l.logger.Error().
		Uint64("cycle", cycle).
		Strs("kinds", kinds).
		Ints("joint_errors", status.JointErrors).
		Str("reason", status.ExternalReason).
		Msg("session fault, running safety controller")
	if l.recorder == nil {
		return
	}
	if err := l.recorder.WriteFault(blackbox.Fault{
		Cycle:  cycle,
		Reason: status.ExternalReason,
		Kinds:  kinds,
	}); err != nil {
		l.recordFailed(err)
	}
}

func (l *Loop) record(s blackbox.Snapshot) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.WriteCycle(s); err != nil {
		l.recordFailed(err)
	}
}

// recordFailed logs the first recorder error. Control continues without a
// recording.
func (l *Loop) recordFailed(err error) {
	if l.recErr {
		return
	}
	l.recErr = true
	l.logger.Error().Err(err).Msg("blackbox write failed")
}

func (l *Loop) logStop(why string) {
	l.logger.Info().
		Str("why", why).
		Uint64("cycles", l.summary.Cycles).
		Uint64("faulted_cycles", l.summary.FaultedCycles).
		Uint64("overruns", l.summary.Overruns).
		Msg("control loop stop")
}
