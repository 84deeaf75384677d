package robot

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultResendInterval = time.Millisecond

// Config tunes the session controller.
type Config struct {
	// ResendInterval gates handshake packets during Start.
	ResendInterval time.Duration
	// Now is the monotonic clock used by the handshake gate.
	Now    func() time.Time
	Logger *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		ResendInterval: DefaultResendInterval,
		Now:            time.Now,
	}
}

func (c Config) WithDefaults() Config {
	if c.ResendInterval <= 0 {
		c.ResendInterval = DefaultResendInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Robot is the session controller for one rig.
//
// Start and the cycle methods belong to a single control goroutine. HasError,
// IsReady, Phase, Diagnose, and ReportError may be called from any goroutine.
type Robot struct {
	link   Link
	joints Joints
	imu    IMU

	resendInterval time.Duration
	now            func() time.Time
	logger         zerolog.Logger

	phase    atomic.Int32
	external atomic.Bool
	reason   atomic.Pointer[string]
}

func New(cfg Config, link Link, joints Joints, imu IMU) (*Robot, error) {
	if link == nil || joints == nil || imu == nil {
		return nil, ErrNilCollaborator
	}
	cfg = cfg.WithDefaults()
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Robot{
		link:           link,
		joints:         joints,
		imu:            imu,
		resendInterval: cfg.ResendInterval,
		now:            cfg.Now,
		logger:         logger.With().Str("component", "robot").Logger(),
	}, nil
}

// Start opens the link, enables the joints, and blocks until the board
// acknowledges the session or the link reports a timeout. Handshake packets
// are resent at most once per resend interval. There is no cancellation;
// the link's own timeout policy bounds the wait.
func (r *Robot) Start() error {
	if !r.phase.CompareAndSwap(int32(PhaseUninitialized), int32(PhaseHandshaking)) {
		if r.Phase() == PhaseFaulted {
			return ErrFaulted
		}
		return ErrAlreadyStarted
	}
	r.logger.Info().Str("phase", PhaseHandshaking.String()).Msg("session start")

	r.link.InitLink()
	r.joints.Enable()

	last := r.now()
	for {
		if r.link.IsTimedOut() {
			r.setPhase(PhaseFaulted)
			r.logger.Error().Err(ErrHandshakeTimeout).Msg("handshake failed")
			return ErrHandshakeTimeout
		}
		if r.link.IsAckReceived() {
			r.setPhase(PhaseActive)
			if r.Phase() == PhaseFaulted {
				return ErrFaulted
			}
			return nil
		}
		if now := r.now(); now.Sub(last) >= r.resendInterval {
			last = now
			r.link.SendInit()
		}
	}
}

// SendCommand transmits the staged command frame and reports whether an error
// is present after the send. The frame is sent even when faulted; the caller
// decides whether it carries a normal or a safety command.
func (r *Robot) SendCommand() bool {
	r.link.SendCommand()
	if r.HasError() {
		if r.Phase() == PhaseActive {
			r.setPhase(PhaseFaulted)
		}
		return true
	}
	return false
}

// ParseSensorData pulls the latest sensor frame into the joint and imu buffers.
func (r *Robot) ParseSensorData() {
	r.link.ParseSensorData()
}

// HasError reports whether any collaborator currently reports a fault or an
// external fault has been reported.
func (r *Robot) HasError() bool {
	if r.external.Load() {
		return true
	}
	if r.link.IsTimedOut() || r.imu.HasError() {
		return true
	}
	for i, n := 0, r.joints.Count(); i < n; i++ {
		if r.joints.HasError(i) {
			return true
		}
	}
	return false
}

// IsReady reports whether the link is acknowledged and every joint and the
// imu report ready.
func (r *Robot) IsReady() bool {
	if !r.link.IsAckReceived() || r.link.IsTimedOut() {
		return false
	}
	if !r.imu.IsReady() {
		return false
	}
	for i, n := 0, r.joints.Count(); i < n; i++ {
		if !r.joints.IsReady(i) {
			return false
		}
	}
	return true
}

// ReportError latches an external fault. The first reason is kept.
func (r *Robot) ReportError(reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}
	r.reason.CompareAndSwap(nil, &reason)
	r.external.Store(true)
	r.setPhase(PhaseFaulted)
	r.logger.Warn().Str("reason", reason).Msg("external fault reported")
}

func (r *Robot) Phase() Phase {
	return Phase(r.phase.Load())
}

// setPhase moves to p unless the session is already faulted.
func (r *Robot) setPhase(p Phase) {
	for {
		cur := Phase(r.phase.Load())
		if cur == PhaseFaulted || cur == p {
			return
		}
		if r.phase.CompareAndSwap(int32(cur), int32(p)) {
			r.logger.Info().Str("from", cur.String()).Str("to", p.String()).Msg("phase")
			return
		}
	}
}
