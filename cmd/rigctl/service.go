package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/rigctl/internal/admin"
	"github.com/danmuck/rigctl/internal/blackbox"
	"github.com/danmuck/rigctl/internal/config"
	"github.com/danmuck/rigctl/internal/control"
	"github.com/danmuck/rigctl/internal/imu"
	"github.com/danmuck/rigctl/internal/joints"
	"github.com/danmuck/rigctl/internal/observability"
	"github.com/danmuck/rigctl/internal/robot"
	"github.com/danmuck/rigctl/internal/sim"
	"github.com/rs/zerolog/log"
)

// rig is one wired session: simulated board, joints, imu, controller, loop,
// and the optional recorder and admin surface.
type rig struct {
	cfg      config.RigConfig
	board    *sim.Board
	robot    *robot.Robot
	loop     *control.Loop
	recorder *blackbox.Writer
	admin    *admin.Server
}

func buildRig(cfg config.RigConfig) (*rig, error) {
	observability.RegisterMetrics()

	board, err := sim.NewBoard(cfg.Board())
	if err != nil {
		return nil, fmt.Errorf("build board: %w", err)
	}
	group, err := joints.New(board, cfg.Joints.Count, cfg.JointModules())
	if err != nil {
		return nil, fmt.Errorf("build joints: %w", err)
	}
	sensor := imu.Disabled()
	if cfg.IMU.Enabled {
		if sensor, err = imu.New(board); err != nil {
			return nil, fmt.Errorf("build imu: %w", err)
		}
	}
	rb, err := robot.New(cfg.Robot(), observability.InstrumentLink(board), group, sensor)
	if err != nil {
		return nil, fmt.Errorf("build robot: %w", err)
	}

	r := &rig{cfg: cfg, board: board, robot: rb}
	loopCfg := control.Config{
		Period:    cfg.Loop.Period,
		MaxCycles: cfg.Loop.MaxCycles,
		Policy:    cfg.Policy(),
	}
	if cfg.Blackbox.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Blackbox.Path), 0o755); err != nil {
			return nil, fmt.Errorf("blackbox dir: %w", err)
		}
		r.recorder, err = blackbox.Create(cfg.Blackbox.Path, blackbox.Start{
			RigName:    cfg.Name,
			JointCount: cfg.Joints.Count,
			StartedAt:  time.Now(),
		})
		if err != nil {
			return nil, err
		}
		loopCfg.Recorder = r.recorder
	}
	r.loop, err = control.New(loopCfg, rb, group)
	if err != nil {
		r.closeRecorder()
		return nil, fmt.Errorf("build loop: %w", err)
	}
	if cfg.Admin.Addr != "" {
		r.admin = admin.New(cfg.Name, cfg.Admin.Addr, rb, cfg.Admin.CorsOrigins)
	}
	return r, nil
}

// run serves the admin surface, performs the handshake, and drives the
// control loop until ctx is done or the cycle budget is spent.
func (r *rig) run(ctx context.Context) error {
	defer r.closeRecorder()

	adminCtx, stopAdmin := context.WithCancel(ctx)
	defer stopAdmin()
	adminErr := make(chan error, 1)
	if r.admin != nil {
		go func() {
			adminErr <- r.admin.Serve(adminCtx)
		}()
	} else {
		adminErr <- nil
	}

	observability.SetPhase(r.robot.Phase())
	if err := r.robot.Start(); err != nil {
		observability.SetPhase(r.robot.Phase())
		for _, kind := range r.robot.Diagnose().Kinds() {
			observability.RecordFault(kind)
		}
		stopAdmin()
		<-adminErr
		return fmt.Errorf("session start: %w", err)
	}
	observability.SetPhase(r.robot.Phase())
	log.Info().
		Str("rig", r.cfg.Name).
		Int64("init_packets", r.board.InitPackets()).
		Bool("ready", r.robot.IsReady()).
		Msg("session active")

	summary, err := r.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().
		Str("rig", r.cfg.Name).
		Str("phase", r.robot.Phase().String()).
		Uint64("cycles", summary.Cycles).
		Uint64("faulted_cycles", summary.FaultedCycles).
		Uint64("overruns", summary.Overruns).
		Msg("session finished")

	stopAdmin()
	if aerr := <-adminErr; aerr != nil && err == nil {
		err = fmt.Errorf("admin: %w", aerr)
	}
	return err
}

func (r *rig) closeRecorder() {
	if r.recorder == nil {
		return
	}
	id := r.recorder.SessionID()
	if err := r.recorder.Close(); err != nil {
		log.Error().Err(err).Str("path", r.cfg.Blackbox.Path).Msg("blackbox close failed")
	} else {
		log.Info().Str("path", r.cfg.Blackbox.Path).Str("session", id).Msg("blackbox closed")
	}
	r.recorder = nil
}
