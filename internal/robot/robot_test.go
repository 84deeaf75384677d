package robot

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/rigctl/internal/testutil/testlog"
)

func newTestRobot(t *testing.T, link *scriptedLink, joints *fakeJoints, imu *fakeIMU, cfg Config) *Robot {
	t.Helper()
	r, err := New(cfg, link, joints, imu)
	if err != nil {
		t.Fatalf("new robot: %v", err)
	}
	return r
}

func TestNewRejectsNilCollaborators(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{}
	joints := newFakeJoints(2, nil)
	imu := &fakeIMU{}

	if _, err := New(DefaultConfig(), nil, joints, imu); !errors.Is(err, ErrNilCollaborator) {
		t.Fatalf("expected ErrNilCollaborator for link, got %v", err)
	}
	if _, err := New(DefaultConfig(), link, nil, imu); !errors.Is(err, ErrNilCollaborator) {
		t.Fatalf("expected ErrNilCollaborator for joints, got %v", err)
	}
	if _, err := New(DefaultConfig(), link, joints, nil); !errors.Is(err, ErrNilCollaborator) {
		t.Fatalf("expected ErrNilCollaborator for imu, got %v", err)
	}
	r := newTestRobot(t, link, joints, imu, Config{})
	if link.initCalls != 0 || link.inits != 0 || joints.enabled {
		t.Fatalf("construction must not touch collaborators: %+v", link)
	}
	if r.Phase() != PhaseUninitialized {
		t.Fatalf("unexpected phase: %s", r.Phase())
	}
}

func TestStartAcksOnThirdPacket(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{ackAfter: 3}
	joints := newFakeJoints(4, link)
	r := newTestRobot(t, link, joints, &fakeIMU{}, DefaultConfig())

	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if link.inits != 3 {
		t.Fatalf("expected exactly 3 handshake packets, got %d", link.inits)
	}
	if r.HasError() {
		t.Fatalf("expected no error after acknowledged handshake")
	}
	if r.Phase() != PhaseActive {
		t.Fatalf("expected active phase, got %s", r.Phase())
	}
	if len(link.order) < 2 || link.order[0] != "init_link" || link.order[1] != "enable" {
		t.Fatalf("expected init_link then enable, got %v", link.order)
	}
}

func TestStartTimesOutBeforeAck(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{timeoutAfterPolls: 5}
	r := newTestRobot(t, link, newFakeJoints(2, nil), &fakeIMU{}, DefaultConfig())

	if err := r.Start(); !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if !r.HasError() {
		t.Fatalf("expected HasError after handshake timeout")
	}
	if r.Phase() != PhaseFaulted {
		t.Fatalf("expected faulted phase, got %s", r.Phase())
	}
}

func TestStartResendIsGatedByInterval(t *testing.T) {
	testlog.Start(t)
	clock := &stepClock{t: time.Unix(0, 0), step: 100 * time.Microsecond}
	link := &scriptedLink{timeoutAfterPolls: 1000}
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	r := newTestRobot(t, link, newFakeJoints(1, nil), &fakeIMU{}, cfg)

	start := clock.t
	if err := r.Start(); !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	elapsed := clock.t.Sub(start)
	if max := int(elapsed / DefaultResendInterval); link.inits > max {
		t.Fatalf("handshake flooded: inits=%d max=%d elapsed=%v", link.inits, max, elapsed)
	}
	// 1000 polls at 100us per clock reading is 100ms of handshake.
	if link.inits != 100 {
		t.Fatalf("expected one packet per 1ms window, got %d", link.inits)
	}
}

func TestStartResendRealClockBound(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{timeoutAt: time.Now().Add(20 * time.Millisecond)}
	r := newTestRobot(t, link, newFakeJoints(1, nil), &fakeIMU{}, DefaultConfig())

	begin := time.Now()
	if err := r.Start(); !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	elapsed := time.Since(begin)
	if max := int(elapsed / DefaultResendInterval); link.inits > max {
		t.Fatalf("inits=%d exceeds %d for elapsed=%v", link.inits, max, elapsed)
	}
	if link.inits == 0 {
		t.Fatalf("expected handshake packets to be resent while waiting")
	}
}

func TestStartReturnsExactlyOnce(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name     string
		link     *scriptedLink
		wantErr  error
		wantPh   Phase
		wantInit int
	}{
		{name: "ack_first_packet", link: &scriptedLink{ackAfter: 1}, wantPh: PhaseActive, wantInit: 1},
		{name: "ack_fifth_packet", link: &scriptedLink{ackAfter: 5}, wantPh: PhaseActive, wantInit: 5},
		{name: "timeout_immediately", link: &scriptedLink{forceTimeout: true}, wantErr: ErrHandshakeTimeout, wantPh: PhaseFaulted},
		{name: "timeout_before_ack", link: &scriptedLink{ackAfter: 50, timeoutAfterPolls: 30}, wantErr: ErrHandshakeTimeout, wantPh: PhaseFaulted, wantInit: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := &stepClock{t: time.Unix(0, 0), step: 100 * time.Microsecond}
			cfg := DefaultConfig()
			cfg.Now = clock.Now
			r := newTestRobot(t, tc.link, newFakeJoints(2, nil), &fakeIMU{}, cfg)

			err := r.Start()
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("start err=%v want %v", err, tc.wantErr)
			}
			if r.Phase() != tc.wantPh {
				t.Fatalf("phase=%s want %s", r.Phase(), tc.wantPh)
			}
			if tc.link.inits != tc.wantInit {
				t.Fatalf("inits=%d want %d", tc.link.inits, tc.wantInit)
			}
			if err := r.Start(); !errors.Is(err, ErrAlreadyStarted) && !errors.Is(err, ErrFaulted) {
				t.Fatalf("second start should be rejected, got %v", err)
			}
			if tc.link.initCalls != 1 {
				t.Fatalf("link opened %d times", tc.link.initCalls)
			}
		})
	}
}

func TestHasErrorIsIdempotentRead(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{ackAfter: 1}
	joints := newFakeJoints(3, nil)
	imu := &fakeIMU{}
	r := newTestRobot(t, link, joints, imu, DefaultConfig())

	if r.HasError() != r.HasError() {
		t.Fatalf("HasError changed without state change")
	}
	imu.err = true
	first := r.HasError()
	second := r.HasError()
	if !first || !second {
		t.Fatalf("expected imu error to be reported consistently: %v %v", first, second)
	}
	imu.err = false
	if r.HasError() {
		t.Fatalf("HasError must not latch collaborator faults")
	}
}

func TestSendCommandReturnsPostSendError(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{ackAfter: 1}
	joints := newFakeJoints(3, nil)
	r := newTestRobot(t, link, joints, &fakeIMU{}, DefaultConfig())
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if got := r.SendCommand(); got != r.HasError() || got {
		t.Fatalf("clean send returned %v", got)
	}

	// Scenario: a joint reports an error during the active phase.
	joints.errs[1] = true
	if !r.HasError() {
		t.Fatalf("expected joint error to surface")
	}
	commandsBefore := link.commands
	if !r.SendCommand() {
		t.Fatalf("expected SendCommand to report the joint error")
	}
	if link.commands != commandsBefore+1 {
		t.Fatalf("frame must still be sent while faulted")
	}
	if r.Phase() != PhaseFaulted {
		t.Fatalf("expected faulted phase, got %s", r.Phase())
	}

	// The fault clears on the collaborator; the phase stays faulted.
	joints.errs[1] = false
	if r.HasError() {
		t.Fatalf("HasError must follow collaborator state")
	}
	if r.SendCommand() {
		t.Fatalf("send after recovery reported error")
	}
	if r.Phase() != PhaseFaulted {
		t.Fatalf("faulted phase must be sticky, got %s", r.Phase())
	}
	if joints.safetyCalls != 0 {
		t.Fatalf("robot must not run the safety controller itself")
	}
}

func TestSendCommandOneCycleFaultLatency(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{ackAfter: 1}
	joints := newFakeJoints(2, nil)
	r := newTestRobot(t, link, joints, &fakeIMU{}, DefaultConfig())
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The command staged before the fault appeared is transmitted anyway and
	// the fault is only visible in the return value of that same send.
	joints.errs[0] = true
	if !r.SendCommand() || link.commands != 1 {
		t.Fatalf("expected the staged frame to go out with error reported, commands=%d", link.commands)
	}
}

func TestCyclesBeforeStartDoNotPanic(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{}
	r := newTestRobot(t, link, newFakeJoints(2, nil), &fakeIMU{}, DefaultConfig())

	r.ParseSensorData()
	if r.SendCommand() {
		t.Fatalf("expected default collaborators to report no error")
	}
	if r.Phase() != PhaseUninitialized {
		t.Fatalf("cycle calls must not advance the phase: %s", r.Phase())
	}
	if link.parses != 1 || link.commands != 1 {
		t.Fatalf("expected delegation, parses=%d commands=%d", link.parses, link.commands)
	}
}

func TestParseSensorDataDelegates(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{ackAfter: 1}
	r := newTestRobot(t, link, newFakeJoints(1, nil), &fakeIMU{}, DefaultConfig())
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	link.order = nil
	for i := 0; i < 3; i++ {
		r.ParseSensorData()
		r.SendCommand()
	}
	want := []string{"parse", "send_command", "parse", "send_command", "parse", "send_command"}
	if len(link.order) != len(want) {
		t.Fatalf("unexpected call order: %v", link.order)
	}
	for i := range want {
		if link.order[i] != want[i] {
			t.Fatalf("unexpected call order: %v", link.order)
		}
	}
}

func TestReportErrorLatches(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{ackAfter: 1}
	r := newTestRobot(t, link, newFakeJoints(2, nil), &fakeIMU{}, DefaultConfig())
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.ParseSensorData()

	r.ReportError("overheat")
	if !r.HasError() {
		t.Fatalf("expected external fault to be reported")
	}
	if !r.SendCommand() {
		t.Fatalf("expected SendCommand to report external fault")
	}
	r.ReportError("second")
	st := r.Diagnose()
	if st.ExternalReason != "overheat" {
		t.Fatalf("first reason must win, got %q", st.ExternalReason)
	}
	if st.Phase != PhaseFaulted {
		t.Fatalf("expected faulted, got %s", st.Phase)
	}
	if len(st.Kinds()) != 1 || st.Kinds()[0] != FaultExternal {
		t.Fatalf("unexpected fault kinds: %v", st.Kinds())
	}
}

func TestReportErrorBeforeStart(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{ackAfter: 1}
	r := newTestRobot(t, link, newFakeJoints(1, nil), &fakeIMU{}, DefaultConfig())

	r.ReportError("   ")
	if !r.HasError() {
		t.Fatalf("expected fault before start")
	}
	if got := r.Diagnose().ExternalReason; got != "unspecified" {
		t.Fatalf("unexpected reason: %q", got)
	}
	if err := r.Start(); !errors.Is(err, ErrFaulted) {
		t.Fatalf("expected ErrFaulted, got %v", err)
	}
	if link.initCalls != 0 {
		t.Fatalf("faulted session must not open the link")
	}
}

func TestReportErrorConcurrentWithReads(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{ackAfter: 1}
	r := newTestRobot(t, link, newFakeJoints(2, nil), &fakeIMU{}, DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ReportError("monitor")
		}()
	}
	wg.Wait()
	if !r.HasError() || r.Phase() != PhaseFaulted {
		t.Fatalf("expected latched fault, phase=%s", r.Phase())
	}
}

func TestIsReadyRequiresEveryCollaborator(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{ackAfter: 1}
	joints := newFakeJoints(3, nil)
	imu := &fakeIMU{}
	r := newTestRobot(t, link, joints, imu, DefaultConfig())

	if r.IsReady() {
		t.Fatalf("not ready before handshake")
	}
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.IsReady() {
		t.Fatalf("not ready while joints and imu are not ready")
	}
	joints.setAllReady(true)
	if r.IsReady() {
		t.Fatalf("not ready while imu is not ready")
	}
	imu.ready = true
	if !r.IsReady() {
		t.Fatalf("expected ready")
	}
	joints.ready[2] = false
	st := r.Diagnose()
	if st.Ready || len(st.JointsNotReady) != 1 || st.JointsNotReady[0] != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
	link.forceTimeout = true
	if r.IsReady() {
		t.Fatalf("timed out link is never ready")
	}
}

func TestDiagnoseKinds(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{ackAfter: 1}
	joints := newFakeJoints(4, nil)
	imu := &fakeIMU{err: true}
	r := newTestRobot(t, link, joints, imu, DefaultConfig())
	joints.errs[0] = true
	joints.errs[3] = true
	link.forceTimeout = true

	st := r.Diagnose()
	if !st.Error || !st.LinkTimedOut || !st.IMUError {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(st.JointErrors) != 2 || st.JointErrors[0] != 0 || st.JointErrors[1] != 3 {
		t.Fatalf("unexpected joint errors: %v", st.JointErrors)
	}
	kinds := st.Kinds()
	want := []string{FaultLinkTimeout, FaultJoint, FaultIMU}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("unexpected kinds: %v", kinds)
		}
	}
}

func TestPhaseString(t *testing.T) {
	for p, want := range map[Phase]string{
		PhaseUninitialized: "uninitialized",
		PhaseHandshaking:   "handshaking",
		PhaseActive:        "active",
		PhaseFaulted:       "faulted",
	} {
		if p.String() != want {
			t.Fatalf("phase %d string=%q want %q", p, p.String(), want)
		}
		b, _ := p.MarshalText()
		if string(b) != want {
			t.Fatalf("phase %d text=%q", p, b)
		}
		var back Phase
		if err := back.UnmarshalText(b); err != nil || back != p {
			t.Fatalf("phase %q round trip: %v %v", b, back, err)
		}
	}
	var bad Phase
	if err := bad.UnmarshalText([]byte("running")); err == nil {
		t.Fatalf("expected error for unknown phase")
	}
}
