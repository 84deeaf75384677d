package observability

import (
	"testing"
	"time"

	"github.com/danmuck/rigctl/internal/robot"
	"github.com/danmuck/rigctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type nopLink struct {
	inits    int
	commands int
}

func (l *nopLink) InitLink()           {}
func (l *nopLink) IsTimedOut() bool    { return false }
func (l *nopLink) IsAckReceived() bool { return l.inits > 0 }
func (l *nopLink) SendInit()           { l.inits++ }
func (l *nopLink) SendCommand()        { l.commands++ }
func (l *nopLink) ParseSensorData()    {}

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("rig-a", "GET", "/status", 200, 3*time.Millisecond)
	RecordFault(robot.FaultJoint)
	RecordOverrun()
	SetPhase(robot.PhaseActive)
	if got := testutil.ToFloat64(sessionPhase); got != float64(robot.PhaseActive) {
		t.Fatalf("phase gauge=%v", got)
	}
}

func TestRecordCycleCountsFaultedCycles(t *testing.T) {
	testlog.Start(t)
	cycles := testutil.ToFloat64(loopCycles)
	faulted := testutil.ToFloat64(loopFaultedCycles)

	RecordCycle(100*time.Microsecond, false)
	RecordCycle(100*time.Microsecond, true)

	if got := testutil.ToFloat64(loopCycles) - cycles; got != 2 {
		t.Fatalf("cycles delta=%v", got)
	}
	if got := testutil.ToFloat64(loopFaultedCycles) - faulted; got != 1 {
		t.Fatalf("faulted delta=%v", got)
	}
}

func TestInstrumentLinkCountsAndDelegates(t *testing.T) {
	testlog.Start(t)
	inner := &nopLink{}
	link := InstrumentLink(inner)
	inits := testutil.ToFloat64(handshakePackets)
	commands := testutil.ToFloat64(commandFrames)

	link.SendInit()
	link.SendCommand()
	link.SendCommand()

	if inner.inits != 1 || inner.commands != 2 {
		t.Fatalf("calls not delegated: %+v", inner)
	}
	if !link.IsAckReceived() {
		t.Fatalf("queries must pass through")
	}
	if got := testutil.ToFloat64(handshakePackets) - inits; got != 1 {
		t.Fatalf("handshake delta=%v", got)
	}
	if got := testutil.ToFloat64(commandFrames) - commands; got != 2 {
		t.Fatalf("command delta=%v", got)
	}
}
