package blackbox

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/rigctl/internal/protocol/schema"
	"github.com/danmuck/rigctl/internal/testutil/testlog"
	"github.com/google/uuid"
)

func TestSessionRecordsInOrder(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "session.rbx")
	started := time.UnixMilli(1760000000000)

	w, err := Create(path, Start{RigName: "solo12", JointCount: 2, StartedAt: started})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := uuid.Parse(w.SessionID()); err != nil {
		t.Fatalf("expected generated uuid session id, got %q: %v", w.SessionID(), err)
	}

	pos := []float64{0.1, -0.2}
	vel := []float64{1, 2}
	if err := w.WriteCycle(Snapshot{Cycle: 1, Elapsed: time.Millisecond, Phase: "active", Positions: pos, Velocities: vel}); err != nil {
		t.Fatalf("write cycle: %v", err)
	}
	pos[0] = 9 // reused buffer must not affect the written record
	if err := w.WriteCycle(Snapshot{Cycle: 2, Elapsed: 2 * time.Millisecond, HasError: true, Phase: "faulted", Positions: pos, Velocities: vel, Torques: []float64{0, 0}}); err != nil {
		t.Fatalf("write cycle: %v", err)
	}
	if err := w.WriteFault(Fault{Cycle: 2, Reason: "joint fault", Kinds: []string{"joint", "imu"}}); err != nil {
		t.Fatalf("write fault: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.WriteCycle(Snapshot{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 records, got %d", len(recs))
	}
	start := recs[0].Start
	if start == nil || start.SessionID != w.SessionID() || start.RigName != "solo12" || start.JointCount != 2 || !start.StartedAt.Equal(started) {
		t.Fatalf("unexpected start: %+v", start)
	}
	c1, c2 := recs[1].Cycle, recs[2].Cycle
	if c1 == nil || c1.Cycle != 1 || c1.HasError || c1.Positions[0] != 0.1 || c1.Elapsed != time.Millisecond {
		t.Fatalf("unexpected cycle 1: %+v", c1)
	}
	if c1.Torques != nil {
		t.Fatalf("torques should be absent: %v", c1.Torques)
	}
	if c2 == nil || !c2.HasError || !recs[2].Faulted || c2.Phase != "faulted" || c2.Positions[0] != 9 || len(c2.Torques) != 2 {
		t.Fatalf("unexpected cycle 2: %+v", c2)
	}
	fault := recs[3].Fault
	if fault == nil || fault.Reason != "joint fault" || len(fault.Kinds) != 2 || fault.Kinds[1] != "imu" {
		t.Fatalf("unexpected fault: %+v", fault)
	}
	end := recs[4].End
	if end == nil || end.Cycles != 2 || end.FaultedCycles != 1 {
		t.Fatalf("unexpected end: %+v", end)
	}
	for i, rec := range recs {
		if rec.ID != uint64(i+1) {
			t.Fatalf("record %d has id %d", i, rec.ID)
		}
	}
}

func TestReaderStopsOnCorruptRecord(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Start{SessionID: "s-1", JointCount: 1})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	data := buf.Bytes()
	data = append(data, 0xde, 0xad)

	r := NewReader(bytes.NewReader(data))
	rec, err := r.Next()
	if err != nil || rec.Type != schema.MsgSessionStart || rec.Start.SessionID != "s-1" {
		t.Fatalf("unexpected first record: %+v err=%v", rec, err)
	}
	if _, err := r.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected corrupt tail error, got %v", err)
	}
}
