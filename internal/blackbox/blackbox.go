// Package blackbox records the control session to a flight-recorder file:
// one session-start record, one record per control cycle, fault records, and
// a closing summary. Records use the rig frame and TLV codec.
package blackbox

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danmuck/rigctl/internal/protocol/frame"
	"github.com/danmuck/rigctl/internal/protocol/schema"
	"github.com/danmuck/rigctl/internal/protocol/tlv"
	"github.com/google/uuid"
)

var ErrClosed = errors.New("blackbox: writer closed")

// Start describes the recorded session.
type Start struct {
	SessionID  string
	RigName    string
	JointCount int
	StartedAt  time.Time
}

// Snapshot is the state captured for one control cycle.
type Snapshot struct {
	Cycle    uint64
	Elapsed  time.Duration
	HasError bool
	Phase    string
	// Positions, Velocities, and Torques are copied into the record; callers
	// may reuse the slices.
	Positions  []float64
	Velocities []float64
	Torques    []float64
}

type Fault struct {
	Cycle  uint64
	Reason string
	Kinds  []string
}

type End struct {
	Cycles        uint64
	FaultedCycles uint64
}

// Writer appends records. It is not safe for concurrent use; the control loop
// owns it.
type Writer struct {
	bw     *bufio.Writer
	closer io.Closer
	limits frame.Limits

	start   Start
	nextID  uint64
	payload []byte
	buf     []byte
	cycles  uint64
	faulted uint64
	closed  bool
}

// Create truncates path and writes the session-start record.
func Create(path string, start Start) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blackbox: open %s: %w", path, err)
	}
	w, err := newWriter(f, f, start)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter writes the session-start record to out. A missing session id is
// generated.
func NewWriter(out io.Writer, start Start) (*Writer, error) {
	return newWriter(out, nil, start)
}

func newWriter(out io.Writer, closer io.Closer, start Start) (*Writer, error) {
	if strings.TrimSpace(start.SessionID) == "" {
		start.SessionID = uuid.NewString()
	}
	if start.StartedAt.IsZero() {
		start.StartedAt = time.Now()
	}
	w := &Writer{
		bw:      bufio.NewWriterSize(out, 64*1024),
		closer:  closer,
		limits:  frame.DefaultLimits(),
		start:   start,
		payload: make([]byte, 0, 512),
		buf:     make([]byte, 0, 512+frame.HeaderLen),
	}
	p := tlv.AppendString(w.payload[:0], schema.FieldSessionID, start.SessionID)
	if start.RigName != "" {
		p = tlv.AppendString(p, schema.FieldRigName, start.RigName)
	}
	p = tlv.AppendU64(p, schema.FieldJointCount, uint64(start.JointCount))
	p = tlv.AppendU64(p, schema.FieldStartedMS, uint64(start.StartedAt.UnixMilli()))
	if err := w.emit(schema.MsgSessionStart, 0, p); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) SessionID() string {
	return w.start.SessionID
}

func (w *Writer) WriteCycle(s Snapshot) error {
	if w.closed {
		return ErrClosed
	}
	p := tlv.AppendU64(w.payload[:0], schema.FieldCycle, s.Cycle)
	p = tlv.AppendU64(p, schema.FieldTimestampUS, uint64(s.Elapsed.Microseconds()))
	p = tlv.AppendBool(p, schema.FieldHasError, s.HasError)
	p = tlv.AppendString(p, schema.FieldPhase, s.Phase)
	p = tlv.AppendF64s(p, schema.FieldPositions, s.Positions)
	p = tlv.AppendF64s(p, schema.FieldVelocities, s.Velocities)
	if s.Torques != nil {
		p = tlv.AppendF64s(p, schema.FieldTorques, s.Torques)
	}
	var flags uint16
	if s.HasError {
		flags = frame.FlagFaulted
		w.faulted++
	}
	w.cycles++
	return w.emit(schema.MsgCycle, flags, p)
}

func (w *Writer) WriteFault(f Fault) error {
	if w.closed {
		return ErrClosed
	}
	p := tlv.AppendU64(w.payload[:0], schema.FieldCycle, f.Cycle)
	p = tlv.AppendString(p, schema.FieldReason, f.Reason)
	if len(f.Kinds) > 0 {
		p = tlv.AppendString(p, schema.FieldKinds, strings.Join(f.Kinds, ","))
	}
	return w.emit(schema.MsgFault, frame.FlagFaulted, p)
}

func (w *Writer) emit(recordType uint32, flags uint16, payload []byte) error {
	w.payload = payload
	w.nextID++
	buf, err := frame.AppendFrame(w.buf[:0], frame.Frame{
		Header: frame.Header{
			RecordID:   w.nextID,
			RecordType: recordType,
			Flags:      flags,
		},
		Payload: payload,
	}, w.limits)
	if err != nil {
		return err
	}
	w.buf = buf
	_, err = w.bw.Write(buf)
	return err
}

func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Close writes the session summary, flushes, and closes the underlying file
// when the writer owns it.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	p := tlv.AppendU64(w.payload[:0], schema.FieldCycles, w.cycles)
	p = tlv.AppendU64(p, schema.FieldFaultedCycles, w.faulted)
	err := w.emit(schema.MsgSessionEnd, 0, p)
	w.closed = true
	if ferr := w.bw.Flush(); err == nil {
		err = ferr
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
