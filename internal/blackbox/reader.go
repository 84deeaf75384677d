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
)

// Record is one decoded blackbox record. Exactly one of Start, Cycle, Fault,
// or End is set.
type Record struct {
	ID      uint64
	Type    uint32
	Faulted bool
	Start   *Start
	Cycle   *Snapshot
	Fault   *Fault
	End     *End
}

type Reader struct {
	r      *bufio.Reader
	limits frame.Limits
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), limits: frame.DefaultLimits()}
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	f, err := frame.ReadFrame(r.r, r.limits)
	if err != nil {
		return Record{}, err
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Record{}, err
	}
	if err := schema.Validate(f.Header.RecordType, fields); err != nil {
		return Record{}, err
	}
	rec := Record{
		ID:      f.Header.RecordID,
		Type:    f.Header.RecordType,
		Faulted: f.Header.Flags&frame.FlagFaulted != 0,
	}
	switch f.Header.RecordType {
	case schema.MsgSessionStart:
		rec.Start, err = decodeStart(fields)
	case schema.MsgCycle:
		rec.Cycle, err = decodeCycle(fields)
	case schema.MsgFault:
		rec.Fault, err = decodeFault(fields)
	case schema.MsgSessionEnd:
		rec.End, err = decodeEnd(fields)
	}
	if err != nil {
		return Record{}, fmt.Errorf("blackbox: record %d: %w", rec.ID, err)
	}
	return rec, nil
}

// ReadFile decodes every record in path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := NewReader(f)
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func decodeStart(fields []tlv.Field) (*Start, error) {
	joints, err := u64Field(fields, schema.FieldJointCount)
	if err != nil {
		return nil, err
	}
	started, err := u64Field(fields, schema.FieldStartedMS)
	if err != nil {
		return nil, err
	}
	return &Start{
		SessionID:  stringField(fields, schema.FieldSessionID),
		RigName:    stringField(fields, schema.FieldRigName),
		JointCount: int(joints),
		StartedAt:  time.UnixMilli(int64(started)),
	}, nil
}

func decodeCycle(fields []tlv.Field) (*Snapshot, error) {
	cycle, err := u64Field(fields, schema.FieldCycle)
	if err != nil {
		return nil, err
	}
	us, err := u64Field(fields, schema.FieldTimestampUS)
	if err != nil {
		return nil, err
	}
	hasErr, _ := tlv.GetField(fields, schema.FieldHasError)
	faulted, err := tlv.BoolFromBytes(hasErr.Value)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		Cycle:    cycle,
		Elapsed:  time.Duration(us) * time.Microsecond,
		HasError: faulted,
		Phase:    stringField(fields, schema.FieldPhase),
	}
	if s.Positions, err = f64sField(fields, schema.FieldPositions); err != nil {
		return nil, err
	}
	if s.Velocities, err = f64sField(fields, schema.FieldVelocities); err != nil {
		return nil, err
	}
	if _, ok := tlv.GetField(fields, schema.FieldTorques); ok {
		if s.Torques, err = f64sField(fields, schema.FieldTorques); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func decodeFault(fields []tlv.Field) (*Fault, error) {
	cycle, err := u64Field(fields, schema.FieldCycle)
	if err != nil {
		return nil, err
	}
	f := &Fault{Cycle: cycle, Reason: stringField(fields, schema.FieldReason)}
	if kinds := stringField(fields, schema.FieldKinds); kinds != "" {
		f.Kinds = strings.Split(kinds, ",")
	}
	return f, nil
}

func decodeEnd(fields []tlv.Field) (*End, error) {
	cycles, err := u64Field(fields, schema.FieldCycles)
	if err != nil {
		return nil, err
	}
	faulted, err := u64Field(fields, schema.FieldFaultedCycles)
	if err != nil {
		return nil, err
	}
	return &End{Cycles: cycles, FaultedCycles: faulted}, nil
}

func u64Field(fields []tlv.Field, id uint16) (uint64, error) {
	f, _ := tlv.GetField(fields, id)
	return tlv.U64FromBytes(f.Value)
}

func f64sField(fields []tlv.Field, id uint16) ([]float64, error) {
	f, _ := tlv.GetField(fields, id)
	if err := tlv.MustType(f, tlv.TypeF64s); err != nil {
		return nil, err
	}
	return tlv.F64sFromBytes(f.Value)
}

func stringField(fields []tlv.Field, id uint16) string {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return ""
	}
	return string(f.Value)
}
