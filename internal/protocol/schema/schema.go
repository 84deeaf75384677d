package schema

import (
	"fmt"

	"github.com/danmuck/rigctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Record type IDs.
const (
	MsgSessionStart uint32 = 1
	MsgCycle        uint32 = 2
	MsgFault        uint32 = 3
	MsgSessionEnd   uint32 = 4
)

// Field IDs.
const (
	FieldSessionID  uint16 = 1
	FieldRigName    uint16 = 2
	FieldJointCount uint16 = 3
	FieldStartedMS  uint16 = 4

	FieldCycle       uint16 = 100
	FieldTimestampUS uint16 = 101
	FieldHasError    uint16 = 102
	FieldPhase       uint16 = 103
	FieldPositions   uint16 = 104
	FieldVelocities  uint16 = 105
	FieldTorques     uint16 = 106

	FieldReason uint16 = 200
	FieldKinds  uint16 = 201

	FieldCycles        uint16 = 300
	FieldFaultedCycles uint16 = 301
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: record_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: record_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgSessionStart: {
		{FieldSessionID, tlv.TypeString},
		{FieldJointCount, tlv.TypeU64},
		{FieldStartedMS, tlv.TypeU64},
	},
	MsgCycle: {
		{FieldCycle, tlv.TypeU64},
		{FieldTimestampUS, tlv.TypeU64},
		{FieldHasError, tlv.TypeBool},
		{FieldPhase, tlv.TypeString},
		{FieldPositions, tlv.TypeF64s},
		{FieldVelocities, tlv.TypeF64s},
	},
	MsgFault: {
		{FieldCycle, tlv.TypeU64},
		{FieldReason, tlv.TypeString},
	},
	MsgSessionEnd: {
		{FieldCycles, tlv.TypeU64},
		{FieldFaultedCycles, tlv.TypeU64},
	},
}

// Validate enforces required fields and required field types for a record
// type. Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Debug().Uint32("record_type", messageType).Msg("schema: unknown record type")
		return ValidationError{MessageType: messageType, Reason: "unknown record_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Uint32("record_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema: missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Uint32("record_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema: type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
