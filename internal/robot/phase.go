package robot

import "fmt"

// Phase is the observable session state.
type Phase int32

const (
	PhaseUninitialized Phase = iota
	PhaseHandshaking
	PhaseActive
	PhaseFaulted
)

func (p Phase) String() string {
	switch p {
	case PhaseHandshaking:
		return "handshaking"
	case PhaseActive:
		return "active"
	case PhaseFaulted:
		return "faulted"
	default:
		return "uninitialized"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "uninitialized":
		*p = PhaseUninitialized
	case "handshaking":
		*p = PhaseHandshaking
	case "active":
		*p = PhaseActive
	case "faulted":
		*p = PhaseFaulted
	default:
		return fmt.Errorf("robot: unknown phase %q", text)
	}
	return nil
}
