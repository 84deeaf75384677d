package observability

import "github.com/danmuck/rigctl/internal/robot"

// countingLink counts handshake and command frames on their way to the
// wrapped link.
type countingLink struct {
	robot.Link
}

// InstrumentLink wraps link so frame counts show up in the session metrics.
func InstrumentLink(link robot.Link) robot.Link {
	return countingLink{Link: link}
}

func (l countingLink) SendInit() {
	handshakePackets.Inc()
	l.Link.SendInit()
}

func (l countingLink) SendCommand() {
	commandFrames.Inc()
	l.Link.SendCommand()
}
