package robot

import "time"

// scriptedLink acknowledges after ackAfter init packets and times out once
// IsTimedOut has been polled more than timeoutAfterPolls times. Zero disables
// either condition.
type scriptedLink struct {
	ackAfter          int
	timeoutAfterPolls int
	timeoutAt         time.Time

	initCalls    int
	inits        int
	commands     int
	parses       int
	polls        int
	forceTimeout bool
	order        []string
}

func (l *scriptedLink) InitLink() {
	l.initCalls++
	l.order = append(l.order, "init_link")
}

func (l *scriptedLink) IsTimedOut() bool {
	l.polls++
	if l.forceTimeout {
		return true
	}
	if l.timeoutAfterPolls > 0 && l.polls > l.timeoutAfterPolls {
		return true
	}
	if !l.timeoutAt.IsZero() && !time.Now().Before(l.timeoutAt) {
		return true
	}
	return false
}

func (l *scriptedLink) IsAckReceived() bool {
	return l.ackAfter > 0 && l.inits >= l.ackAfter
}

func (l *scriptedLink) SendInit() { l.inits++ }

func (l *scriptedLink) SendCommand() {
	l.commands++
	l.order = append(l.order, "send_command")
}

func (l *scriptedLink) ParseSensorData() {
	l.parses++
	l.order = append(l.order, "parse")
}

type fakeJoints struct {
	ready       []bool
	errs        []bool
	enabled     bool
	safetyCalls int
	link        *scriptedLink
}

func newFakeJoints(n int, link *scriptedLink) *fakeJoints {
	return &fakeJoints{ready: make([]bool, n), errs: make([]bool, n), link: link}
}

func (j *fakeJoints) Enable() {
	j.enabled = true
	if j.link != nil {
		j.link.order = append(j.link.order, "enable")
	}
}
func (j *fakeJoints) Count() int           { return len(j.ready) }
func (j *fakeJoints) IsReady(i int) bool   { return j.ready[i] }
func (j *fakeJoints) HasError(i int) bool  { return j.errs[i] }
func (j *fakeJoints) RunSafetyController() { j.safetyCalls++ }

func (j *fakeJoints) setAllReady(ready bool) {
	for i := range j.ready {
		j.ready[i] = ready
	}
}

type fakeIMU struct {
	ready bool
	err   bool
}

func (m *fakeIMU) IsReady() bool  { return m.ready }
func (m *fakeIMU) HasError() bool { return m.err }

// stepClock advances by step on every reading.
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}
