package control

// Policy computes joint torques for one healthy cycle. pos and vel hold the
// joint state read this cycle; tau arrives zeroed and is staged as written.
type Policy interface {
	Torques(cycle uint64, pos, vel, tau []float64)
}

// HoldPolicy commands zero torque.
type HoldPolicy struct{}

func (HoldPolicy) Torques(uint64, []float64, []float64, []float64) {}

// PDPolicy holds the pose seen on its first call with a joint-space PD law.
type PDPolicy struct {
	Kp, Kd float64

	target []float64
}

func NewPDPolicy(kp, kd float64) *PDPolicy {
	return &PDPolicy{Kp: kp, Kd: kd}
}

func (p *PDPolicy) Torques(_ uint64, pos, vel, tau []float64) {
	if p.target == nil {
		p.target = append([]float64(nil), pos...)
	}
	for i := range tau {
		tau[i] = p.Kp*(p.target[i]-pos[i]) - p.Kd*vel[i]
	}
}

// Target returns the held pose, or nil before the first cycle.
func (p *PDPolicy) Target() []float64 {
	return p.target
}
