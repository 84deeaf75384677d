package robot

// Fault kinds reported by Status.Kinds.
const (
	FaultLinkTimeout = "link_timeout"
	FaultJoint       = "joint"
	FaultIMU         = "imu"
	FaultExternal    = "external"
)

// Status is a point-in-time diagnosis of the session. Fields are read one by
// one from the collaborators, so a status taken while the control loop runs
// is an eventually consistent snapshot.
type Status struct {
	Phase          Phase  `json:"phase"`
	Ready          bool   `json:"ready"`
	Error          bool   `json:"error"`
	LinkAcked      bool   `json:"link_acked"`
	LinkTimedOut   bool   `json:"link_timed_out"`
	IMUReady       bool   `json:"imu_ready"`
	IMUError       bool   `json:"imu_error"`
	JointCount     int    `json:"joint_count"`
	JointErrors    []int  `json:"joint_errors"`
	JointsNotReady []int  `json:"joints_not_ready"`
	ExternalReason string `json:"external_reason,omitempty"`
}

// Kinds lists the fault categories present in s.
func (s Status) Kinds() []string {
	kinds := make([]string, 0, 4)
	if s.LinkTimedOut {
		kinds = append(kinds, FaultLinkTimeout)
	}
	if len(s.JointErrors) > 0 {
		kinds = append(kinds, FaultJoint)
	}
	if s.IMUError {
		kinds = append(kinds, FaultIMU)
	}
	if s.ExternalReason != "" {
		kinds = append(kinds, FaultExternal)
	}
	return kinds
}

// Diagnose builds a Status. It allocates and is not meant for the cycle path.
func (r *Robot) Diagnose() Status {
	n := r.joints.Count()
	s := Status{
		Phase:          r.Phase(),
		Ready:          r.IsReady(),
		Error:          r.HasError(),
		LinkAcked:      r.link.IsAckReceived(),
		LinkTimedOut:   r.link.IsTimedOut(),
		IMUReady:       r.imu.IsReady(),
		IMUError:       r.imu.HasError(),
		JointCount:     n,
		JointErrors:    []int{},
		JointsNotReady: []int{},
	}
	for i := 0; i < n; i++ {
		if r.joints.HasError(i) {
			s.JointErrors = append(s.JointErrors, i)
		}
		if !r.joints.IsReady(i) {
			s.JointsNotReady = append(s.JointsNotReady, i)
		}
	}
	if p := r.reason.Load(); p != nil {
		s.ExternalReason = *p
	}
	return s
}
