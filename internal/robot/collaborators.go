package robot

// Link is the board transport driver. It owns the raw bus, frame encoding,
// timeout detection, and acknowledgment tracking.
type Link interface {
	// InitLink opens the underlying channel. Idempotent and non-blocking.
	InitLink()
	IsTimedOut() bool
	IsAckReceived() bool
	// SendInit sends one handshake packet.
	SendInit()
	// SendCommand transmits the currently staged command frame.
	SendCommand()
	// ParseSensorData decodes the latest inbound frame into collaborator buffers.
	ParseSensorData()
}

// Joints is a fixed-size group of actuated joints.
type Joints interface {
	Enable()
	Count() int
	IsReady(i int) bool
	HasError(i int) bool
	// RunSafetyController stages the safety command for every joint.
	// Called by the control loop, never by Robot.
	RunSafetyController()
}

// IMU is the inertial sensor.
type IMU interface {
	IsReady() bool
	HasError() bool
}
