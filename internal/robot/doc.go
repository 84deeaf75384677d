// Package robot owns the rig session: link handshake, per-cycle command and
// sensor exchange, and fault aggregation for the safety fallback.
//
// Ownership boundary:
// - session phase (uninitialized -> handshaking -> active -> faulted)
//
// - readiness and error aggregation across link, joints, and imu
//
// - latched external faults
//
// Robot does not decide what commands are sent. The caller stages either a
// normal or a safety command on the joint group each cycle, based on HasError.
//
// Cycle order:
// - ParseSensorData -> read state, stage command -> SendCommand
package robot
