package imu

import (
	"errors"

	"github.com/danmuck/rigctl/internal/robot"
)

var ErrNilBus = errors.New("imu: nil bus")

// Bus is the board-side imu feed.
type Bus interface {
	IMUReady() bool
	IMUError() bool
	Attitude() [3]float64
	Gyroscope() [3]float64
	Accelerometer() [3]float64
}

// Sensor is the inertial sensor. Readings reflect the last ParseSensorData
// on the owning link.
type Sensor struct {
	bus Bus
	// disabled sensors are always ready and never report errors
	disabled bool
}

var _ robot.IMU = (*Sensor)(nil)

func New(bus Bus) (*Sensor, error) {
	if bus == nil {
		return nil, ErrNilBus
	}
	return &Sensor{bus: bus}, nil
}

// Disabled returns a Sensor for rigs without an imu.
func Disabled() *Sensor {
	return &Sensor{disabled: true}
}

func (s *Sensor) IsReady() bool {
	return s.disabled || s.bus.IMUReady()
}

func (s *Sensor) HasError() bool {
	return !s.disabled && s.bus.IMUError()
}

// Attitude is roll, pitch, yaw in rad.
func (s *Sensor) Attitude() [3]float64 {
	if s.disabled {
		return [3]float64{}
	}
	return s.bus.Attitude()
}

// Gyroscope is the angular rate in rad/s.
func (s *Sensor) Gyroscope() [3]float64 {
	if s.disabled {
		return [3]float64{}
	}
	return s.bus.Gyroscope()
}

// Accelerometer is the linear acceleration in m/s^2.
func (s *Sensor) Accelerometer() [3]float64 {
	if s.disabled {
		return [3]float64{}
	}
	return s.bus.Accelerometer()
}
