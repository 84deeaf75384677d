package config

import (
	"fmt"
	"os"
)

func Template() string {
	return rigTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(rigTemplate), 0o600)
}

const rigTemplate = `name = "solo12"

[session]
resend_interval = "1ms"

[loop]
period = "1ms"
max_cycles = 0
policy = "hold"
kp = 3.0
kd = 0.05

[link]
ack_after_packets = 3
timeout = "100ms"
unreachable = false

[joints]
count = 12
gear_ratio = 9.0
motor_constant = 0.025
max_current = 8.0
safety_damping = 0.2
max_velocity = 80.0
polarities = [true, false, true, true, false, false, true, false, true, true, false, false]
lower_limits = [-1.2, -1.7, -3.0, -1.2, -1.7, -3.0, -1.2, -1.7, -3.0, -1.2, -1.7, -3.0]
upper_limits = [1.2, 1.7, 3.0, 1.2, 1.7, 3.0, 1.2, 1.7, 3.0, 1.2, 1.7, 3.0]

[imu]
enabled = true

[blackbox]
path = ""

[admin]
addr = "127.0.0.1:7020"
cors_origins = ["http://localhost:3000"]
`
