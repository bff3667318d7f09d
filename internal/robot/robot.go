package robot

import "errors"

// ErrCameraUnavailable is returned by camera operations when no camera is attached.
var ErrCameraUnavailable = errors.New("camera not available")

// Speed limits for both motors, in percent of full power.
const (
	MaxSpeed = 100
	MinSpeed = -100
)

// Motion drives the two wheel motors and the servos.
type Motion interface {
	// Move drives both wheels at speed for elapse seconds or until distance
	// centimetres are covered. Zero elapse and distance keep the motors on.
	Move(speed, elapse, distance float64) error

	// Turn spins the wheels in opposite directions for elapse seconds.
	// Positive speed turns right.
	Turn(speed, elapse float64) error

	// Stop cuts power to both motors.
	Stop() error

	// Servo sets servo id to angle degrees in [-90, 90].
	Servo(id int, angle float64) error

	// IsMoving reports whether either motor has power.
	IsMoving() bool
}

// Camera controls video recording and the overlay text drawn on the stream.
type Camera interface {
	StartRecording(label string) error
	StopRecording() error
	SetText(text string) error
	ClearText() error
}

// Vector is an x, y, z reading of the inertial unit.
type Vector [3]float64

// Sensors reads the distance sensors and the inertial unit.
type Sensors interface {
	SonarDistance(id int) (float64, error)

	// Heading is the yaw in degrees, in [0, 360).
	Heading() (float64, error)

	// Accel is the acceleration in g.
	Accel() (Vector, error)

	// Gyro is the angular rate in degrees per second.
	Gyro() (Vector, error)

	// Temperature is the inertial unit's temperature in degrees Celsius.
	Temperature() (float64, error)
}

// ClampSpeed limits speed to [MinSpeed, MaxSpeed].
func ClampSpeed(speed float64) float64 {
	return min(MaxSpeed, max(MinSpeed, speed))
}

// Trim splits speed into left and right motor power, compensating for
// mismatched motors. A factor above 1 favours the left motor; factors of zero
// or below mean no trim.
func Trim(speed, factor float64) (left, right float64) {
	if factor <= 0 {
		factor = 1
	}
	return ClampSpeed(speed * factor), ClampSpeed(speed / factor)
}
