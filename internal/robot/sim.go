package robot

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Compile-time interface satisfaction checks.
var (
	_ Motion  = (*Sim)(nil)
	_ Camera  = (*Sim)(nil)
	_ Sensors = (*Sim)(nil)
)

// degreesPerSecond is how fast the simulated robot turns at full speed.
const degreesPerSecond = 180.0

// SimConfig configures a simulated robot.
type SimConfig struct {
	// TimeScale multiplies every simulated motor duration. Zero means 1.
	TimeScale float64

	// CameraDisabled makes every camera call fail with ErrCameraUnavailable.
	CameraDisabled bool

	// SonarDistances holds fixed readings per sonar id. Missing ids read 100.
	SonarDistances map[int]float64

	// TrimFactor is the motor trim applied to every move and turn.
	TrimFactor float64

	// Temperature is the inertial unit reading. Zero means 25.
	Temperature float64

	Logger *slog.Logger
}

// Sim is an in-memory robot. It keeps motor power, heading, camera state and
// a log of every call for inspection.
type Sim struct {
	cfg    SimConfig
	logger *slog.Logger

	mu         sync.Mutex
	calls      []string
	powerLeft  float64
	powerRight float64
	heading    float64
	turnRate   float64 // degrees per simulated second while turning without elapse
	turnSince  time.Time
	servos     map[int]float64
	recording  string
	text       string
}

// NewSim creates a simulated robot.
func NewSim(cfg SimConfig) *Sim {
	if cfg.TimeScale <= 0 {
		cfg.TimeScale = 1
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 25
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sim{
		cfg:    cfg,
		logger: logger,
		servos: make(map[int]float64),
	}
}

func (s *Sim) record(format string, args ...any) {
	call := fmt.Sprintf(format, args...)
	s.calls = append(s.calls, call)
	s.logger.Debug("sim", "call", call)
}

func (s *Sim) elapse(seconds float64) {
	if seconds <= 0 {
		return
	}
	time.Sleep(time.Duration(seconds * s.cfg.TimeScale * float64(time.Second)))
}

// settle folds the rotation of an open-ended turn into the heading.
// Callers hold mu.
func (s *Sim) settle() {
	if s.turnRate == 0 {
		return
	}
	now := time.Now()
	simulated := now.Sub(s.turnSince).Seconds() / s.cfg.TimeScale
	s.heading = normalizeHeading(s.heading + s.turnRate*simulated)
	s.turnSince = now
}

// Move implements Motion.
func (s *Sim) Move(speed, elapse, distance float64) error {
	speed = ClampSpeed(speed)
	s.mu.Lock()
	s.record("move(%g, %g, %g)", speed, elapse, distance)
	s.settle()
	s.turnRate = 0
	s.powerLeft, s.powerRight = Trim(speed, s.cfg.TrimFactor)
	s.mu.Unlock()

	if elapse > 0 {
		s.elapse(elapse)
		return s.Stop()
	}
	return nil
}

// Turn implements Motion. A turn without elapse keeps rotating the heading
// until the next Move, Turn or Stop.
func (s *Sim) Turn(speed, elapse float64) error {
	speed = ClampSpeed(speed)
	s.mu.Lock()
	s.record("turn(%g, %g)", speed, elapse)
	s.settle()
	left, right := Trim(speed, s.cfg.TrimFactor)
	s.powerLeft, s.powerRight = left, -right
	rate := speed / MaxSpeed * degreesPerSecond
	if elapse > 0 {
		s.turnRate = 0
		s.heading = normalizeHeading(s.heading + rate*elapse)
	} else {
		s.turnRate = rate
		s.turnSince = time.Now()
	}
	s.mu.Unlock()

	if elapse > 0 {
		s.elapse(elapse)
		return s.Stop()
	}
	return nil
}

// Stop implements Motion.
func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("stop()")
	s.settle()
	s.turnRate = 0
	s.powerLeft, s.powerRight = 0, 0
	return nil
}

// IsMoving implements Motion.
func (s *Sim) IsMoving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powerLeft != 0 || s.powerRight != 0
}

// Servo implements Motion.
func (s *Sim) Servo(id int, angle float64) error {
	if angle < -90 || angle > 90 {
		return fmt.Errorf("servo angle %g out of range [-90, 90]", angle)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("servo(%d, %g)", id, angle)
	s.servos[id] = angle
	return nil
}

// SonarDistance implements Sensors.
func (s *Sim) SonarDistance(id int) (float64, error) {
	if d, ok := s.cfg.SonarDistances[id]; ok {
		return d, nil
	}
	return 100, nil
}

// Heading implements Sensors.
func (s *Sim) Heading() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	return s.heading, nil
}

// Accel implements Sensors. The simulated robot stays level.
func (s *Sim) Accel() (Vector, error) {
	return Vector{0, 0, 1}, nil
}

// Gyro implements Sensors. Only yaw is simulated.
func (s *Sim) Gyro() (Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Vector{0, 0, s.turnRate}, nil
}

// Temperature implements Sensors.
func (s *Sim) Temperature() (float64, error) {
	return s.cfg.Temperature, nil
}

// StartRecording implements Camera.
func (s *Sim) StartRecording(label string) error {
	if s.cfg.CameraDisabled {
		return ErrCameraUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("start_recording(%q)", label)
	s.recording = label
	return nil
}

// StopRecording implements Camera.
func (s *Sim) StopRecording() error {
	if s.cfg.CameraDisabled {
		return ErrCameraUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("stop_recording()")
	s.recording = ""
	return nil
}

// SetText implements Camera.
func (s *Sim) SetText(text string) error {
	if s.cfg.CameraDisabled {
		return ErrCameraUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("set_text(%q)", text)
	s.text = text
	return nil
}

// ClearText implements Camera.
func (s *Sim) ClearText() error {
	return s.SetText("")
}

// Calls returns a copy of every call made so far.
func (s *Sim) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Power returns the current left and right motor power.
func (s *Sim) Power() (left, right float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powerLeft, s.powerRight
}

// Recording returns the label of the active recording, or "".
func (s *Sim) Recording() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Text returns the current overlay text.
func (s *Sim) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func normalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
