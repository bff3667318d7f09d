package script

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CoderBotOrg/coderbot/internal/event"
	"github.com/CoderBotOrg/coderbot/internal/robot"
)

var errStop = errors.New("end requested")

type testLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLog) add(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

func (l *testLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func newTestEnv(t *testing.T) (Env, *robot.Sim, *testLog) {
	t.Helper()
	return newTestEnvWith(t, robot.SimConfig{TimeScale: 0.001})
}

func newTestEnvWith(t *testing.T, cfg robot.SimConfig) (Env, *robot.Sim, *testLog) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg.Logger = logger
	sim := robot.NewSim(cfg)
	events := event.NewManager(logger)
	t.Cleanup(events.UnregisterPublishers)
	log := &testLog{}
	return Env{
		CheckEnd:   func() error { return nil },
		Motion:     sim,
		Camera:     sim,
		Sensors:    sim,
		Events:     events,
		Log:        log.add,
		SleepSlice: time.Millisecond,
	}, sim, log
}

// mustExec runs code and fails the test on any error.
func mustExec(t *testing.T, env Env, code string) {
	t.Helper()
	if err := Exec(context.Background(), "p", code, env); err != nil {
		t.Fatalf("Exec: %v", err)
	}
}

// execErr runs code and fails the test unless it raised an error.
func execErr(t *testing.T, env Env, code string) error {
	t.Helper()
	err := Exec(context.Background(), "p", code, env)
	if err == nil {
		t.Fatalf("Exec(%q) succeeded, want an error", code)
	}
	return err
}

func TestExecSquare(t *testing.T) {
	env, sim, _ := newTestEnv(t)
	var checks atomic.Int32
	env.CheckEnd = func() error {
		checks.Add(1)
		return nil
	}

	mustExec(t, env, `
for i in range(4):
    check_end()
    forward(speed=80, elapse=1)
    right(elapse=0.5)
`)

	if n := checks.Load(); n != 4 {
		t.Errorf("checkpoints = %d, want 4", n)
	}
	calls := sim.Calls()
	if len(calls) != 16 {
		t.Fatalf("got %d robot calls, want 16: %v", len(calls), calls)
	}
	for i, want := range []string{"move(80, 1, 0)", "stop()", "turn(100, 0.5)"} {
		if calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, calls[i], want)
		}
	}
}

func TestExecBackwardAndLeftNegateSpeed(t *testing.T) {
	env, sim, _ := newTestEnv(t)

	mustExec(t, env, "backward(50)\nleft(30)\nstop()")

	want := []string{"move(-50, 0, 0)", "turn(-30, 0)", "stop()"}
	if got := sim.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestExecArithmeticFault(t *testing.T) {
	env, _, _ := newTestEnv(t)

	err := execErr(t, env, "x = 1 // 0")
	if msg := Message(err); !strings.Contains(msg, "division by zero") {
		t.Errorf("Message = %q, want the division error", msg)
	}
	if Backtrace(err) == "" {
		t.Error("Backtrace is empty for a program error")
	}
}

func TestExecCheckEndStops(t *testing.T) {
	env, _, _ := newTestEnv(t)
	var calls atomic.Int32
	env.CheckEnd = func() error {
		if calls.Add(1) > 3 {
			return errStop
		}
		return nil
	}

	err := execErr(t, env, `
n = 0
while True:
    check_end()
    n += 1
`)
	if !errors.Is(err, errStop) {
		t.Errorf("err = %v, want the stop signal", err)
	}
	if got, want := Message(err), "check_end: end requested"; got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
	if n := calls.Load(); n != 4 {
		t.Errorf("checkpoints = %d, want 4", n)
	}
}

func TestExecPrintAndLogGoToLog(t *testing.T) {
	env, _, log := newTestEnv(t)

	mustExec(t, env, `
print("hello", 1)
log("plain")
log(42)
log(json.encode({"a": 1}))
log(math.sqrt(4))
`)

	want := []string{"hello 1", "plain", "42", `{"a":1}`, "2.0"}
	if got := log.all(); !slices.Equal(got, want) {
		t.Errorf("log = %v, want %v", got, want)
	}
}

func TestExecSleepObservesStop(t *testing.T) {
	env, _, _ := newTestEnv(t)
	var stopped atomic.Bool
	env.CheckEnd = func() error {
		if stopped.Load() {
			return errStop
		}
		return nil
	}

	time.AfterFunc(20*time.Millisecond, func() { stopped.Store(true) })

	start := time.Now()
	err := execErr(t, env, "sleep(60)")
	if !errors.Is(err, errStop) {
		t.Errorf("err = %v, want the stop signal", err)
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Errorf("sleep returned after %v, want it cut short", d)
	}
}

func TestExecSleepCompletes(t *testing.T) {
	env, _, _ := newTestEnv(t)
	mustExec(t, env, "sleep(0.01)")
}

func TestExecSensorsAndCamera(t *testing.T) {
	env, sim, log := newTestEnv(t)

	mustExec(t, env, `
right(50, 1)
log(get_heading())
log(get_sonar_distance())
set_text("hi")
servo(0, 45)
`)

	want := []string{"90.0", "100.0"}
	if got := log.all(); !slices.Equal(got, want) {
		t.Errorf("log = %v, want %v", got, want)
	}
	if got := sim.Text(); got != "hi" {
		t.Errorf("overlay text = %q, want %q", got, "hi")
	}
}

func TestExecInertialReadings(t *testing.T) {
	env, _, log := newTestEnvWith(t, robot.SimConfig{TimeScale: 0.001, Temperature: 23.456})

	mustExec(t, env, `
log(get_mpu_accel())
log(get_mpu_accel(2))
log(get_mpu_gyro(axis=2))
log(get_mpu_temp())
`)

	want := []string{"(0.0, 0.0, 1.0)", "1.0", "0.0", "23.45"}
	if got := log.all(); !slices.Equal(got, want) {
		t.Errorf("log = %v, want %v", got, want)
	}
}

func TestExecInertialBadAxis(t *testing.T) {
	env, _, _ := newTestEnv(t)

	for _, code := range []string{"get_mpu_accel(3)", "get_mpu_gyro(-1)", `get_mpu_gyro("z")`} {
		err := execErr(t, env, code)
		if msg := Message(err); !strings.Contains(msg, "axis") {
			t.Errorf("%s: Message = %q, want an axis error", code, msg)
		}
	}
}

func TestExecIsMoving(t *testing.T) {
	env, _, log := newTestEnv(t)

	mustExec(t, env, `
log(is_moving())
forward(speed=40)
log(is_moving())
stop()
log(is_moving())
`)

	want := []string{"False", "True", "False"}
	if got := log.all(); !slices.Equal(got, want) {
		t.Errorf("log = %v, want %v", got, want)
	}
}

func TestExecTurnAngle(t *testing.T) {
	env, sim, _ := newTestEnvWith(t, robot.SimConfig{TimeScale: 0.1})

	mustExec(t, env, "turn_angle(speed=100, angle=30)")

	calls := sim.Calls()
	want := []string{"turn(100, 0)", "stop()"}
	if !slices.Equal(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	h, _ := sim.Heading()
	if h < 30 || h > 180 {
		t.Errorf("heading after turn_angle = %g, want at least 30", h)
	}
	if sim.IsMoving() {
		t.Error("robot still moving after turn_angle")
	}
}

func TestExecTurnAngleZeroStopsAtOnce(t *testing.T) {
	env, sim, _ := newTestEnv(t)

	mustExec(t, env, "turn_angle()")

	want := []string{"turn(100, 0)", "stop()"}
	if got := sim.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestExecTurnAngleObservesStop(t *testing.T) {
	env, _, _ := newTestEnvWith(t, robot.SimConfig{TimeScale: 1})
	var stopped atomic.Bool
	env.CheckEnd = func() error {
		if stopped.Load() {
			return errStop
		}
		return nil
	}
	time.AfterFunc(20*time.Millisecond, func() { stopped.Store(true) })

	err := execErr(t, env, "turn_angle(speed=1, angle=360)")
	if !errors.Is(err, errStop) {
		t.Errorf("err = %v, want the stop signal", err)
	}
}

func TestHeadingDelta(t *testing.T) {
	tests := []struct {
		a, b, want float64
	}{
		{0, 10, 10},
		{10, 0, -10},
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
	}
	for _, tt := range tests {
		if got := headingDelta(tt.a, tt.b); got != tt.want {
			t.Errorf("headingDelta(%g, %g) = %g, want %g", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestExecEvents(t *testing.T) {
	env, _, log := newTestEnv(t)

	mustExec(t, env, `
listen("ping")
listen("ping")
publish("ping", 5)
log(receive("ping"))
log(receive("ping", timeout=0.01))
listen("sonar")
generate("sonar", "sonar", interval=0.001, count=2)
log(receive("sonar"))
`)

	want := []string{"5", "None", "100.0"}
	if got := log.all(); !slices.Equal(got, want) {
		t.Errorf("log = %v, want %v", got, want)
	}
}

func TestExecErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"receive without listen", `receive("nothing")`, "not listening"},
		{"unknown generator source", `generate("t", "lidar")`, "unknown source"},
		{"load disabled", `load("other.star", "x")`, "load"},
		{"undefined name", `open("/etc/passwd")`, "open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, _, _ := newTestEnv(t)
			err := execErr(t, env, tt.code)
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestExecMotionUnavailable(t *testing.T) {
	env, _, _ := newTestEnv(t)
	env.Motion = nil

	for _, code := range []string{"forward()", "turn_angle(angle=10)", "is_moving()"} {
		err := execErr(t, env, code)
		if msg := Message(err); !strings.Contains(msg, "motion not available") {
			t.Errorf("%s: Message = %q, want motion not available", code, msg)
		}
	}
}

func TestExecRequiresCheckpoint(t *testing.T) {
	env, _, _ := newTestEnv(t)
	env.CheckEnd = nil

	if err := Exec(context.Background(), "p", "pass", env); err == nil {
		t.Error("Exec without a checkpoint succeeded")
	}
}

func TestMessageOfPlainError(t *testing.T) {
	err := errors.New("boom")
	if got := Message(err); got != "boom" {
		t.Errorf("Message = %q, want boom", got)
	}
	if bt := Backtrace(err); bt != "" {
		t.Errorf("Backtrace = %q, want empty", bt)
	}
}
