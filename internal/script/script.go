// Package script executes user programs written in Starlark. A program sees
// only the predeclared robot builtins; there is no load(), file or network
// access.
package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/CoderBotOrg/coderbot/internal/event"
	"github.com/CoderBotOrg/coderbot/internal/robot"
)

// DefaultSleepSlice bounds how long sleep() runs between checkpoints.
const DefaultSleepSlice = 50 * time.Millisecond

// fileOptions enables the statements block-editor output relies on.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Bus is the part of the event manager a program uses.
type Bus interface {
	Listen(topic string) *event.Listener
	Publish(topic string, v any) int
	Generate(topic string, interval time.Duration, count int, read func() (any, error)) error
}

// Env is the host side of a program: the checkpoint, the collaborators the
// builtins drive, and the run log.
type Env struct {
	// CheckEnd is the cooperative checkpoint. It returns an error once the
	// program should stop.
	CheckEnd func() error

	Motion  robot.Motion
	Camera  robot.Camera
	Sensors robot.Sensors
	Events  Bus

	// Log receives print() output and log() lines.
	Log func(line string)

	// SleepSlice overrides DefaultSleepSlice when positive.
	SleepSlice time.Duration
}

// Exec runs code as the program name. It returns the first error raised by
// the program, including the checkpoint's stop signal.
func Exec(ctx context.Context, name, code string, env Env) error {
	if env.CheckEnd == nil {
		return errors.New("script: env has no checkpoint")
	}

	h := &host{
		ctx:       ctx,
		env:       env,
		listeners: make(map[string]*event.Listener),
	}

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			h.log(msg)
		},
	}

	_, err := starlark.ExecFileOptions(fileOptions, thread, name+".star", code, h.predeclared())
	return err
}

// Message returns the user-facing text of an error returned by Exec, without
// the Starlark backtrace.
func Message(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Msg
	}
	return err.Error()
}

// Backtrace returns the Starlark call stack of err, or "" when err did not
// come from a running program.
func Backtrace(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return ""
}

func (h *host) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"check_end":          starlark.NewBuiltin("check_end", h.checkEnd),
		"forward":            starlark.NewBuiltin("forward", h.move(1)),
		"backward":           starlark.NewBuiltin("backward", h.move(-1)),
		"left":               starlark.NewBuiltin("left", h.turn(-1)),
		"right":              starlark.NewBuiltin("right", h.turn(1)),
		"turn_angle":         starlark.NewBuiltin("turn_angle", h.turnAngle),
		"stop":               starlark.NewBuiltin("stop", h.stop),
		"is_moving":          starlark.NewBuiltin("is_moving", h.isMoving),
		"servo":              starlark.NewBuiltin("servo", h.servo),
		"sleep":              starlark.NewBuiltin("sleep", h.sleep),
		"get_sonar_distance": starlark.NewBuiltin("get_sonar_distance", h.sonar),
		"get_heading":        starlark.NewBuiltin("get_heading", h.heading),
		"get_mpu_accel":      starlark.NewBuiltin("get_mpu_accel", h.imu(robot.Sensors.Accel)),
		"get_mpu_gyro":       starlark.NewBuiltin("get_mpu_gyro", h.imu(robot.Sensors.Gyro)),
		"get_mpu_temp":       starlark.NewBuiltin("get_mpu_temp", h.temperature),
		"set_text":           starlark.NewBuiltin("set_text", h.setText),
		"log":                starlark.NewBuiltin("log", h.logBuiltin),
		"publish":            starlark.NewBuiltin("publish", h.publish),
		"listen":             starlark.NewBuiltin("listen", h.listen),
		"receive":            starlark.NewBuiltin("receive", h.receive),
		"generate":           starlark.NewBuiltin("generate", h.generate),
		"json":               json.Module,
		"math":               math.Module,
	}
}

// number unpacks either a Starlark int or float.
type number float64

func (n *number) Unpack(v starlark.Value) error {
	f, ok := starlark.AsFloat(v)
	if !ok {
		return fmt.Errorf("got %s, want number", v.Type())
	}
	*n = number(f)
	return nil
}

// seconds converts a number of seconds to a duration.
func (n number) seconds() time.Duration {
	return time.Duration(float64(n) * float64(time.Second))
}
