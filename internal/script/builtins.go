package script

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.starlark.net/starlark"

	"github.com/CoderBotOrg/coderbot/internal/event"
	"github.com/CoderBotOrg/coderbot/internal/robot"
)

type host struct {
	ctx       context.Context
	env       Env
	listeners map[string]*event.Listener
}

func (h *host) log(line string) {
	if h.env.Log != nil {
		h.env.Log(line)
	}
}

func (h *host) checkEnd(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if err := h.env.CheckEnd(); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func (h *host) move(direction float64) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		speed, elapse, distance := number(100), number(0), number(0)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "speed?", &speed, "elapse?", &elapse, "distance?", &distance); err != nil {
			return nil, err
		}
		if h.env.Motion == nil {
			return nil, fmt.Errorf("%s: motion not available", b.Name())
		}
		if err := h.env.Motion.Move(direction*float64(speed), float64(elapse), float64(distance)); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return starlark.None, nil
	}
}

func (h *host) turn(direction float64) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		speed, elapse := number(100), number(0)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "speed?", &speed, "elapse?", &elapse); err != nil {
			return nil, err
		}
		if h.env.Motion == nil {
			return nil, fmt.Errorf("%s: motion not available", b.Name())
		}
		if err := h.env.Motion.Turn(direction*float64(speed), float64(elapse)); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return starlark.None, nil
	}
}

func (h *host) stop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if h.env.Motion == nil {
		return nil, fmt.Errorf("%s: motion not available", b.Name())
	}
	if err := h.env.Motion.Stop(); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func (h *host) servo(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id int
	var angle number
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id, "angle", &angle); err != nil {
		return nil, err
	}
	if h.env.Motion == nil {
		return nil, fmt.Errorf("%s: motion not available", b.Name())
	}
	if err := h.env.Motion.Servo(id, float64(angle)); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

// sleep waits in slices, running the checkpoint before each one so a stop
// request ends the wait early.
func (h *host) sleep(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var secs number
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &secs); err != nil {
		return nil, err
	}

	slice := h.sleepSlice()
	deadline := time.Now().Add(secs.seconds())
	for {
		if err := h.env.CheckEnd(); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return starlark.None, nil
		}
		select {
		case <-time.After(min(slice, remaining)):
		case <-h.ctx.Done():
			return nil, h.ctx.Err()
		}
	}
}

func (h *host) sleepSlice() time.Duration {
	if h.env.SleepSlice > 0 {
		return h.env.SleepSlice
	}
	return DefaultSleepSlice
}

// turnAngle turns in place until the heading has swept angle degrees,
// polling the heading once per sleep slice.
func (h *host) turnAngle(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	speed, angle := number(100), number(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "speed?", &speed, "angle?", &angle); err != nil {
		return nil, err
	}
	if h.env.Motion == nil || h.env.Sensors == nil {
		return nil, fmt.Errorf("%s: motion not available", b.Name())
	}

	prev, err := h.env.Sensors.Heading()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := h.env.Motion.Turn(float64(speed), 0); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	target := math.Abs(float64(angle))
	for swept := 0.0; swept < target; {
		if err := h.env.CheckEnd(); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		select {
		case <-time.After(h.sleepSlice()):
		case <-h.ctx.Done():
			return nil, h.ctx.Err()
		}
		hdg, err := h.env.Sensors.Heading()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		swept += math.Abs(headingDelta(prev, hdg))
		prev = hdg
	}

	if err := h.env.Motion.Stop(); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

// headingDelta is the signed shortest rotation from a to b, in (-180, 180].
func headingDelta(a, b float64) float64 {
	d := math.Mod(b-a, 360)
	switch {
	case d > 180:
		d -= 360
	case d <= -180:
		d += 360
	}
	return d
}

func (h *host) isMoving(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if h.env.Motion == nil {
		return nil, fmt.Errorf("%s: motion not available", b.Name())
	}
	return starlark.Bool(h.env.Motion.IsMoving()), nil
}

func (h *host) sonar(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	id := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id?", &id); err != nil {
		return nil, err
	}
	if h.env.Sensors == nil {
		return nil, fmt.Errorf("%s: sensors not available", b.Name())
	}
	d, err := h.env.Sensors.SonarDistance(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Float(d), nil
}

func (h *host) heading(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if h.env.Sensors == nil {
		return nil, fmt.Errorf("%s: sensors not available", b.Name())
	}
	hdg, err := h.env.Sensors.Heading()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Float(hdg), nil
}

// imu returns a builtin reading one inertial vector. Without an axis it
// returns the (x, y, z) tuple; with one it returns that component truncated
// to two decimals.
func (h *host) imu(read func(robot.Sensors) (robot.Vector, error)) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var axis starlark.Value = starlark.None
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "axis?", &axis); err != nil {
			return nil, err
		}
		if h.env.Sensors == nil {
			return nil, fmt.Errorf("%s: sensors not available", b.Name())
		}
		v, err := read(h.env.Sensors)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}

		if axis == starlark.None {
			return starlark.Tuple{starlark.Float(v[0]), starlark.Float(v[1]), starlark.Float(v[2])}, nil
		}
		i, err := starlark.AsInt32(axis)
		if err != nil || i < 0 || i >= len(v) {
			return nil, fmt.Errorf("%s: axis must be 0, 1 or 2, got %s", b.Name(), axis)
		}
		return starlark.Float(truncate2(v[i])), nil
	}
}

func (h *host) temperature(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if h.env.Sensors == nil {
		return nil, fmt.Errorf("%s: sensors not available", b.Name())
	}
	t, err := h.env.Sensors.Temperature()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Float(truncate2(t)), nil
}

func truncate2(f float64) float64 {
	return math.Trunc(f*100) / 100
}

func (h *host) setText(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var text string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &text); err != nil {
		return nil, err
	}
	if h.env.Camera == nil {
		return nil, fmt.Errorf("%s: camera not available", b.Name())
	}
	if err := h.env.Camera.SetText(text); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func (h *host) logBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if s, ok := starlark.AsString(v); ok {
		h.log(s)
	} else {
		h.log(v.String())
	}
	return starlark.None, nil
}

type builtinFunc = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)
