package script

import (
	"fmt"

	"go.starlark.net/starlark"
)

func (h *host) events(name string) error {
	if h.env.Events == nil {
		return fmt.Errorf("%s: events not available", name)
	}
	return nil
}

func (h *host) publish(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var topic string
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &topic, &v); err != nil {
		return nil, err
	}
	if err := h.events(b.Name()); err != nil {
		return nil, err
	}
	v.Freeze()
	return starlark.MakeInt(h.env.Events.Publish(topic, v)), nil
}

// listen registers the program on topic. Listening twice on a topic is a no-op.
func (h *host) listen(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var topic string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &topic); err != nil {
		return nil, err
	}
	if err := h.events(b.Name()); err != nil {
		return nil, err
	}
	if _, ok := h.listeners[topic]; !ok {
		h.listeners[topic] = h.env.Events.Listen(topic)
	}
	return starlark.None, nil
}

// receive returns the next value published on a listened topic, or None when
// timeout seconds pass first.
func (h *host) receive(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var topic string
	timeout := number(1)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "topic", &topic, "timeout?", &timeout); err != nil {
		return nil, err
	}
	l, ok := h.listeners[topic]
	if !ok {
		return nil, fmt.Errorf("%s: not listening on %q", b.Name(), topic)
	}
	if err := h.env.CheckEnd(); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	v, ok := l.Receive(h.ctx, timeout.seconds())
	if !ok {
		return starlark.None, nil
	}
	return toValue(v)
}

// generate starts a publisher sampling source ("sonar" or "heading") every
// interval seconds, count times.
func (h *host) generate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var topic, source string
	interval := number(0.5)
	count := 10
	id := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"topic", &topic, "source", &source, "interval?", &interval, "count?", &count, "id?", &id,
	); err != nil {
		return nil, err
	}
	if err := h.events(b.Name()); err != nil {
		return nil, err
	}
	if h.env.Sensors == nil {
		return nil, fmt.Errorf("%s: sensors not available", b.Name())
	}

	var read func() (any, error)
	switch source {
	case "sonar":
		read = func() (any, error) { return h.env.Sensors.SonarDistance(id) }
	case "heading":
		read = func() (any, error) { return h.env.Sensors.Heading() }
	default:
		return nil, fmt.Errorf("%s: unknown source %q", b.Name(), source)
	}

	if err := h.env.Events.Generate(topic, interval.seconds(), count, read); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

// toValue converts a published value to Starlark.
func toValue(v any) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case float64:
		return starlark.Float(v), nil
	}
	return nil, fmt.Errorf("unsupported event value %T", v)
}
