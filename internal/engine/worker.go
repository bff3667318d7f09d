package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CoderBotOrg/coderbot/internal/model"
	"github.com/CoderBotOrg/coderbot/internal/program"
	"github.com/CoderBotOrg/coderbot/internal/robot"
	"github.com/CoderBotOrg/coderbot/internal/script"
)

// Teardown step names, used in logs and metrics.
const (
	stepEventsWait       = "events_wait"
	stepEventsListeners  = "events_listeners"
	stepEventsPublishers = "events_publishers"
	stepCameraStop       = "camera_stop"
	stepCameraClearText  = "camera_clear_text"
	stepMotionStop       = "motion_stop"
)

// run is the worker body. Nothing raised by the program escapes it: errors and
// panics become run log lines. Teardown always runs; the Program clears its
// running flag only after run returns.
func (e *Engine) run(p *program.Program, runID string) {
	start := time.Now().UTC()
	runningPrograms.Inc()
	e.startRecording(p.Name, runID)

	var runLog strings.Builder
	logLine := func(line string) {
		runLog.WriteString(line)
		runLog.WriteByte('\n')
		e.Log(line)
	}

	r := &model.Run{
		ID:        runID,
		Program:   p.Name,
		Status:    model.RunStatusRunning,
		StartedAt: start,
	}
	if err := e.store.CreateRun(context.Background(), r); err != nil {
		e.logger.Error("failed to record run", "program", p.Name, "run_id", runID, "error", err)
	}

	err := e.exec(p, logLine)

	switch {
	case err == nil:
		r.Status = model.RunStatusCompleted
	case errors.Is(err, program.ErrEndRequested):
		r.Status = model.RunStatusStopped
	default:
		r.Status = model.RunStatusFailed
	}
	if err != nil {
		msg := script.Message(err)
		r.Error = msg
		logLine(msg)
		e.logger.Info("program quit", "program", p.Name, "run_id", runID, "status", r.Status, "error", msg)
		if bt := script.Backtrace(err); bt != "" {
			e.logger.Debug("program backtrace", "program", p.Name, "run_id", runID, "backtrace", bt)
		}
	}

	e.teardown(p.Name, runID)

	finished := time.Now().UTC()
	r.FinishedAt = &finished
	r.Log = runLog.String()
	if err := e.store.FinishRun(context.Background(), r); err != nil {
		e.logger.Error("failed to record run outcome", "program", p.Name, "run_id", runID, "error", err)
	}

	runsTotal.WithLabelValues(r.Status).Inc()
	runDuration.Observe(finished.Sub(start).Seconds())
	runningPrograms.Dec()
	e.broker.Close(runID)

	e.logger.Info("program finished", "program", p.Name, "run_id", runID, "status", r.Status,
		"duration_ms", finished.Sub(start).Milliseconds())
}

// startRecording starts the camera when video recording is enabled. A camera
// failure is logged and never prevents the run.
func (e *Engine) startRecording(name, runID string) {
	if e.cfg.Settings == nil || !e.cfg.Settings.ProgVideoRec() || e.robot.Camera == nil {
		return
	}
	if err := e.robot.Camera.StartRecording(name); err != nil {
		e.logger.Warn("camera not available", "program", name, "run_id", runID, "error", err)
		return
	}
	e.logger.Debug("video recording started", "program", name, "run_id", runID)
}

// exec runs the program's code, converting a panic in a host builtin into an error.
func (e *Engine) exec(p *program.Program, logLine func(string)) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()

	env := script.Env{
		CheckEnd: p.CheckEnd,
		Motion:   e.robot.Motion,
		Camera:   e.robot.Camera,
		Sensors:  e.robot.Sensors,
		Log:      logLine,
	}
	if e.robot.Events != nil {
		env.Events = e.robot.Events
	}
	return script.Exec(context.Background(), p.Name, p.Code, env)
}

// teardown resets every collaborator. Each step is guarded on its own so a
// failing or panicking collaborator never skips the steps after it.
func (e *Engine) teardown(name, runID string) {
	if ev := e.robot.Events; ev != nil {
		e.guard(name, runID, stepEventsWait, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.TeardownTimeout)
			defer cancel()
			return ev.WaitForPending(ctx)
		})
		e.guard(name, runID, stepEventsListeners, func() error {
			ev.UnregisterListeners()
			return nil
		})
		e.guard(name, runID, stepEventsPublishers, func() error {
			ev.UnregisterPublishers()
			return nil
		})
	}

	if cam := e.robot.Camera; cam != nil {
		e.guard(name, runID, stepCameraStop, cam.StopRecording)
		e.guard(name, runID, stepCameraClearText, cam.ClearText)
	}

	if m := e.robot.Motion; m != nil {
		e.guard(name, runID, stepMotionStop, m.Stop)
	}
}

func (e *Engine) guard(name, runID, step string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			teardownFailures.WithLabelValues(step).Inc()
			e.logger.Error("teardown step panicked", "program", name, "run_id", runID, "step", step, "panic", rec)
		}
	}()

	err := fn()
	switch {
	case err == nil:
	case errors.Is(err, robot.ErrCameraUnavailable):
		e.logger.Warn("camera not available", "program", name, "run_id", runID, "step", step)
	default:
		teardownFailures.WithLabelValues(step).Inc()
		e.logger.Error("teardown step failed", "program", name, "run_id", runID, "step", step, "error", err)
	}
}
