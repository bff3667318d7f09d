package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/CoderBotOrg/coderbot/internal/model"
	"github.com/CoderBotOrg/coderbot/internal/program"
	"github.com/CoderBotOrg/coderbot/internal/robot"
	"github.com/CoderBotOrg/coderbot/internal/script"
	"github.com/CoderBotOrg/coderbot/internal/store"
)

// DefaultTeardownTimeout bounds how long teardown waits for event publishers.
const DefaultTeardownTimeout = 5 * time.Second

var (
	// ErrNoProgram is returned by ExecuteCurrent before any create or load.
	ErrNoProgram = errors.New("no current program")

	// ErrInvalidName is returned for program names that cannot map to a payload file.
	ErrInvalidName = errors.New("invalid program name")
)

// Events is the event bus as seen by a program and by teardown.
type Events interface {
	script.Bus
	WaitForPending(ctx context.Context) error
	UnregisterListeners()
	UnregisterPublishers()
}

// Settings is the configuration consulted on every execution.
type Settings interface {
	// ProgVideoRec reports whether runs are recorded by the camera.
	ProgVideoRec() bool
}

// Collaborators are the subsystems a program drives and teardown resets.
// Nil collaborators are skipped.
type Collaborators struct {
	Motion  robot.Motion
	Camera  robot.Camera
	Sensors robot.Sensors
	Events  Events
}

// Config holds engine settings.
type Config struct {
	// ProgramDir is where payload files of saved programs are written.
	ProgramDir string

	// TeardownTimeout bounds the wait for event publishers. Zero means
	// DefaultTeardownTimeout.
	TeardownTimeout time.Duration

	Settings Settings
}

// Engine owns the current program and its run log. Management operations
// (Create, Save, Load, Delete) assume a single controlling caller; the mutex
// only keeps readers and the worker consistent with it.
type Engine struct {
	store  store.Store
	robot  Collaborators
	cfg    Config
	logger *slog.Logger
	broker *LogBroker

	mu      sync.Mutex
	current *program.Program
	active  *program.Program // last executed; its worker may still be tearing down
	log     *RunLog
	runID   string
}

// NewEngine creates a new execution engine.
func NewEngine(s store.Store, c Collaborators, cfg Config, logger *slog.Logger) *Engine {
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	return &Engine{
		store:  s,
		robot:  c,
		cfg:    cfg,
		logger: logger,
		broker: NewLogBroker(),
		log:    &RunLog{},
	}
}

// Create makes a new unsaved program current and resets the run log.
func (e *Engine) Create(name, code string) (*program.Program, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	p := program.New(name, code)
	e.setCurrent(p)
	return p, nil
}

// Save writes p to the catalog, replacing any program with the same name.
func (e *Engine) Save(ctx context.Context, p *program.Program) error {
	if err := validateName(p.Name); err != nil {
		return err
	}
	rec := p.Record(model.ProgramFilename(e.cfg.ProgramDir, p.Name))
	if err := e.store.SaveProgram(ctx, rec, p.Payload()); err != nil {
		return fmt.Errorf("save program %q: %w", p.Name, err)
	}
	e.logger.Info("program saved", "program", p.Name, "filename", rec.Filename)
	return nil
}

// Load rehydrates the named program and makes it current. When the name is
// not in the catalog, or its payload is missing, it returns store.ErrNotFound
// and leaves the current program and log untouched.
func (e *Engine) Load(ctx context.Context, name string) (*program.Program, error) {
	rec, err := e.store.FindProgram(ctx, name)
	if err != nil {
		return nil, err
	}
	payload, err := e.store.ReadPayload(ctx, *rec)
	if err != nil {
		return nil, err
	}

	p := program.FromPayload(*payload)
	p.Name = rec.Name
	p.Default = rec.Default

	e.setCurrent(p)
	e.logger.Debug("program loaded", "program", p.Name)
	return p, nil
}

// Delete removes the named program from the catalog. A program already in
// memory, running or not, is unaffected.
func (e *Engine) Delete(ctx context.Context, name string) error {
	if err := e.store.DeleteProgram(ctx, name); err != nil {
		return fmt.Errorf("delete program %q: %w", name, err)
	}
	return nil
}

// List returns every program in the catalog.
func (e *Engine) List(ctx context.Context) ([]model.ProgramRecord, error) {
	return e.store.ListPrograms(ctx)
}

// Runs returns the most recent runs of the named program.
func (e *Engine) Runs(ctx context.Context, name string, limit int) ([]*model.Run, error) {
	return e.store.ListRuns(ctx, name, limit)
}

// Current returns the current program, or nil.
func (e *Engine) Current() *program.Program {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// ExecuteCurrent starts the current program on a new worker and returns the
// run id without waiting. It fails with program.ErrAlreadyRunning while any
// worker is alive, including one still tearing down after a stop.
func (e *Engine) ExecuteCurrent(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.current
	if p == nil {
		return "", ErrNoProgram
	}
	if e.active != nil && e.active.Busy() {
		return "", program.ErrAlreadyRunning
	}

	runID := model.NewID()
	e.broker.Open(runID)
	if err := p.Execute(func() { e.run(p, runID) }); err != nil {
		e.broker.Close(runID)
		return "", err
	}
	e.active = p
	e.runID = runID

	e.logger.Info("program started", "program", p.Name, "run_id", runID)
	return runID, nil
}

// Busy reports whether a program worker is alive. A stopped program stays
// busy until its teardown has finished.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil && e.active.Busy()
}

// Stop requests the executing program to end and waits for its teardown.
// The executing program may differ from Current when another was created or
// loaded while it ran.
func (e *Engine) Stop() {
	e.mu.Lock()
	p := e.active
	if p == nil {
		p = e.current
	}
	e.mu.Unlock()

	if p != nil {
		p.RequestEnd()
		p.Wait()
	}
}

// IsRunning reports whether the current program is name and is running.
func (e *Engine) IsRunning(name string) bool {
	p := e.Current()
	return p != nil && p.Name == name && p.IsRunning()
}

// Log appends line to the current run log and streams it to subscribers.
func (e *Engine) Log(line string) {
	e.mu.Lock()
	l, runID := e.log, e.runID
	e.mu.Unlock()

	l.Append(line)
	if runID != "" {
		e.broker.Publish(runID, line)
	}
}

// GetLog returns the run log of the current program.
func (e *Engine) GetLog() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.String()
}

// Subscribe streams the log lines of the current run, starting with the lines
// already logged. The channel is closed when the run ends, or right after the
// backlog when nothing is executing.
func (e *Engine) Subscribe() (<-chan string, func()) {
	e.mu.Lock()
	runID := e.runID
	e.mu.Unlock()

	return e.broker.Subscribe(runID)
}

func (e *Engine) setCurrent(p *program.Program) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = p
	e.log = &RunLog{}
	e.runID = ""
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
