// Package program holds the Program entity: one user script plus its run
// state. A Program runs at most one worker at a time; cancellation is
// cooperative through CheckEnd.
package program

import (
	"errors"
	"sync"

	"github.com/CoderBotOrg/coderbot/internal/model"
)

var (
	// ErrAlreadyRunning is returned by Execute while a worker is active.
	ErrAlreadyRunning = errors.New("already running")

	// ErrEndRequested is returned by CheckEnd once a stop was requested or the
	// program is no longer running.
	ErrEndRequested = errors.New("end requested")
)

// Program is a named script and its execution state. Name is immutable after
// construction; the running flag is owned by the worker started by Execute.
type Program struct {
	Name    string
	Code    string
	DOMCode string
	Default bool

	mu      sync.Mutex
	running bool
	done    chan struct{} // non-nil while a worker is alive
}

// New returns an idle program.
func New(name, code string) *Program {
	return &Program{Name: name, Code: code}
}

// FromPayload rehydrates an idle program from its stored payload.
func FromPayload(p model.ProgramPayload) *Program {
	return &Program{
		Name:    p.Name,
		Code:    p.Code,
		DOMCode: p.DOMCode,
		Default: p.Default,
	}
}

// Payload returns the serialized form. The running flag is never part of it.
func (p *Program) Payload() model.ProgramPayload {
	return model.ProgramPayload{
		Name:    p.Name,
		Code:    p.Code,
		DOMCode: p.DOMCode,
		Default: p.Default,
	}
}

// Record returns the catalog entry for the program stored at filename.
func (p *Program) Record(filename string) model.ProgramRecord {
	return model.ProgramRecord{
		Name:     p.Name,
		Filename: filename,
		Default:  p.Default,
	}
}

// Execute marks the program running and runs work in a new goroutine. It
// returns immediately. When work returns, the running flag is cleared as the
// very last step, releasing any caller blocked in RequestEnd or Wait.
//
// A second call before the worker has exited fails with ErrAlreadyRunning,
// including the window between RequestEnd flipping the flag and the worker
// finishing its teardown.
func (p *Program) Execute(work func()) error {
	p.mu.Lock()
	if p.running || p.done != nil {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			p.running = false
			p.done = nil
			p.mu.Unlock()
			close(done)
		}()
		work()
	}()

	return nil
}

// RequestEnd asks a running program to stop and blocks until its worker has
// exited. It returns immediately when the program is not running.
func (p *Program) RequestEnd() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	done := p.done
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Wait blocks until the current worker, if any, has exited.
func (p *Program) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

// CheckEnd is the cooperative checkpoint called by the running script.
func (p *Program) CheckEnd() error {
	if !p.IsRunning() {
		return ErrEndRequested
	}
	return nil
}

// Busy reports whether a worker is alive. It stays true after RequestEnd
// clears the running flag, until the worker's teardown has finished.
func (p *Program) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running || p.done != nil
}

// IsRunning reports the running flag.
func (p *Program) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
