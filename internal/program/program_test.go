package program

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/CoderBotOrg/coderbot/internal/model"
)

func TestExecuteRunsWorkAndReturnsToIdle(t *testing.T) {
	p := New("square", "forward()")
	var ran atomic.Bool

	if err := p.Execute(func() { ran.Store(true) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	p.Wait()

	if !ran.Load() {
		t.Error("work did not run")
	}
	if p.IsRunning() {
		t.Error("IsRunning = true after worker exit")
	}
}

func TestExecuteTwiceIsRejected(t *testing.T) {
	p := New("square", "")
	release := make(chan struct{})
	var workers atomic.Int32

	work := func() {
		workers.Add(1)
		<-release
	}

	if err := p.Execute(work); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if err := p.Execute(work); err != ErrAlreadyRunning {
		t.Errorf("second Execute = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	p.Wait()

	if n := workers.Load(); n != 1 {
		t.Errorf("workers started = %d, want 1", n)
	}
}

func TestExecuteRejectedWhileTearingDown(t *testing.T) {
	p := New("square", "")
	inTeardown := make(chan struct{})
	release := make(chan struct{})

	err := p.Execute(func() {
		for p.CheckEnd() == nil {
			time.Sleep(time.Millisecond)
		}
		close(inTeardown)
		<-release
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	go p.RequestEnd()
	<-inTeardown

	if p.IsRunning() {
		t.Error("IsRunning = true after RequestEnd")
	}
	if !p.Busy() {
		t.Error("Busy = false while worker is tearing down")
	}
	if err := p.Execute(func() {}); err != ErrAlreadyRunning {
		t.Errorf("Execute during teardown = %v, want ErrAlreadyRunning", err)
	}
	close(release)
	p.Wait()

	if p.Busy() {
		t.Error("Busy = true after worker exit")
	}

	if err := p.Execute(func() {}); err != nil {
		t.Errorf("Execute after completion = %v, want nil", err)
	}
	p.Wait()
}

func TestRequestEndBlocksUntilWorkerExits(t *testing.T) {
	p := New("loop", "")
	var finished atomic.Bool

	err := p.Execute(func() {
		for p.CheckEnd() == nil {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	p.RequestEnd()

	if !finished.Load() {
		t.Error("RequestEnd returned before the worker finished")
	}
	if p.IsRunning() {
		t.Error("IsRunning = true after RequestEnd")
	}
}

func TestRequestEndWhenIdleIsNoop(t *testing.T) {
	p := New("idle", "")
	done := make(chan struct{})
	go func() {
		p.RequestEnd()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RequestEnd blocked on an idle program")
	}
}

func TestCheckEnd(t *testing.T) {
	p := New("check", "")
	if err := p.CheckEnd(); err != ErrEndRequested {
		t.Errorf("CheckEnd on idle program = %v, want ErrEndRequested", err)
	}

	release := make(chan struct{})
	if err := p.Execute(func() { <-release }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := p.CheckEnd(); err != nil {
		t.Errorf("CheckEnd while running = %v, want nil", err)
	}
	close(release)
	p.Wait()
}

func TestCooperativeStopWithinOneIteration(t *testing.T) {
	p := New("counter", "")
	const n = 1000
	var iterations atomic.Int32
	var atStop atomic.Int32
	stopRequested := make(chan struct{})

	err := p.Execute(func() {
		for i := 0; i < n; i++ {
			if p.CheckEnd() != nil {
				return
			}
			iterations.Add(1)
			if i == 10 {
				close(stopRequested)
				for p.IsRunning() {
					time.Sleep(time.Millisecond)
				}
				atStop.Store(iterations.Load())
			}
		}
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	<-stopRequested
	p.RequestEnd()

	if got, stop := iterations.Load(), atStop.Load(); got > stop+1 {
		t.Errorf("loop ran %d iterations, stop observed at %d; want at most one more", got, stop)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	p := &Program{Name: "square", Code: "forward()", DOMCode: "<xml/>", Default: true}
	release := make(chan struct{})
	if err := p.Execute(func() { <-release }); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := FromPayload(p.Payload())
	close(release)
	p.Wait()

	if got.Name != p.Name || got.Code != p.Code || got.DOMCode != p.DOMCode || got.Default != p.Default {
		t.Errorf("round trip = %+v, want fields of %+v", got.Payload(), p.Payload())
	}
	if got.IsRunning() {
		t.Error("rehydrated program is running")
	}
}

func TestRecord(t *testing.T) {
	p := &Program{Name: "square", Default: true}
	rec := p.Record(model.ProgramFilename("data", "square"))

	if rec.Name != "square" || !rec.Default || rec.Filename != model.ProgramFilename("data", "square") {
		t.Errorf("Record = %+v", rec)
	}
}
