package engine

import "sync"

const (
	// liveBufferSize is the room each subscriber has for lines published
	// after it joined. Live lines are dropped once a subscriber falls this
	// far behind; the replayed backlog never is.
	liveBufferSize = 64

	// maxBacklogLines caps the lines kept per run for late subscribers.
	maxBacklogLines = 1024

	// maxFinishedRuns is how many finished runs keep their backlog.
	maxFinishedRuns = 8
)

// LogBroker streams the log lines of program runs to subscribers. A
// subscriber first receives the lines its run has already logged, then live
// lines until the run finishes. It is safe for concurrent use.
type LogBroker struct {
	mu       sync.Mutex
	runs     map[string]*runStream
	finished []string // oldest first, at most maxFinishedRuns
}

type runStream struct {
	backlog  []string
	subs     map[int]chan string
	nextID   int
	finished bool
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		runs: make(map[string]*runStream),
	}
}

// Open starts a stream for runID. Lines for runs that were never opened are
// discarded.
func (b *LogBroker) Open(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.runs[runID]; ok {
		return
	}
	b.runs[runID] = &runStream{subs: make(map[int]chan string)}
}

// Subscribe returns a channel replaying the run's backlog followed by its live
// lines, and an unsubscribe function. The channel is closed after the backlog
// when the run has finished or is unknown.
func (b *LogBroker) Subscribe(runID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs, ok := b.runs[runID]
	if !ok {
		ch := make(chan string)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan string, len(rs.backlog)+liveBufferSize)
	for _, line := range rs.backlog {
		ch <- line
	}
	if rs.finished {
		close(ch)
		return ch, func() {}
	}

	id := rs.nextID
	rs.nextID++
	rs.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(rs.subs, id)
	}
}

// Publish appends line to the run's backlog and sends it to its subscribers.
// Subscribers with a full buffer miss the line so the program never blocks
// on logging.
func (b *LogBroker) Publish(runID string, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs, ok := b.runs[runID]
	if !ok || rs.finished {
		return
	}

	if len(rs.backlog) == maxBacklogLines {
		copy(rs.backlog, rs.backlog[1:])
		rs.backlog = rs.backlog[:maxBacklogLines-1]
	}
	rs.backlog = append(rs.backlog, line)

	for _, ch := range rs.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close marks the run finished and closes its subscriber channels. Only the
// most recent maxFinishedRuns finished runs are kept for replay.
func (b *LogBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs, ok := b.runs[runID]
	if !ok || rs.finished {
		return
	}

	rs.finished = true
	for id, ch := range rs.subs {
		close(ch)
		delete(rs.subs, id)
	}

	b.finished = append(b.finished, runID)
	if n := len(b.finished) - maxFinishedRuns; n > 0 {
		for _, id := range b.finished[:n] {
			delete(b.runs, id)
		}
		b.finished = append(b.finished[:0], b.finished[n:]...)
	}
}

// Retained reports how many runs currently hold a stream.
func (b *LogBroker) Retained() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runs)
}
