package engine

import (
	"strings"
	"sync"
)

// RunLog accumulates the diagnostic lines of one run. Growth is unbounded;
// a run log lives only until the next create or load.
type RunLog struct {
	mu sync.Mutex
	b  strings.Builder
}

// Append adds line followed by a newline.
func (l *RunLog) Append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.b.WriteString(line)
	l.b.WriteByte('\n')
}

func (l *RunLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}
