// Package event is the in-process event bus scripts use to react to sensors.
// Listeners receive values published on a topic; publishers are generator
// goroutines that sample a source periodically and publish each reading.
package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// mailboxSize is the channel buffer for each listener. Values are dropped if
// a listener falls this far behind.
const mailboxSize = 64

// ErrInvalidGenerator is returned by Generate for a non-positive interval or count.
var ErrInvalidGenerator = errors.New("generator needs a positive interval and count")

// Manager routes published values to listeners and tracks running publishers.
// It is safe for concurrent use.
type Manager struct {
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[string][]*Listener
	pubs      map[int]context.CancelFunc
	nextPub   int
	pending   sync.WaitGroup
}

// Listener is a mailbox registered on one topic.
type Listener struct {
	topic string
	ch    chan any
}

// NewManager creates an empty event manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:    logger,
		listeners: make(map[string][]*Listener),
		pubs:      make(map[int]context.CancelFunc),
	}
}

// Topic returns the topic the listener is registered on.
func (l *Listener) Topic() string {
	return l.topic
}

// Receive returns the next value, waiting at most timeout. It reports false
// when the timeout elapses, ctx is done, or the listener was unregistered.
func (l *Listener) Receive(ctx context.Context, timeout time.Duration) (any, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v, ok := <-l.ch:
		return v, ok
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Listen registers a new listener on topic.
func (m *Manager) Listen(topic string) *Listener {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := &Listener{topic: topic, ch: make(chan any, mailboxSize)}
	m.listeners[topic] = append(m.listeners[topic], l)
	return l
}

// Publish delivers v to every listener of topic and returns how many received
// it. Listeners with full mailboxes miss the value.
func (m *Manager) Publish(topic string, v any) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	delivered := 0
	for _, l := range m.listeners[topic] {
		select {
		case l.ch <- v:
			delivered++
		default:
			// Drop for slow listeners to avoid blocking the publisher.
		}
	}
	return delivered
}

// Generate starts a publisher that calls read every interval and publishes
// the result on topic, count times. A read error ends the publisher.
func (m *Manager) Generate(topic string, interval time.Duration, count int, read func() (any, error)) error {
	if interval <= 0 || count <= 0 {
		return ErrInvalidGenerator
	}

	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	id := m.nextPub
	m.nextPub++
	m.pubs[id] = cancel
	m.pending.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.pending.Done()
		defer func() {
			m.mu.Lock()
			delete(m.pubs, id)
			m.mu.Unlock()
			cancel()
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range count {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			v, err := read()
			if err != nil {
				m.logger.Warn("event generator stopped", "topic", topic, "error", err)
				return
			}
			m.Publish(topic, v)
		}
	}()

	return nil
}

// WaitForPending blocks until every publisher has finished or ctx is done.
func (m *Manager) WaitForPending(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnregisterListeners removes every listener and closes its mailbox.
func (m *Manager) UnregisterListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for topic, ls := range m.listeners {
		for _, l := range ls {
			close(l.ch)
		}
		delete(m.listeners, topic)
	}
}

// UnregisterPublishers cancels every running publisher.
func (m *Manager) UnregisterPublishers() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, cancel := range m.pubs {
		cancel()
		delete(m.pubs, id)
	}
}
