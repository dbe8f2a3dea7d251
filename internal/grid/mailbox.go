package grid

import "sync"

// message is a unit of work run on the View's actor goroutine.
type message func(v *View)

// mailbox is the actor's unbounded FIFO inbox. Workers and API callers
// enqueue from any goroutine; only the actor dequeues. The signal channel
// has a buffer of one so repeated enqueues coalesce into one wakeup.
type mailbox struct {
	mu     sync.Mutex
	msgs   []message
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		msgs:   make([]message, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a message. Returns false once the mailbox is closed.
func (m *mailbox) Enqueue(msg message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.msgs = append(m.msgs, msg)

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front message without blocking.
func (m *mailbox) TryDequeue() (message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.msgs) == 0 {
		return nil, false
	}
	msg := m.msgs[0]
	m.msgs[0] = nil // release the closure
	if len(m.msgs) == 1 {
		m.msgs = m.msgs[:0]
	} else {
		m.msgs = m.msgs[1:]
	}
	return msg, true
}

// Wait returns a channel that fires when messages may be available, or is
// closed once the mailbox is.
func (m *mailbox) Wait() <-chan struct{} {
	return m.signal
}

// Len returns the number of queued messages.
func (m *mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

// Close stops further enqueues and wakes the actor.
func (m *mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.signal)
}
