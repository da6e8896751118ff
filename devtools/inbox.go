package devtools

import "sync"

// Inbox is a FIFO of bridge messages received on a transport goroutine
// and consumed on the store's goroutine.
//
// The queue is unbounded. Push is safe from any goroutine; Wait returns a
// channel that signals availability so consumers can select on it together
// with a context.
type Inbox struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
	signal   chan struct{} // buffered, size 1
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{signal: make(chan struct{}, 1)}
}

// Push appends msg. Returns false if the inbox is closed.
func (q *Inbox) Push(msg Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.messages = append(q.messages, msg)

	// Non-blocking: the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes the oldest message without blocking.
func (q *Inbox) TryPop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return Message{}, false
	}
	msg := q.messages[0]
	q.messages[0] = Message{}
	if len(q.messages) == 1 {
		q.messages = q.messages[:0]
	} else {
		q.messages = q.messages[1:]
	}
	return msg, true
}

// Drain pops every queued message and hands it to deliver, in order.
// Returns the number delivered.
func (q *Inbox) Drain(deliver Handler) int {
	n := 0
	for {
		msg, ok := q.TryPop()
		if !ok {
			return n
		}
		deliver(msg)
		n++
	}
}

// Wait returns a channel that signals when messages may be available.
// The channel is closed once the inbox is closed.
func (q *Inbox) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued messages.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Closed reports whether Close was called.
func (q *Inbox) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting messages and wakes waiters. Queued messages can
// still be drained.
func (q *Inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
