package observe

import "sync"

// mailbox is a single slot channel for one producer.
// put never blocks: an unread value is replaced by the newer one.
type mailbox[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{ch: make(chan T, 1)}
}

func (m *mailbox[T]) put(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	select {
	case <-m.ch:
	default:
	}

	m.ch <- v

	return true
}

// close drops an unread value and closes the channel.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.closed = true

	select {
	case <-m.ch:
	default:
	}

	close(m.ch)
}
