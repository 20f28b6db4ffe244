package push

import "sync"

// mailbox is an unbounded FIFO consumed by a single goroutine.
// post never blocks, so the consumer itself may post more items.
type mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	notify chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{notify: make(chan struct{}, 1)}
}

func (m *mailbox[T]) post(item T) {
	m.mu.Lock()
	m.queue = append(m.queue, item)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns everything queued so far, oldest first.
func (m *mailbox[T]) drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}
