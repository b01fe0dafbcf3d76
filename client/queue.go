package client

import (
	"sync"

	"github.com/bernardosdias/fightnet/protocol"
)

// messageQueue is an unbounded FIFO with non-blocking operations. The
// receive pump pushes; the game loop pops.
type messageQueue struct {
	mu    sync.Mutex
	items []*protocol.Message
}

func (q *messageQueue) push(m *protocol.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
}

func (q *messageQueue) pop() *protocol.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m
}

func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *messageQueue) reset() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
