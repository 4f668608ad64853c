package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mailbox is the message queue owned by one actor.
//
// Any number of goroutines may Enqueue; exactly one (the owner) may Dequeue.
// Messages come out in the order they went in. A Mailbox is unbounded unless
// created with a limit, in which case the limit applies to user messages
// only.
type Mailbox struct {
	mu        sync.Mutex
	queue     []*Message
	userCount int
	closed    bool

	limit    int
	overflow OverflowPolicy

	// ready carries at most one pending wake-up for the consumer
	ready chan struct{}

	dropped atomic.Uint64
	onDrop  func(*Message)
}

// NewMailbox creates a mailbox. A limit of 0 means unbounded.
func NewMailbox(limit int, overflow OverflowPolicy) *Mailbox {
	if limit < 0 {
		limit = 0
	}
	return &Mailbox{
		limit:    limit,
		overflow: overflow,
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue appends msg to the tail. It never blocks.
func (m *Mailbox) Enqueue(msg *Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	var evicted *Message

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}

	system := msg.IsSystem()
	if !system && m.limit > 0 && m.userCount >= m.limit {
		if m.overflow != OverflowDropOldest {
			m.mu.Unlock()
			return ErrMailboxFull
		}
		evicted = m.evictOldestUser()
	}

	m.queue = append(m.queue, msg)
	if !system {
		m.userCount++
	}
	m.mu.Unlock()

	if evicted != nil {
		m.dropped.Add(1)
		if m.onDrop != nil {
			m.onDrop(evicted)
		}
	}

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return nil
}

// evictOldestUser removes the first user message. Caller holds m.mu.
func (m *Mailbox) evictOldestUser() *Message {
	for i, queued := range m.queue {
		if queued.IsSystem() {
			continue
		}
		copy(m.queue[i:], m.queue[i+1:])
		m.queue[len(m.queue)-1] = nil
		m.queue = m.queue[:len(m.queue)-1]
		m.userCount--
		return queued
	}
	return nil
}

// Dequeue removes and returns the head message, blocking while the mailbox
// is empty. It returns ctx.Err() if ctx ends first and ErrMailboxClosed once
// the mailbox has been closed.
func (m *Mailbox) Dequeue(ctx context.Context) (*Message, error) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			msg := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			if len(m.queue) == 0 {
				m.queue = nil
			}
			if !msg.IsSystem() {
				m.userCount--
			}
			m.mu.Unlock()
			return msg, nil
		}
		if m.closed {
			m.mu.Unlock()
			return nil, ErrMailboxClosed
		}
		m.mu.Unlock()

		select {
		case <-m.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close rejects further enqueues and returns the messages that were still
// pending. They are not delivered.
func (m *Mailbox) Close() []*Message {
	m.mu.Lock()
	pending := m.queue
	m.queue = nil
	m.userCount = 0
	m.closed = true
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return pending
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Dropped returns how many messages a drop-oldest mailbox has evicted.
func (m *Mailbox) Dropped() uint64 {
	return m.dropped.Load()
}
