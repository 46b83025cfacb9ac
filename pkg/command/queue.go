// Package command carries collector-issued commands from the upload
// goroutine to whichever part of the host process executes them.
package command

import (
	"context"
	"sync"
)

// Command is one top-level entry of a collector response other than its
// status field, relayed verbatim.
type Command struct {
	Key   string
	Value any
}

// Sink accepts commands. Put must not block the caller for long; the upload
// goroutine calls it while holding no locks.
type Sink interface {
	Put(cmd Command)
}

// Queue is an unbounded FIFO of commands, safe for concurrent producers and
// consumers.
type Queue struct {
	mu     sync.Mutex
	items  []Command
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Put appends cmd and wakes one waiting consumer. It never blocks.
func (q *Queue) Put(cmd Command) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryGet pops the oldest command without waiting.
func (q *Queue) TryGet() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Command{}, false
	}
	cmd := q.items[0]
	q.items[0] = Command{}
	q.items = q.items[1:]
	return cmd, true
}

// Next blocks until a command is available or ctx is done.
func (q *Queue) Next(ctx context.Context) (Command, error) {
	for {
		if cmd, ok := q.TryGet(); ok {
			// pass the wakeup on if more work is queued
			if q.Len() > 0 {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return cmd, nil
		}
		select {
		case <-ctx.Done():
			return Command{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

var _ Sink = (*Queue)(nil)
