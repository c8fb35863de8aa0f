// Package executor provides the scheduling primitives the cache is built on: a
// FIFO serial executor used both as the notification dispatcher and as the
// coordinator's single compute worker, and a bounded pool for page loads.
package executor

import (
	"fmt"
	"sync"

	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"go.uber.org/zap"
)

// Serial runs posted tasks one at a time, in posting order, on a single goroutine.
// Post never blocks the caller.
type Serial struct {
	name   string
	logger *logger.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewSerial starts a serial executor. Close must be called to stop its goroutine.
func NewSerial(name string, log *logger.Logger) *Serial {
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Serial{
		name:   name,
		logger: log,
		mu:     sync.Mutex{},
		cond:   nil,
		queue:  nil,
		closed: false,
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	go s.loop()

	return s
}

// Post enqueues fn. It returns false when the executor is closed and fn was dropped.
func (s *Serial) Post(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.queue = append(s.queue, fn)
	s.cond.Signal()

	return true
}

// Barrier returns a channel closed once every task posted before the call has run.
// On a closed executor the channel is already closed.
func (s *Serial) Barrier() <-chan struct{} {
	ch := make(chan struct{})
	if !s.Post(func() { close(ch) }) {
		close(ch)
	}

	return ch
}

// Pending returns the number of queued tasks not yet started.
func (s *Serial) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// Close stops accepting tasks, runs what is already queued and waits for the
// goroutine to exit. Calling Close from a task deadlocks, so tasks must not.
func (s *Serial) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done

		return
	}

	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	<-s.done
}

func (s *Serial) loop() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}

		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()

			return
		}

		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(task)
	}
}

func (s *Serial) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Task panicked",
				zap.String("executor", s.name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	task()
}
