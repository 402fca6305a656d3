// Package queue runs tool invocations one at a time in submission order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/himanishpuri/audfprint-gui/pkg/logger"
)

// ErrClosed is returned for work submitted after Shutdown.
var ErrClosed = errors.New("queue closed")

// Task is a unit of work.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	name string
	task Task
	done chan error
}

// Serial is a single-worker FIFO queue. A task starts only after the
// previous one has returned.
type Serial struct {
	jobs   chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewSerial starts the worker. backlog bounds how many submitted tasks
// may wait before Submit blocks.
func NewSerial(backlog int, log *logger.Logger) *Serial {
	if backlog < 1 {
		backlog = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Serial{
		jobs:   make(chan job, backlog),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Submit enqueues task and returns a channel that receives its error once
// it has run.
func (s *Serial) Submit(ctx context.Context, name string, task Task) <-chan error {
	done := make(chan error, 1)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		done <- ErrClosed
		return done
	}

	select {
	case s.jobs <- job{ctx: ctx, name: name, task: task, done: done}:
	case <-ctx.Done():
		done <- ctx.Err()
	case <-s.ctx.Done():
		done <- ErrClosed
	}
	return done
}

// Do submits task and waits for it.
func (s *Serial) Do(ctx context.Context, name string, task Task) error {
	select {
	case err := <-s.Submit(ctx, name, task):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work, runs what is already queued and waits
// for the worker to exit.
func (s *Serial) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
}

func (s *Serial) worker() {
	defer s.wg.Done()
	for j := range s.jobs {
		j.done <- s.run(j)
	}
}

func (s *Serial) run(j job) (err error) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s cancelled before start: %w", j.name, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", j.name, r)
			s.log.Error("Task %s panicked: %v", j.name, r)
		}
	}()

	start := time.Now()
	s.log.Debug("Task %s started", j.name)
	err = j.task(ctx)
	if err != nil {
		s.log.Debug("Task %s failed after %s: %v", j.name, time.Since(start), err)
		return err
	}
	s.log.Debug("Task %s finished in %s", j.name, time.Since(start))
	return nil
}
