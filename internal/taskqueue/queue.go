// Package taskqueue runs translation work on a bounded FIFO queue drained by
// a fixed worker pool. Enqueueing is fail-fast: translation is best-effort
// and upstream must never stall on a full queue.
package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/translate"
)

// Engine is the bundle-preparation routine workers invoke.
type Engine interface {
	PrepareBundle(ctx context.Context, title, content, sourceLang string) (translate.Bundle, error)
}

// Task is one translation request. Callbacks are optional; the task id
// correlates results and log lines with the enqueuer.
type Task struct {
	ID         string
	Title      string
	Content    string
	SourceLang string
	OnSuccess  func(bundle translate.Bundle, taskID string)
	OnError    func(err error, taskID string)
}

type Queue struct {
	engine  Engine
	tasks   chan *Task
	jobs    sync.WaitGroup // one unit per accepted task, done after its callback
	workers sync.WaitGroup
	mu      sync.RWMutex // orders AddTask enqueues against Stop's flag flip
	running bool
	cancel  context.CancelFunc
	nworker int
}

func New(engine Engine, capacity, workers int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	if workers <= 0 {
		workers = 3
	}
	return &Queue{
		engine:  engine,
		tasks:   make(chan *Task, capacity),
		nworker: workers,
	}
}

// Start launches the worker pool. Safe to call once.
func (q *Queue) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.mu.Lock()
	q.running = true
	q.mu.Unlock()

	for i := 0; i < q.nworker; i++ {
		q.workers.Add(1)
		go q.worker(ctx, i)
	}
	logger.Info("translation queue started", "workers", q.nworker, "capacity", cap(q.tasks))
}

// AddTask enqueues a task. Returns false when the queue is full or stopped
// instead of blocking.
func (q *Queue) AddTask(t *Task) bool {
	if t == nil {
		return false
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	// The read lock spans the running check and the send, so Stop cannot
	// flip the flag and drain in between: every accepted task is either in
	// the channel before the drain starts or rejected here.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.running {
		return false
	}

	q.jobs.Add(1)
	select {
	case q.tasks <- t:
		return true
	default:
		q.jobs.Done()
		return false
	}
}

// Pending returns the number of queued, not yet started tasks.
func (q *Queue) Pending() int {
	return len(q.tasks)
}

// WaitCompletion blocks until every accepted task has fired its callback, or
// ctx ends first.
func (q *Queue) WaitCompletion(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.jobs.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop shuts the pool down: no new tasks are accepted, workers are
// cancelled, and their exit is awaited for at most timeout. Tasks still
// queued when the workers are gone get their error callback, so completion
// accounting stays exact. Never blocks longer than timeout on a stuck worker.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.mu.Unlock()
	q.cancel()

	finished := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-time.After(timeout):
		err = fmt.Errorf("queue stop timed out after %v", timeout)
		logger.Error("translation queue stop timed out", "timeout", timeout)
	}

	// Fail whatever never got picked up.
	for {
		select {
		case t := <-q.tasks:
			q.finish(t, nil, fmt.Errorf("queue stopped before task ran"))
		default:
			return err
		}
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.workers.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			q.process(ctx, t, id)
		}
	}
}

func (q *Queue) process(ctx context.Context, t *Task, worker int) {
	logger.Debug("translation task started", "task", t.ID, "worker", worker)

	bundle, err := q.engine.PrepareBundle(ctx, t.Title, t.Content, t.SourceLang)
	if err != nil {
		logger.Warn("translation task failed", "task", t.ID, "error", err)
		q.finish(t, nil, err)
		return
	}

	logger.Debug("translation task done", "task", t.ID, "languages", len(bundle))
	q.finish(t, bundle, nil)
}

// finish fires exactly one callback and marks the task complete regardless
// of outcome, keeping WaitCompletion honest.
func (q *Queue) finish(t *Task, bundle translate.Bundle, err error) {
	defer q.jobs.Done()
	// A panicking callback must not take the worker down or skew the
	// completion accounting.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task callback panicked", "task", t.ID, "panic", r)
		}
	}()

	if err != nil {
		if t.OnError != nil {
			t.OnError(err, t.ID)
		}
		return
	}
	if t.OnSuccess != nil {
		t.OnSuccess(bundle, t.ID)
	}
}
