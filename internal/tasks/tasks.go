package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/review"
)

// ErrBusy is returned when the tutorial already has an evaluation running.
var ErrBusy = errors.New("evaluation already running for this tutorial")

const eventBuffer = 64

// Func is the work behind a task. emit never blocks once the stream has
// been detached.
type Func func(ctx context.Context, emit func(review.Event)) (*review.Result, error)

// Task is one running or finished evaluation stream.
type Task struct {
	ID         string
	TutorialID int64
	StartedAt  time.Time

	events   chan review.Event
	detached chan struct{}
	detach   sync.Once
	done     chan struct{}

	mu         sync.Mutex
	finishedAt time.Time
	result     *review.Result
	err        error
}

// Events yields progress followed by exactly one complete or error event,
// then closes.
func (t *Task) Events() <-chan review.Event { return t.events }

// Detach tells the task nobody is reading any more. The evaluation keeps
// running and its remaining events are dropped.
func (t *Task) Detach() { t.detach.Do(func() { close(t.detached) }) }

// Done is closed when the work has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Outcome returns the result or error once Done is closed.
func (t *Task) Outcome() (*review.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

func (t *Task) finished() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishedAt, !t.finishedAt.IsZero()
}

func (t *Task) send(e review.Event) {
	select {
	case t.events <- e:
	case <-t.detached:
	}
}

// Registry tracks evaluation streams and keeps one evaluation per tutorial.
type Registry struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	running map[int64]struct{}

	retention time.Duration
	log       *zap.SugaredLogger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry keeps finished tasks for retention before the janitor drops
// them.
func NewRegistry(logger *zap.SugaredLogger, retention time.Duration) *Registry {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		tasks:     map[string]*Task{},
		running:   map[int64]struct{}{},
		retention: retention,
		log:       logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Acquire reserves the tutorial for a synchronous evaluation. Call release
// when done.
func (r *Registry) Acquire(tutorialID int64) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[tutorialID]; ok {
		return nil, ErrBusy
	}
	r.running[tutorialID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.running, tutorialID)
			r.mu.Unlock()
		})
	}, nil
}

// Running reports whether the tutorial has an evaluation in flight.
func (r *Registry) Running(tutorialID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[tutorialID]
	return ok
}

// Start runs fn in the background. The returned task streams its events.
func (r *Registry) Start(tutorialID int64, fn Func) (*Task, error) {
	release, err := r.Acquire(tutorialID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	t := &Task{
		ID:         fmt.Sprintf("eval_%d_%d_%s", tutorialID, now.Unix(), uuid.NewString()[:8]),
		TutorialID: tutorialID,
		StartedAt:  now,
		events:     make(chan review.Event, eventBuffer),
		detached:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer release()
		r.run(t, fn, release)
	}()
	r.log.Infow("evaluation task started", "task", t.ID, "tutorial", tutorialID)
	return t, nil
}

func (r *Registry) run(t *Task, fn Func, release func()) {
	defer close(t.events)
	res, err := func() (res *review.Result, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("evaluation panicked: %v", p)
			}
		}()
		return fn(r.ctx, t.send)
	}()

	t.mu.Lock()
	t.result, t.err, t.finishedAt = res, err, r.now()
	t.mu.Unlock()
	close(t.done)
	// free the tutorial before the terminal event so a reader may restart it
	release()

	if err != nil {
		r.log.Warnw("evaluation task failed", "task", t.ID, "error", err)
		t.send(review.Event{Type: review.EventError, TutorialID: t.TutorialID, Message: err.Error()})
		return
	}
	r.log.Infow("evaluation task finished", "task", t.ID)
	t.send(review.Event{Type: review.EventComplete, TutorialID: t.TutorialID, Result: res})
}

// Get looks a task up by id.
func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// StartJanitor drops finished tasks older than the retention period on
// every tick until ctx is done.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.ctx.Done():
				return
			case <-t.C:
				if n := r.sweep(); n > 0 {
					r.log.Debugw("dropped finished tasks", "count", n)
				}
			}
		}
	}()
}

func (r *Registry) sweep() int {
	cutoff := r.now().Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, t := range r.tasks {
		if at, ok := t.finished(); ok && at.Before(cutoff) {
			delete(r.tasks, id)
			n++
		}
	}
	return n
}

// Close cancels running evaluations and waits for them and the janitor.
// Undrained streams are detached.
func (r *Registry) Close() {
	r.cancel()
	r.mu.Lock()
	for _, t := range r.tasks {
		t.Detach()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
