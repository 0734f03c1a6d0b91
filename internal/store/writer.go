package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/groutine"
	"github.com/srg/heartflot/internal/session"
)

// Writer applies store mutations on a background goroutine so callers never
// wait for durability. Failures are logged, wrapped in
// device.ErrPersistenceFailure and passed to the error hook.
type Writer struct {
	store   Store
	logger  *logrus.Logger
	onError func(error)

	mu      sync.Mutex
	queue   []job
	pending int
	idle    *sync.Cond
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

type job struct {
	name string
	id   string
	run  func(ctx context.Context) error
}

// NewWriter starts the background writer. onError may be nil.
func NewWriter(st Store, logger *logrus.Logger, onError func(error)) *Writer {
	if logger == nil {
		logger = logrus.New()
	}
	w := &Writer{
		store:   st,
		logger:  logger,
		onError: onError,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.mu)
	groutine.Go(context.Background(), "store-writer", w.loop)
	return w
}

// Store returns the wrapped store for reads.
func (w *Writer) Store() Store {
	return w.store
}

// Append queues s for persistence. It implements session.Sink.
func (w *Writer) Append(s session.Session) {
	w.enqueue(job{name: "append", id: s.ID, run: func(ctx context.Context) error {
		return w.store.Append(ctx, s)
	}})
}

// Update queues a read-modify-write of session id.
func (w *Writer) Update(id string, fn func(*session.Session)) {
	w.enqueue(job{name: "update", id: id, run: func(ctx context.Context) error {
		return w.store.Update(ctx, id, fn)
	}})
}

// Delete queues removal of session id.
func (w *Writer) Delete(id string) {
	w.enqueue(job{name: "delete", id: id, run: func(ctx context.Context) error {
		return w.store.Delete(ctx, id)
	}})
}

// Clear queues removal of every session.
func (w *Writer) Clear() {
	w.enqueue(job{name: "clear", run: func(ctx context.Context) error {
		return w.store.Clear(ctx)
	}})
}

// Flush blocks until every queued job has been applied.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.pending > 0 {
		w.idle.Wait()
	}
}

// Close drains the queue and stops the writer. Later jobs are dropped.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.signal()
	<-w.done
}

func (w *Writer) enqueue(j job) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logger.WithFields(logrus.Fields{"op": j.name, "session_id": j.id}).Warn("Store writer closed; dropping mutation")
		return
	}
	w.queue = append(w.queue, j)
	w.pending++
	w.mu.Unlock()

	w.signal()
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) loop(ctx context.Context) {
	defer close(w.done)

	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		closed := w.closed
		w.mu.Unlock()

		for _, j := range batch {
			w.run(ctx, j)
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-w.wake
		}
	}
}

func (w *Writer) run(ctx context.Context, j job) {
	defer func() {
		w.mu.Lock()
		w.pending--
		if w.pending == 0 {
			w.idle.Broadcast()
		}
		w.mu.Unlock()
	}()

	err := j.run(ctx)
	if err == nil {
		return
	}
	err = fmt.Errorf("%w: %s session %q: %v", device.ErrPersistenceFailure, j.name, j.id, err)
	w.logger.WithFields(logrus.Fields{
		"op":         j.name,
		"session_id": j.id,
		"error":      err,
	}).Error("Failed to persist session change")
	if w.onError != nil {
		w.onError(err)
	}
}

var _ session.Sink = (*Writer)(nil)
