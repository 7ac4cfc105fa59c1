package dispatch

import (
	"context"

	terrors "github.com/rama-kairi/termcore/internal/errors"
)

type job struct {
	ctx  context.Context
	line string
	ui   Context
	done chan error
}

// queue holds the pending lines of one session. At most one drain goroutine
// runs per queue, which keeps per-session submission order.
type queue struct {
	pending []job
	running bool
}

// Submit queues a raw line for a session and returns a channel that receives
// the result of Run once the line has been handled. Lines for one session run
// one at a time in submission order; different sessions run concurrently.
func (d *Dispatcher) Submit(ctx context.Context, sessionID, line string, ui Context) <-chan error {
	done := make(chan error, 1)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		done <- terrors.ShuttingDown("dispatcher")
		close(done)
		return done
	}

	// Checked under d.mu so a concurrent removal cannot leave a queue behind
	if !d.store.Exists(sessionID) {
		done <- terrors.SessionNotFound(sessionID)
		close(done)
		return done
	}

	q, ok := d.queues[sessionID]
	if !ok {
		q = &queue{}
		d.queues[sessionID] = q
	}

	if len(q.pending) >= d.queueSize {
		done <- terrors.QueueFull(sessionID, len(q.pending))
		close(done)
		return done
	}

	q.pending = append(q.pending, job{ctx: ctx, line: line, ui: ui, done: done})
	if !q.running {
		q.running = true
		d.wg.Add(1)
		go d.drain(sessionID, q)
	}
	return done
}

func (d *Dispatcher) drain(sessionID string, q *queue) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			d.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = job{}
		q.pending = q.pending[1:]
		d.mu.Unlock()

		j.done <- d.runJob(j, sessionID)
		close(j.done)
	}
}

func (d *Dispatcher) runJob(j job, sessionID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = terrors.InternalError(nil, "dispatch worker panic")
			d.logger.Error("Panic in dispatch worker", err, map[string]interface{}{
				"session_id": sessionID,
				"panic":      r,
			})
		}
	}()
	return d.Run(j.ctx, sessionID, j.line, j.ui)
}

// Pending returns the number of queued, not yet started lines for a session
func (d *Dispatcher) Pending(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[sessionID]; ok {
		return len(q.pending)
	}
	return 0
}

// dropQueue forgets a removed session's queue. Lines already queued still run;
// their store writes become no-ops.
func (d *Dispatcher) dropQueue(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.queues, sessionID)
}

// Close rejects new submissions and waits for queued lines to finish
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
