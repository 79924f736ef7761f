package multipart

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

var errDispatcherStopped = errors.New("part dispatcher stopped")

// Dispatcher submits parts to a session with a bounded number of uploads in
// flight. Dispatch blocks while the limit is reached, which keeps the producer
// from buffering more than maxConcurrent parts ahead of the uploads.
type Dispatcher struct {
	session *Session
	group   *errgroup.Group
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDispatcher creates a dispatcher uploading at most maxConcurrent parts at
// a time. Values below 1 mean sequential uploads.
func NewDispatcher(ctx context.Context, session *Session, maxConcurrent int) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	cctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(cctx)
	g.SetLimit(maxConcurrent)

	return &Dispatcher{
		session: session,
		group:   g,
		parent:  ctx,
		ctx:     gctx,
		cancel:  cancel,
	}
}

// Dispatch schedules part for upload. It returns the first upload failure
// if one is known before part got a slot or while it waited for one. A part
// that got its slot after a failure is dropped without a backend call.
func (d *Dispatcher) Dispatch(part Part) error {
	if err := d.Err(); err != nil {
		return err
	}

	d.group.Go(func() error {
		if d.ctx.Err() != nil {
			return nil
		}
		_, err := d.session.Submit(d.ctx, part)
		return err
	})

	// Go may have waited for the slot of an upload that failed meanwhile.
	return d.Err()
}

// Err returns nil as long as uploads are accepted. Once an upload failed or the
// dispatcher was cancelled it waits for the in-flight uploads and returns the
// first failure.
func (d *Dispatcher) Err() error {
	if d.ctx.Err() == nil {
		return nil
	}
	if err := d.Wait(); err != nil {
		return err
	}
	return errDispatcherStopped
}

// Context is done once the dispatcher stopped accepting uploads.
func (d *Dispatcher) Context() context.Context {
	return d.ctx
}

// Wait blocks until every dispatched upload returned and reports the first
// failure. A cancelled parent context is reported as its error.
func (d *Dispatcher) Wait() error {
	err := d.group.Wait()
	d.cancel()
	if err != nil {
		return err
	}
	return d.parent.Err()
}

// Cancel stops in-flight uploads. Call Wait afterwards to let them drain.
func (d *Dispatcher) Cancel() {
	d.cancel()
}
