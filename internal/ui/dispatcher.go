// Package ui holds the UI-owned execution context and the presentation
// model for the tray.
package ui

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when posting to a stopped dispatcher.
var ErrClosed = errors.New("dispatcher closed")

const drainTimeout = 50 * time.Millisecond

// Dispatcher runs posted functions one at a time, in posting order, on a
// single goroutine. Everything that touches UI state goes through it.
type Dispatcher struct {
	ch     chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDispatcher creates a dispatcher with a fixed buffer.
func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{ch: make(chan func(), buffer), ctx: ctx, cancel: cancel}
}

// Start begins the worker goroutine. Safe to call multiple times.
func (d *Dispatcher) Start() {
	d.once.Do(func() {
		d.wg.Add(1)
		go d.loop()
	})
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			d.drain(time.Now().Add(drainTimeout))
			return
		case fn := <-d.ch:
			if fn != nil {
				fn()
			}
		}
	}
}

// drain runs whatever is still queued until the queue is empty or the
// deadline passes.
func (d *Dispatcher) drain(deadline time.Time) {
	for time.Now().Before(deadline) {
		select {
		case fn := <-d.ch:
			if fn != nil {
				fn()
			}
		default:
			return
		}
	}
}

// Post queues fn. It blocks while the buffer is full.
func (d *Dispatcher) Post(fn func()) error {
	if d == nil || d.ch == nil {
		return errors.New("dispatcher not initialized")
	}
	if d.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case d.ch <- fn:
		return nil
	case <-d.ctx.Done():
		return ErrClosed
	}
}

// Call runs fn on the dispatcher and waits for it to return.
func (d *Dispatcher) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := d.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrClosed
	}
}

// Close stops the worker and waits for it to finish.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}
