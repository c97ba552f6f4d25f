package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/h2co3/sparkling/vm"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("vm worker stopped")

type vmRequest struct {
	fn   func(*vm.VM) any
	done chan vmResult
}

type vmResult struct {
	value any
	err   error
}

// VMWorker owns one Sparkling VM and runs every piece of work on it from a
// single goroutine. Sessions have a worker each; the server's reference VM
// used for completion and hover has another.
type VMWorker struct {
	vm       *vm.VM
	requests chan vmRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(v *vm.VM) *VMWorker {
	w := &VMWorker{
		vm:       v,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			result := w.execute(req.fn)
			req.done <- result
		case <-w.quit:
			return
		}
	}
}

// execute runs fn and converts a panic into an error.
func (w *VMWorker) execute(fn func(*vm.VM) any) vmResult {
	var result vmResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("recovered from panic on vm worker: %v", r)
				result.err = fmt.Errorf("vm worker: panic: %v", r)
			}
		}()
		result.value = fn(w.vm)
	}()
	return result
}

// Do runs fn on the worker's VM and waits for its result.
func (w *VMWorker) Do(fn func(*vm.VM) any) (any, error) {
	return w.DoContext(context.Background(), fn)
}

// DoContext is Do with cancellation. A request that has not started when
// ctx is done is abandoned; a running request cannot be interrupted, so
// DoContext stops waiting for it and its result is discarded.
func (w *VMWorker) DoContext(ctx context.Context, fn func(*vm.VM) any) (any, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop ends the worker goroutine. Work already queued is dropped. Stop may
// be called more than once.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

// VM returns the underlying VM. Callers must not touch interpreter state
// outside Do.
func (w *VMWorker) VM() *vm.VM {
	return w.vm
}
