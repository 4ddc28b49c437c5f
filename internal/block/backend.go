// Package block resolves named block-device specifications into live, shared
// backend instances.
//
// A backend is an opaque, shared handle between the block-device front end
// and its I/O implementation: once resolved, its identity and kind never
// change, and its internal worker pool is sized exactly once at construction.
// Resolution either fully succeeds or fails before any handle exists; a
// partially constructed backend is never returned.
package block

import (
	"fmt"
	"sync"

	"github.com/jbweber/kindling/internal/lifecycle"
)

// Worker-pool sizing policy. These are the composition-boundary defaults for
// every backend kind; the clamping rules live in the factory.
const (
	// DefaultWorkerCount is used when a backend does not request an
	// explicit worker count.
	DefaultWorkerCount = 8
	// MaxFileWorkers bounds the worker count a file backend will accept.
	MaxFileWorkers = 32
	// DefaultBlockSize is the logical block size assumed when the
	// configuration does not specify one.
	DefaultBlockSize = 512
)

// Op identifies a block request operation.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpFlush
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpFlush:
		return "flush"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Request is one block I/O request serviced by a backend worker.
type Request struct {
	Op     Op
	Offset int64
	// Data is the read destination or write source; unused for flush.
	Data []byte

	done chan error
}

// NewRequest builds a request ready for Submit.
func NewRequest(op Op, offset int64, data []byte) *Request {
	return &Request{
		Op:     op,
		Offset: offset,
		Data:   data,
		done:   make(chan error, 1),
	}
}

// Await blocks until a worker has completed the request and returns its
// result.
func (r *Request) Await() error {
	return <-r.done
}

func (r *Request) complete(err error) {
	r.done <- err
}

// Info describes the fixed geometry of a resolved backend.
type Info struct {
	BlockSize uint32
	Size      uint64
	ReadOnly  bool
	SkipFlush bool
}

// Backend is the shared handle for one resolved block device. Handles are
// reference-semantic and read-mostly after construction; the lifetime of the
// underlying resource is that of the longest holder, and the holder that
// tears it down must call Close exactly once.
type Backend interface {
	// Kind returns the canonical discriminator the backend was resolved
	// from ("file", "mem-async", "cloudinit").
	Kind() string
	// Info returns the backend geometry, fixed at construction.
	Info() Info
	// WorkerCount returns the resolved worker-pool size.
	WorkerCount() int
	// Start launches the worker pool. It must be called once before
	// Submit.
	Start() error
	// Submit enqueues a request for the worker pool. Write requests to a
	// read-only backend are rejected.
	Submit(req *Request) error
	// Close drains outstanding requests, stops the workers, and releases
	// the underlying resource.
	Close() error
}

// runner is the worker-pool engine shared by the concrete backends: a
// request queue drained by a fixed set of goroutines, with a lifecycle
// marker insisting that Close completes the teardown sequence.
type runner struct {
	kind    string
	info    Info
	workers int
	exec    func(*Request) error

	queue   *queue
	wg      sync.WaitGroup
	started bool
	closed  bool
	cleanup lifecycle.Marker
}

func newRunner(kind string, info Info, workers int, exec func(*Request) error) *runner {
	return &runner{
		kind:    kind,
		info:    info,
		workers: workers,
		exec:    exec,
		queue:   newQueue(),
		cleanup: lifecycle.NewMarker(kind + " backend"),
	}
}

func (r *runner) Kind() string     { return r.kind }
func (r *runner) Info() Info       { return r.info }
func (r *runner) WorkerCount() int { return r.workers }

func (r *runner) Start() error {
	if r.started {
		return fmt.Errorf("%s backend already started", r.kind)
	}
	r.started = true
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				req, ok := r.queue.pop()
				if !ok {
					return
				}
				req.complete(r.service(req))
			}
		}()
	}
	return nil
}

func (r *runner) Submit(req *Request) error {
	if !r.started {
		return fmt.Errorf("%s backend not started", r.kind)
	}
	if req.Op == OpWrite && r.info.ReadOnly {
		return fmt.Errorf("%s backend is read-only", r.kind)
	}
	if req.done == nil {
		req.done = make(chan error, 1)
	}
	return r.queue.push(req)
}

func (r *runner) service(req *Request) error {
	if req.Op == OpFlush && r.info.SkipFlush {
		return nil
	}
	return r.exec(req)
}

// stop drains the queue and waits for the workers. The caller finishes the
// teardown (releasing the underlying resource) and then calls consumed.
func (r *runner) stop() error {
	if r.closed {
		return fmt.Errorf("%s backend already closed", r.kind)
	}
	r.closed = true
	r.queue.close()
	r.wg.Wait()
	return nil
}

func (r *runner) consumed() {
	r.cleanup.Consume()
}
