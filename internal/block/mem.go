package block

import (
	"fmt"

	"github.com/jbweber/kindling/internal/syncutil"
)

// MemBackend services block requests against a host memory buffer. It backs
// the "mem-async" device kind and, with preloaded contents, synthetic
// read-only devices such as the cloudinit seed.
type MemBackend struct {
	*runner
	data *syncutil.Mutex[[]byte]
}

// NewMemBackend constructs a zero-filled in-memory backend of the given byte
// size.
func NewMemBackend(size uint64, opts Options, workers int) (*MemBackend, error) {
	if size == 0 {
		return nil, fmt.Errorf("memory backend size must be > 0")
	}
	return newMemBackend("mem-async", make([]byte, size), opts, workers)
}

// NewMemBackendFromBytes constructs an in-memory backend over existing
// contents, reported under the given kind.
func NewMemBackendFromBytes(kind string, contents []byte, opts Options, workers int) (*MemBackend, error) {
	if len(contents) == 0 {
		return nil, fmt.Errorf("memory backend contents must not be empty")
	}
	return newMemBackend(kind, contents, opts, workers)
}

func newMemBackend(kind string, buf []byte, opts Options, workers int) (*MemBackend, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", workers)
	}
	b := &MemBackend{
		data: syncutil.NewMutex(buf),
	}
	b.runner = newRunner(kind, opts.info(uint64(len(buf))), workers, b.execute)
	return b, nil
}

func (b *MemBackend) execute(req *Request) error {
	g := b.data.Lock()
	defer g.Unlock()

	buf := *g.Value()
	end := req.Offset + int64(len(req.Data))
	if req.Offset < 0 || end > int64(len(buf)) {
		return fmt.Errorf("%s request [%d, %d) beyond device size %d",
			req.Op, req.Offset, end, len(buf))
	}
	switch req.Op {
	case OpRead:
		copy(req.Data, buf[req.Offset:end])
	case OpWrite:
		copy(buf[req.Offset:end], req.Data)
	case OpFlush:
		// Nothing to persist for a memory backend.
	default:
		return fmt.Errorf("unsupported operation %s", req.Op)
	}
	return nil
}

// Close drains outstanding requests and stops the worker pool.
func (b *MemBackend) Close() error {
	if err := b.stop(); err != nil {
		return err
	}
	b.consumed()
	return nil
}
