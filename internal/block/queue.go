package block

import (
	"errors"

	"github.com/jbweber/kindling/internal/syncutil"
)

// queueState is the guarded interior of a request queue.
type queueState struct {
	pending []*Request
	closed  bool
}

// queue is the per-backend request queue. Workers block on the condvar until
// a request arrives or the queue is closed; pending requests submitted before
// close are still drained.
type queue struct {
	mu *syncutil.Mutex[queueState]
	cv *syncutil.Condvar[queueState]
}

func newQueue() *queue {
	mu := syncutil.NewMutex(queueState{})
	return &queue{
		mu: mu,
		cv: syncutil.NewCondvar(mu),
	}
}

func (q *queue) push(r *Request) error {
	g := q.mu.Lock()
	defer g.Unlock()

	st := g.Value()
	if st.closed {
		return errors.New("request queue closed")
	}
	st.pending = append(st.pending, r)
	q.cv.NotifyOne()
	return nil
}

// pop blocks until a request is available or the queue is closed and
// drained. The second result is false only in the closed-and-drained case.
func (q *queue) pop() (*Request, bool) {
	g := q.mu.Lock()
	defer g.Unlock()

	g = q.cv.WaitWhile(g, func(st *queueState) bool {
		return len(st.pending) == 0 && !st.closed
	})

	st := g.Value()
	if len(st.pending) == 0 {
		return nil, false
	}
	r := st.pending[0]
	st.pending = st.pending[1:]
	return r, true
}

func (q *queue) close() {
	g := q.mu.Lock()
	g.Value().closed = true
	g.Unlock()
	q.cv.NotifyAll()
}
