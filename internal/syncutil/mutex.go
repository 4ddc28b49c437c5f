// Package syncutil provides the synchronization primitives used to guard
// mutable VM state: a guarded-value mutex with poisoning semantics and a
// companion condition variable.
//
// A hypervisor process must never resume after a partial update left shared
// state inconsistent. When a holder fails (panics) mid-mutation, the mutex is
// marked poisoned and every later acquisition panics instead of handing out
// access to state of unknown integrity. Callers are never expected to recover
// from poisoning.
package syncutil

import "sync"

const poisonMsg = "syncutil: mutex poisoned by a failed holder"

// Mutex is a mutual-exclusion cell guarding a value of type T.
//
// Acquisition is infallible in the non-corrupted case: Lock blocks until the
// lock is available and returns a Guard, with no error to check. If a previous
// holder panicked while mutating the guarded value, every subsequent
// acquisition panics.
type Mutex[T any] struct {
	mu       sync.Mutex
	poisoned bool
	val      T
}

// NewMutex creates an unlocked Mutex guarding val.
func NewMutex[T any](val T) *Mutex[T] {
	return &Mutex[T]{val: val}
}

// Guard represents exclusive access to the value guarded by a Mutex.
// The holder must call Unlock (or Poison) exactly once.
type Guard[T any] struct {
	m        *Mutex[T]
	released bool
}

// Lock blocks until exclusive access is available and returns a Guard.
// Panics if the mutex is poisoned.
func (m *Mutex[T]) Lock() *Guard[T] {
	m.mu.Lock()
	if m.poisoned {
		m.mu.Unlock()
		panic(poisonMsg)
	}
	return &Guard[T]{m: m}
}

// TryLock attempts to acquire the lock without blocking. It returns
// (nil, false) when the lock is currently held elsewhere; this is an ordinary
// contention signal, distinct from the poisoned case, which panics.
func (m *Mutex[T]) TryLock() (*Guard[T], bool) {
	if !m.mu.TryLock() {
		return nil, false
	}
	if m.poisoned {
		m.mu.Unlock()
		panic(poisonMsg)
	}
	return &Guard[T]{m: m}, true
}

// With runs fn with exclusive access to the guarded value. If fn panics the
// mutex is poisoned before the panic propagates, so that no later holder can
// observe a half-applied mutation.
func (m *Mutex[T]) With(fn func(*T)) {
	g := m.Lock()
	defer func() {
		if r := recover(); r != nil {
			g.Poison()
			panic(r)
		}
		g.Unlock()
	}()
	fn(&m.val)
}

// Value returns the guarded value. The pointer must not be retained past
// Unlock.
func (g *Guard[T]) Value() *T {
	if g.released {
		panic("syncutil: use of released guard")
	}
	return &g.m.val
}

// Unlock releases the guard.
func (g *Guard[T]) Unlock() {
	if g.released {
		panic("syncutil: unlock of released guard")
	}
	g.released = true
	g.m.mu.Unlock()
}

// Poison marks the guarded value as corrupted and releases the lock. Every
// later acquisition of the mutex will panic.
func (g *Guard[T]) Poison() {
	if g.released {
		panic("syncutil: poison of released guard")
	}
	g.released = true
	g.m.poisoned = true
	g.m.mu.Unlock()
}

// Condvar is a condition variable bound to a Mutex, used to suspend a holder
// until another thread signals a state change.
//
// No fairness or ordering guarantee is made among waiters, and no timed wait
// is offered; callers needing deadlines must layer them above this type.
type Condvar[T any] struct {
	m    *Mutex[T]
	cond *sync.Cond
}

// NewCondvar creates a condition variable bound to m.
func NewCondvar[T any](m *Mutex[T]) *Condvar[T] {
	return &Condvar[T]{m: m, cond: sync.NewCond(&m.mu)}
}

// Wait atomically releases the guard's lock and suspends the calling
// goroutine until notified, then reacquires the lock and returns the guard.
// Panics if the mutex was poisoned while waiting.
func (c *Condvar[T]) Wait(g *Guard[T]) *Guard[T] {
	c.check(g)
	c.cond.Wait()
	if c.m.poisoned {
		g.released = true
		c.m.mu.Unlock()
		panic(poisonMsg)
	}
	return g
}

// WaitWhile repeatedly waits as long as cond returns true for the guarded
// value, then returns the guard with the lock held. Spurious wakeups are
// absorbed by the loop.
func (c *Condvar[T]) WaitWhile(g *Guard[T], cond func(*T) bool) *Guard[T] {
	c.check(g)
	for cond(&c.m.val) {
		c.cond.Wait()
		if c.m.poisoned {
			g.released = true
			c.m.mu.Unlock()
			panic(poisonMsg)
		}
	}
	return g
}

// NotifyOne wakes at most one goroutine waiting on the condition variable.
func (c *Condvar[T]) NotifyOne() {
	c.cond.Signal()
}

// NotifyAll wakes every goroutine currently waiting on the condition variable.
func (c *Condvar[T]) NotifyAll() {
	c.cond.Broadcast()
}

func (c *Condvar[T]) check(g *Guard[T]) {
	if g.released {
		panic("syncutil: wait with released guard")
	}
	if g.m != c.m {
		panic("syncutil: guard does not belong to this condvar's mutex")
	}
}
