// Package lifecycle provides a runtime-enforced finalize-before-discard
// guard for resources whose teardown is an ordered sequence of external
// steps (detach from a bus, drain in-flight I/O, release host resources)
// and therefore cannot be expressed as an implicit finalizer.
package lifecycle

import (
	"fmt"
	"runtime"
)

// Marker is embedded in a structure modeling a two-phase lifecycle
// (active, then finalized by an explicit consuming operation).
//
// The owner must call Consume exactly once, after all coordinated teardown
// steps have completed. A Marker discarded while still armed panics, turning
// a silently skipped teardown into an immediate, loud failure: the owner's
// drop path calls Discard, and a GC finalizer acts as a backstop for owners
// that are dropped without any teardown at all.
type Marker struct {
	state *markerState
}

type markerState struct {
	owner    string
	consumed bool
}

// NewMarker creates an armed Marker. The owner string identifies the
// resource in the panic diagnostic.
func NewMarker(owner string) Marker {
	st := &markerState{owner: owner}
	runtime.SetFinalizer(st, func(st *markerState) {
		if !st.consumed {
			panic(fmt.Sprintf(
				"lifecycle: %q collected without completed teardown", st.owner))
		}
	})
	return Marker{state: st}
}

// Consume disarms the marker. It must be called exactly once, only after
// the owning resource's teardown sequence has fully completed.
func (m Marker) Consume() {
	if m.state == nil {
		panic("lifecycle: Consume on zero Marker")
	}
	if m.state.consumed {
		panic(fmt.Sprintf("lifecycle: %q consumed twice", m.state.owner))
	}
	m.state.consumed = true
	runtime.SetFinalizer(m.state, nil)
}

// Discard is the owner's scope-exit check: it panics if the marker is still
// armed, identifying the unterminated lifecycle. Discarding a consumed
// marker is a no-op.
func (m Marker) Discard() {
	if m.state == nil {
		return
	}
	if !m.state.consumed {
		panic(fmt.Sprintf(
			"lifecycle: %q discarded without completed teardown", m.state.owner))
	}
}

// Consumed reports whether the marker has been disarmed.
func (m Marker) Consumed() bool {
	return m.state != nil && m.state.consumed
}
