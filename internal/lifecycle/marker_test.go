package lifecycle

import (
	"strings"
	"testing"
)

func TestConsumeThenDiscard(t *testing.T) {
	m := NewMarker("disk0")
	m.Consume()

	// A consumed marker must never raise on discard.
	m.Discard()

	if !m.Consumed() {
		t.Error("Consumed() = false after Consume")
	}
}

func TestDiscardWithoutConsumePanics(t *testing.T) {
	m := NewMarker("disk0")

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Discard of armed marker did not panic")
		}
		msg, ok := r.(string)
		if !ok || !strings.Contains(msg, "disk0") {
			t.Errorf("panic %v does not identify the owner", r)
		}
		m.Consume() // disarm the finalizer backstop for test hygiene
	}()
	m.Discard()
}

func TestDoubleConsumePanics(t *testing.T) {
	m := NewMarker("disk0")
	m.Consume()

	defer func() {
		if recover() == nil {
			t.Error("second Consume did not panic")
		}
	}()
	m.Consume()
}

func TestZeroMarkerConsumePanics(t *testing.T) {
	var m Marker

	defer func() {
		if recover() == nil {
			t.Error("Consume on zero Marker did not panic")
		}
	}()
	m.Consume()
}

func TestZeroMarkerDiscardIsNoop(t *testing.T) {
	var m Marker
	m.Discard()
}
