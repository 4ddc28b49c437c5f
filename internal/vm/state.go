package vm

import "fmt"

// State is the lifecycle phase of an instance.
type State string

const (
	// StatePending: configuration resolved, backends constructed, not
	// yet running.
	StatePending State = "pending"
	// StateRunning: handed to the execution loop.
	StateRunning State = "running"
	// StateRebooting: guest-requested reset in progress.
	StateRebooting State = "rebooting"
	// StateHalted: terminal state; the instance will not run again.
	StateHalted State = "halted"
)

// canTransitionTo reports whether moving from s to next is a legal phase
// change.
func (s State) canTransitionTo(next State) bool {
	switch s {
	case StatePending:
		return next == StateRunning || next == StateHalted
	case StateRunning:
		return next == StateRebooting || next == StateHalted
	case StateRebooting:
		return next == StateRunning || next == StateHalted
	default:
		return false
	}
}

// Event is a guest-visible lifecycle event mapped to a process exit code.
type Event string

const (
	EventHalt   Event = "halt"
	EventReboot Event = "reboot"
)

// ExitCodeFor maps a lifecycle event to the process exit code configured in
// [main]. The second result is false when the event should not exit the
// process (reboot with no exit_on_reboot configured).
func (i *Instance) ExitCodeFor(ev Event) (int, bool) {
	switch ev {
	case EventHalt:
		return int(i.cfg.Main.ExitOnHalt), true
	case EventReboot:
		if i.cfg.Main.ExitOnReboot == nil {
			return 0, false
		}
		return int(*i.cfg.Main.ExitOnReboot), true
	default:
		panic(fmt.Sprintf("vm: unknown lifecycle event %q", ev))
	}
}
