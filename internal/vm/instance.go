// Package vm constructs a runnable instance from a parsed machine
// description: it resolves every device's block backend, synthesizes the
// CPUID identity set, and owns the shared state the execution loop guards.
//
// Construction is all-or-nothing. Any resolution failure tears down the
// backends already built and returns an error before an Instance exists, so
// a partially configured VM can never be handed to the execution loop.
package vm

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jbweber/kindling/internal/block"
	"github.com/jbweber/kindling/internal/cloudinit"
	"github.com/jbweber/kindling/internal/config"
	"github.com/jbweber/kindling/internal/cpuid"
	"github.com/jbweber/kindling/internal/lifecycle"
	"github.com/jbweber/kindling/internal/logging"
	"github.com/jbweber/kindling/internal/syncutil"
)

// Instance is a fully resolved virtual machine awaiting its execution loop.
// Backends are shared handles; the Instance is the holder responsible for
// tearing them down via Destroy.
type Instance struct {
	id  uuid.UUID
	cfg *config.Config
	log *slog.Logger

	// backends maps canonical block device names to their handles. Two
	// devices referencing the same block_dev share one handle.
	backends map[string]block.Backend
	cpuid    *cpuid.Set

	state   *syncutil.Mutex[State]
	stateCv *syncutil.Condvar[State]
	cleanup lifecycle.Marker
}

// New resolves cfg into an Instance.
func New(cfg *config.Config, log *slog.Logger) (*Instance, error) {
	log = logging.Ensure(log).With("machine", cfg.Main.Name)

	resolver := &block.Resolver{
		Log:    log,
		Cidata: cloudinit.BuildBackend,
	}

	backends := make(map[string]block.Backend)
	closeAll := func() {
		for _, be := range backends {
			_ = be.Close()
		}
	}

	for devName, dev := range cfg.Devices {
		if _, ok := dev.Options["block_dev"]; !ok {
			// Device without storage (NIC, serial, ...); its driver
			// decodes the remaining options elsewhere.
			continue
		}
		be, canonical, err := resolver.Resolve(cfg, &dev)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("dev.%s: %w", devName, err)
		}
		if _, ok := backends[canonical]; ok {
			// Another device already resolved this backend; share the
			// handle and discard the duplicate.
			_ = be.Close()
			log.Debug("sharing block backend", "name", canonical)
			continue
		}
		backends[canonical] = be
		log.Info("resolved block backend",
			"name", canonical,
			"kind", be.Kind(),
			"workers", be.WorkerCount())
	}

	var set *cpuid.Set
	if profile := cfg.CpuidProfile(); profile != nil {
		vendor, err := cpuid.ParseVendor(profile.Vendor)
		if err != nil {
			closeAll()
			return nil, err
		}
		set, err = cpuid.SetFromEntries(vendor, profile.Entries)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("cpuid profile %q: %w", *cfg.Main.CpuidProfile, err)
		}
		log.Info("applied cpuid profile",
			"profile", *cfg.Main.CpuidProfile,
			"vendor", vendor,
			"entries", set.Len())
	}

	stateMu := syncutil.NewMutex(StatePending)
	inst := &Instance{
		id:       uuid.New(),
		cfg:      cfg,
		log:      log,
		backends: backends,
		cpuid:    set,
		state:    stateMu,
		stateCv:  syncutil.NewCondvar(stateMu),
		cleanup:  lifecycle.NewMarker("instance " + cfg.Main.Name),
	}
	log.Info("instance constructed", "id", inst.id, "backends", len(backends))
	return inst, nil
}

// ID returns the generated instance identifier.
func (i *Instance) ID() uuid.UUID { return i.id }

// Name returns the configured machine name.
func (i *Instance) Name() string { return i.cfg.Main.Name }

// Config returns the machine description the instance was built from.
func (i *Instance) Config() *config.Config { return i.cfg }

// Backend looks up a resolved backend by its canonical block device name.
func (i *Instance) Backend(name string) (block.Backend, bool) {
	be, ok := i.backends[name]
	return be, ok
}

// BackendNames returns the canonical names of every resolved backend.
func (i *Instance) BackendNames() []string {
	names := make([]string, 0, len(i.backends))
	for name := range i.backends {
		names = append(names, name)
	}
	return names
}

// CpuidSet returns the synthesized CPUID identity, or nil when no profile
// is configured and the guest sees the host/default identity.
func (i *Instance) CpuidSet() *cpuid.Set { return i.cpuid }

// State returns the current lifecycle phase.
func (i *Instance) State() State {
	g := i.state.Lock()
	defer g.Unlock()
	return *g.Value()
}

// SetState transitions the instance to next, waking every waiter. Illegal
// phase changes are rejected.
func (i *Instance) SetState(next State) error {
	g := i.state.Lock()
	defer g.Unlock()

	cur := *g.Value()
	if !cur.canTransitionTo(next) {
		return fmt.Errorf("cannot transition instance from %s to %s", cur, next)
	}
	*g.Value() = next
	i.stateCv.NotifyAll()
	i.log.Info("instance state change", "from", cur, "to", next)
	return nil
}

// WaitFor blocks until the instance reaches the target state.
func (i *Instance) WaitFor(target State) {
	g := i.state.Lock()
	g = i.stateCv.WaitWhile(g, func(s *State) bool { return *s != target })
	g.Unlock()
}

// Start launches every backend's worker pool and moves the instance to
// Running.
func (i *Instance) Start() error {
	for name, be := range i.backends {
		if err := be.Start(); err != nil {
			return fmt.Errorf("failed to start backend %q: %w", name, err)
		}
	}
	return i.SetState(StateRunning)
}

// Destroy tears the instance down: it moves to Halted, closes every
// backend, and completes the lifecycle obligation. It must be called
// exactly once; an Instance discarded without Destroy trips its lifecycle
// guard.
func (i *Instance) Destroy() error {
	g := i.state.Lock()
	if *g.Value() != StateHalted {
		*g.Value() = StateHalted
		i.stateCv.NotifyAll()
	}
	g.Unlock()

	var errs []error
	for name, be := range i.backends {
		if err := be.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend %q: %w", name, err))
		}
	}
	if len(errs) > 0 {
		// Teardown is incomplete; leave the guard armed so the defect
		// surfaces loudly rather than as a silent leak.
		return errors.Join(errs...)
	}
	i.cleanup.Consume()
	i.log.Info("instance destroyed", "id", i.id)
	return nil
}
