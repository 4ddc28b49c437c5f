package block

import (
	"fmt"
	"log/slog"

	"github.com/jbweber/kindling/internal/config"
	"github.com/jbweber/kindling/internal/logging"
)

// Backend type discriminators accepted in block_dev entries.
const (
	KindFile      = "file"
	KindMemAsync  = "mem-async"
	KindCloudinit = "cloudinit"
)

// CidataBuilder synthesizes the cloud-init seed backend from the full
// machine configuration. It is supplied by the caller so that the seed-data
// synthesis stays an opaque collaborator of the factory.
type CidataBuilder func(cfg *config.Config) (Backend, error)

// Resolver turns a device's block_dev reference into a live backend.
type Resolver struct {
	Log    *slog.Logger
	Cidata CidataBuilder
}

// fileConfig is the discriminator-specific option subset of a file backend.
type fileConfig struct {
	Path    string `mapstructure:"path"`
	Workers *int   `mapstructure:"workers"`
}

// memAsyncConfig is the discriminator-specific option subset of a mem-async
// backend.
type memAsyncConfig struct {
	Size    uint64 `mapstructure:"size"`
	Workers *int   `mapstructure:"workers"`
}

// Resolve looks up the block device named by dev's block_dev option and
// constructs its backend, returning the handle and the canonical name.
//
// Every failure is returned before any handle exists: an unrunnable VM must
// not start partially configured.
func (r *Resolver) Resolve(cfg *config.Config, dev *config.Device) (Backend, string, error) {
	log := logging.Ensure(r.Log)

	raw, ok := dev.Options["block_dev"]
	if !ok {
		return nil, "", fmt.Errorf("device driver %q does not reference a block_dev", dev.Driver)
	}
	name, ok := raw.(string)
	if !ok {
		return nil, "", fmt.Errorf("device block_dev reference must be a string, got %T", raw)
	}

	spec, ok := cfg.BlockDevs[name]
	if !ok {
		return nil, "", fmt.Errorf("no configured block device named %q", name)
	}
	opts := Options{
		BlockSize: spec.BlockOpts.BlockSize,
		ReadOnly:  spec.BlockOpts.ReadOnly,
		SkipFlush: spec.BlockOpts.SkipFlush,
	}

	switch spec.Type {
	case KindFile:
		var parsed fileConfig
		if err := config.DecodeOptions(spec.Options, &parsed); err != nil {
			return nil, "", fmt.Errorf("block_dev.%s: %w", name, err)
		}
		if parsed.Path == "" {
			return nil, "", fmt.Errorf("block_dev.%s: path is required", name)
		}
		workers := resolveFileWorkers(parsed.Workers, log)
		be, err := NewFileBackend(parsed.Path, opts, workers, log)
		if err != nil {
			return nil, "", fmt.Errorf("block device %q: %w", name, err)
		}
		return be, name, nil

	case KindMemAsync:
		var parsed memAsyncConfig
		if err := config.DecodeOptions(spec.Options, &parsed); err != nil {
			return nil, "", fmt.Errorf("block_dev.%s: %w", name, err)
		}
		// Unlike the file backend, no upper clamp is applied here: a
		// synthetic backend has no raw-device concurrency ceiling.
		workers := DefaultWorkerCount
		if parsed.Workers != nil {
			workers = *parsed.Workers
		}
		be, err := NewMemBackend(parsed.Size, opts, workers)
		if err != nil {
			return nil, "", fmt.Errorf("block device %q: %w", name, err)
		}
		return be, name, nil

	case KindCloudinit:
		if r.Cidata == nil {
			return nil, "", fmt.Errorf("block_dev.%s: no cidata builder available", name)
		}
		be, err := r.Cidata(cfg)
		if err != nil {
			return nil, "", fmt.Errorf("block device %q: %w", name, err)
		}
		return be, name, nil

	default:
		return nil, "", fmt.Errorf("block_dev.%s: unrecognized block device type %q", name, spec.Type)
	}
}

// resolveFileWorkers applies the file backend sizing policy: an explicit
// count in [1, MaxFileWorkers] is used as-is, an out-of-range count warns
// and falls back to the default, and an absent count uses the default
// silently.
func resolveFileWorkers(requested *int, log *slog.Logger) int {
	if requested == nil {
		return DefaultWorkerCount
	}
	w := *requested
	if w >= 1 && w <= MaxFileWorkers {
		return w
	}
	log.Warn("file backend worker count out of range, using default",
		"requested", w,
		"min", 1,
		"max", MaxFileWorkers,
		"default", DefaultWorkerCount)
	return DefaultWorkerCount
}
