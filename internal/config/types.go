// Package config parses and structurally validates the declarative machine
// description consumed by the instance bootstrap.
//
// The document is TOML with four sections: [main] machine parameters,
// [dev.<name>] emulated device entries, [block_dev.<name>] block backend
// specifications, and [cpuid.<name>] CPUID profiles, plus an optional
// [cloudinit] table. Device and block-device entries carry free-form option
// maps that stay unresolved here; each driver or backend performs its own
// strict decode of the subset it understands.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/jbweber/kindling/internal/cpuid"
)

// Config is the complete parsed machine description. It is immutable once
// parsed; the bootstrap owns it for the life of the process.
type Config struct {
	Main          Main                    `toml:"main"`
	Devices       map[string]Device       `toml:"dev,omitempty"`
	BlockDevs     map[string]BlockDevice  `toml:"block_dev,omitempty"`
	CpuidProfiles map[string]CpuidProfile `toml:"cpuid,omitempty"`
	CloudInit     *CloudInit              `toml:"cloudinit,omitempty"`
}

// Main holds the machine-level parameters.
type Main struct {
	Name           string  `toml:"name"`
	CPUs           uint8   `toml:"cpus"`
	Bootrom        string  `toml:"bootrom"`
	BootromVersion *string `toml:"bootrom_version,omitempty"`
	Memory         uint64  `toml:"memory"`
	UseReservoir   *bool   `toml:"use_reservoir,omitempty"`
	CpuidProfile   *string `toml:"cpuid_profile,omitempty"`

	// Process exit code to emit if/when the instance halts. Default 0.
	ExitOnHalt uint8 `toml:"exit_on_halt,omitempty"`
	// Process exit code to emit if/when the instance reboots.
	// Unset means the process does not exit on reboot.
	ExitOnReboot *uint8 `toml:"exit_on_reboot,omitempty"`

	// Request the bootrom override boot order using the named devices.
	BootOrder []string `toml:"boot_order,omitempty"`
}

// Device is one emulated device entry: a driver identifier plus whatever
// free-form options that driver understands.
type Device struct {
	Driver string

	// Options holds every key other than "driver", with TOML-native value
	// types (string, int64, float64, bool, map[string]any, []any).
	Options map[string]any
}

// UnmarshalTOML captures the driver field and routes every remaining key
// into the free-form option map.
func (d *Device) UnmarshalTOML(raw any) error {
	table, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("device entry must be a table, got %T", raw)
	}
	d.Options = make(map[string]any)
	for k, v := range table {
		if k == "driver" {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("device driver must be a string, got %T", v)
			}
			d.Driver = s
			continue
		}
		d.Options[k] = v
	}
	return nil
}

// BlockOpts are the common options shared by every block backend kind.
// Unset fields leave the choice to the backend.
type BlockOpts struct {
	BlockSize *uint32
	ReadOnly  *bool
	SkipFlush *bool
}

// BlockDevice is one block backend specification: a type discriminator, the
// common block options, and a free-form option map specific to the
// discriminator.
type BlockDevice struct {
	Type      string
	BlockOpts BlockOpts
	Options   map[string]any
}

// UnmarshalTOML captures the discriminator and common block options and
// routes every remaining key into the free-form option map.
func (b *BlockDevice) UnmarshalTOML(raw any) error {
	table, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("block device entry must be a table, got %T", raw)
	}
	b.Options = make(map[string]any)
	for k, v := range table {
		switch k {
		case "type":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("block device type must be a string, got %T", v)
			}
			b.Type = s
		case "block_size":
			n, err := tomlUint32(v)
			if err != nil {
				return fmt.Errorf("block_size: %w", err)
			}
			b.BlockOpts.BlockSize = &n
		case "read_only":
			f, ok := v.(bool)
			if !ok {
				return fmt.Errorf("read_only must be a boolean, got %T", v)
			}
			b.BlockOpts.ReadOnly = &f
		case "skip_flush":
			f, ok := v.(bool)
			if !ok {
				return fmt.Errorf("skip_flush must be a boolean, got %T", v)
			}
			b.BlockOpts.SkipFlush = &f
		default:
			b.Options[k] = v
		}
	}
	return nil
}

func tomlUint32(v any) (uint32, error) {
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("must be an integer, got %T", v)
	}
	if n < 0 || n > int64(^uint32(0)) {
		return 0, fmt.Errorf("value %d out of range", n)
	}
	return uint32(n), nil
}

// CpuidProfile is a named declarative CPUID identity: a vendor tag plus an
// ordered list of (leaf, subleaf) register entries.
type CpuidProfile struct {
	Vendor  string        `toml:"vendor"`
	Entries []cpuid.Entry `toml:"entry"`
}

// CloudInit carries the seed data for a cloudinit block device. Each item
// may be given inline or as a path to a file; setting both for the same item
// is rejected by the cidata builder.
type CloudInit struct {
	UserData      *string `toml:"user-data,omitempty"`
	MetaData      *string `toml:"meta-data,omitempty"`
	NetworkConfig *string `toml:"network-config,omitempty"`

	UserDataPath      *string `toml:"user-data-path,omitempty"`
	MetaDataPath      *string `toml:"meta-data-path,omitempty"`
	NetworkConfigPath *string `toml:"network-config-path,omitempty"`
}

// CpuidProfile returns the profile selected by main.cpuid_profile, or nil
// when no profile is configured. A dangling profile name is caught by
// Validate.
func (c *Config) CpuidProfile() *CpuidProfile {
	if c.Main.CpuidProfile == nil {
		return nil
	}
	p, ok := c.CpuidProfiles[*c.Main.CpuidProfile]
	if !ok {
		return nil
	}
	return &p
}

// Validate checks the structural integrity of the parsed document. It does
// not touch backend-specific option maps; those are decoded by the owning
// backend during resolution.
func (c *Config) Validate() error {
	if c.Main.Name == "" {
		return fmt.Errorf("main.name is required")
	}
	if c.Main.CPUs == 0 {
		return fmt.Errorf("main.cpus must be > 0")
	}
	if c.Main.Memory == 0 {
		return fmt.Errorf("main.memory must be > 0")
	}
	if c.Main.Bootrom == "" {
		return fmt.Errorf("main.bootrom is required")
	}

	if c.Main.CpuidProfile != nil {
		name := *c.Main.CpuidProfile
		if _, ok := c.CpuidProfiles[name]; !ok {
			return fmt.Errorf("main.cpuid_profile references unknown profile %q", name)
		}
	}

	for _, dev := range c.Main.BootOrder {
		if _, ok := c.Devices[dev]; !ok {
			return fmt.Errorf("main.boot_order references unknown device %q", dev)
		}
	}

	for name, dev := range c.Devices {
		if dev.Driver == "" {
			return fmt.Errorf("dev.%s: driver is required", name)
		}
	}
	for name, bd := range c.BlockDevs {
		if bd.Type == "" {
			return fmt.Errorf("block_dev.%s: type is required", name)
		}
	}
	for name, p := range c.CpuidProfiles {
		if _, err := cpuid.ParseVendor(p.Vendor); err != nil {
			return fmt.Errorf("cpuid.%s: %w", name, err)
		}
	}
	return nil
}

// Parse parses and validates a machine description from TOML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load reads, parses, and validates the machine description at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Encode re-serializes the configuration as TOML. Re-parsing the output
// yields a structurally equal Config.
func (c *Config) Encode(w io.Writer) error {
	raw := map[string]any{
		"main": c.Main,
	}
	if len(c.Devices) > 0 {
		devs := make(map[string]map[string]any, len(c.Devices))
		for name, d := range c.Devices {
			devs[name] = mergeOptions(map[string]any{"driver": d.Driver}, d.Options)
		}
		raw["dev"] = devs
	}
	if len(c.BlockDevs) > 0 {
		bds := make(map[string]map[string]any, len(c.BlockDevs))
		for name, b := range c.BlockDevs {
			entry := map[string]any{"type": b.Type}
			if b.BlockOpts.BlockSize != nil {
				entry["block_size"] = int64(*b.BlockOpts.BlockSize)
			}
			if b.BlockOpts.ReadOnly != nil {
				entry["read_only"] = *b.BlockOpts.ReadOnly
			}
			if b.BlockOpts.SkipFlush != nil {
				entry["skip_flush"] = *b.BlockOpts.SkipFlush
			}
			bds[name] = mergeOptions(entry, b.Options)
		}
		raw["block_dev"] = bds
	}
	if len(c.CpuidProfiles) > 0 {
		raw["cpuid"] = c.CpuidProfiles
	}
	if c.CloudInit != nil {
		raw["cloudinit"] = c.CloudInit
	}
	if err := toml.NewEncoder(w).Encode(raw); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

func mergeOptions(entry map[string]any, options map[string]any) map[string]any {
	for k, v := range options {
		entry[k] = v
	}
	return entry
}
