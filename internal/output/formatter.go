// Package output provides formatters for displaying kindling machine
// descriptions in various formats (table, YAML, JSON).
package output

import (
	"fmt"
	"sort"

	"github.com/jbweber/kindling/internal/config"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format for declarative configs.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Summary is the presentation form of a parsed machine description.
type Summary struct {
	Name         string           `json:"name" yaml:"name"`
	CPUs         uint8            `json:"cpus" yaml:"cpus"`
	MemoryMiB    uint64           `json:"memoryMiB" yaml:"memoryMiB"`
	Bootrom      string           `json:"bootrom" yaml:"bootrom"`
	CpuidProfile string            `json:"cpuidProfile,omitempty" yaml:"cpuidProfile,omitempty"`
	Devices      []DeviceSummary   `json:"devices" yaml:"devices"`
	BlockDevs    []BlockDevSummary `json:"blockDevs" yaml:"blockDevs"`
	CloudInit    bool              `json:"cloudInit" yaml:"cloudInit"`
}

// DeviceSummary describes one emulated device.
type DeviceSummary struct {
	Name     string `json:"name" yaml:"name"`
	Driver   string `json:"driver" yaml:"driver"`
	BlockDev string `json:"blockDev,omitempty" yaml:"blockDev,omitempty"`
}

// BlockDevSummary describes one named block device specification.
type BlockDevSummary struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	ReadOnly bool   `json:"readOnly" yaml:"readOnly"`
}

// NewSummary flattens a parsed configuration into its presentation form.
// Device and block device entries are sorted by name so the output is
// stable across runs.
func NewSummary(cfg *config.Config) *Summary {
	s := &Summary{
		Name:      cfg.Main.Name,
		CPUs:      cfg.Main.CPUs,
		MemoryMiB: cfg.Main.Memory,
		Bootrom:   cfg.Main.Bootrom,
		CloudInit: cfg.CloudInit != nil,
	}
	if cfg.Main.CpuidProfile != nil {
		s.CpuidProfile = *cfg.Main.CpuidProfile
	}

	for _, name := range sortedKeys(cfg.Devices) {
		dev := cfg.Devices[name]
		ds := DeviceSummary{Name: name, Driver: dev.Driver}
		if ref, ok := dev.Options["block_dev"].(string); ok {
			ds.BlockDev = ref
		}
		s.Devices = append(s.Devices, ds)
	}

	for _, name := range sortedKeys(cfg.BlockDevs) {
		spec := cfg.BlockDevs[name]
		bs := BlockDevSummary{Name: name, Type: spec.Type}
		if spec.BlockOpts.ReadOnly != nil {
			bs.ReadOnly = *spec.BlockOpts.ReadOnly
		}
		s.BlockDevs = append(s.BlockDevs, bs)
	}

	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Formatter formats a machine summary for output.
type Formatter interface {
	// FormatSummary renders one machine description.
	FormatSummary(s *Summary) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	switch Format(format) {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}
