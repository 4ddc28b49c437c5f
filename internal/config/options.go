package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeOptions performs a strict structured decode of a free-form option
// map into out, which must be a pointer to a struct tagged with
// `mapstructure` field names.
//
// Unknown keys are rejected rather than ignored, and no implicit coercion
// between value kinds is performed: a backend either understands the whole
// of its option subset or the startup fails.
func DecodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build option decoder: %w", err)
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
