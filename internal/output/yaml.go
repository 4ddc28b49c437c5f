package output

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats summaries as YAML.
type YAMLFormatter struct{}

// FormatSummary formats a machine summary as YAML.
func (f *YAMLFormatter) FormatSummary(s *Summary) (string, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary to YAML: %w", err)
	}

	return string(data), nil
}
