package roster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticLoader returns a Loader over a fixed contacts map, typically
// the one parsed from the service configuration. Reload is a no-op.
func StaticLoader(contacts map[string][]string) Loader {
	return func() (map[string][]string, error) {
		if contacts == nil {
			return map[string][]string{}, nil
		}
		return contacts, nil
	}
}

// FileLoader returns a Loader that reads contact lists from a YAML
// file mapping notification levels to contact lists:
//
//	critical: [qa-oncall@example.com, "+1-555-0100"]
//	warning:  [validation-team@example.com]
//
// Operators edit the file on rotation changes and send SIGHUP.
func FileLoader(path string) Loader {
	return func() (map[string][]string, error) {
		data, err := os.ReadFile(path) //nolint:gosec // path from trusted config
		if err != nil {
			return nil, fmt.Errorf("read roster file: %w", err)
		}
		var contacts map[string][]string
		if err := yaml.Unmarshal(data, &contacts); err != nil {
			return nil, fmt.Errorf("parse roster file %s: %w", path, err)
		}
		return contacts, nil
	}
}
