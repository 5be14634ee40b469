package cliutil

import (
	"fmt"
	"strings"
)

// ParseParams turns repeated key=value flags into job parameters. A later
// value for the same key wins.
func ParseParams(pairs []string) (map[string]string, error) {
	params := map[string]string{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
