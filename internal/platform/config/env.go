package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Setting names one configuration value for presence checks.
type Setting struct {
	Name  string
	Value string
}

// RequireSettings fails naming every blank setting at once.
func RequireSettings(settings ...Setting) error {
	var missing []string
	for _, setting := range settings {
		if strings.TrimSpace(setting.Value) == "" {
			missing = append(missing, setting.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
}
