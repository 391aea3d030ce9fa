package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every ConfigurationError.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports constants that are invalid on their own or that
// disagree with the channel count of an observed packed tensor.
type ConfigurationError struct {
	Config   Config // Configuration in effect
	Channels int    // Observed channel count, 0 if not applicable
	Detail   string // Additional details
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Channels > 0 {
		return fmt.Sprintf("configuration error: %s: %d channels observed, %d expected (%s)",
			e.Detail, e.Channels, e.Config.NumOutChannels(), e.Config)
	}
	return "configuration error: " + e.Detail
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
