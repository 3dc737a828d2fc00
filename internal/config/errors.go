package config

import "codeberg.org/mutker/healthsynth/internal/errors"

const (
	ErrInvalidValue   = errors.ErrorCode("config_invalid_value")
	ErrUnknownCommand = errors.ErrorCode("config_unknown_command")
	ErrInvalidMetrics = errors.ErrorCode("config_invalid_metrics")
)

func init() {
	errors.RegisterMessage(ErrInvalidValue, "Invalid configuration value")
	errors.RegisterMessage(ErrUnknownCommand, "Unknown command")
	errors.RegisterMessage(ErrInvalidMetrics, "Invalid metric overrides")
}
