package orchestrator

import "codeberg.org/mutker/healthsynth/internal/errors"

const (
	ErrBusy          = errors.ErrorCode("orchestrator_busy")
	ErrUnauthorized  = errors.ErrorCode("orchestrator_unauthorized")
	ErrInvalidWindow = errors.ErrorCode("orchestrator_invalid_window")
)

func init() {
	errors.RegisterMessage(ErrBusy, "A run is already in progress")
	errors.RegisterMessage(ErrUnauthorized, "Store access has not been authorized")
	errors.RegisterMessage(ErrInvalidWindow, "Invalid generation window")
}
