package orchestrator

import (
	"errors"
	"fmt"
)

// ErrTurnFailed matches every *TurnError.
var ErrTurnFailed = errors.New("turn failed")

// TurnError is returned by Engine.Run when a stage failed unexpectedly or
// the turn was cancelled. A policy-blocked turn is not a TurnError.
type TurnError struct {
	RunID string
	Stage string
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %s failed at stage %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

func (e *TurnError) Is(target error) bool { return target == ErrTurnFailed }
