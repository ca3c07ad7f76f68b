package orch

import (
	"fmt"

	"github.com/dkeye/LiveSession/internal/domain"
)

// StateError reports an operation attempted from the wrong connection state.
type StateError struct {
	Op    string
	State domain.ConnectionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return domain.ErrInvalidState }
