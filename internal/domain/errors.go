package domain

import "errors"

// Sentinel errors shared across the coordination core. Transports and
// the dispatcher translate these into the {success:false, error_code}
// shape from spec §7; internal packages compare against them with
// errors.Is.
var (
	ErrAlreadyRegistered  = errors.New("agent already registered")
	ErrNotRegistered      = errors.New("agent not registered")
	ErrAlreadyAssigned    = errors.New("agent already has an active task")
	ErrNotAssignedToAgent = errors.New("task is not assigned to this agent")
	ErrInvalidStatus      = errors.New("invalid status transition")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNoTaskAvailable    = errors.New("no task available")
)
