package datamodels

import (
	"github.com/google/uuid"
)

// RunRequest asks a worker to check the named targets of its configuration.
// An empty Targets selects every configured target, an empty Checks every
// check.
type RunRequest struct {
	RunID   uuid.UUID `json:"runId"`
	Targets []string  `json:"targets,omitempty"`
	Checks  []string  `json:"checks,omitempty"`
}

