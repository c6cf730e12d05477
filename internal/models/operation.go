package models

import (
	"fmt"
	"strings"
	"time"
)

// Priority selects the band an operation is drained from.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priorities lists the bands in drain order.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Rank returns the drain position of the band, lower drains first.
// Unknown values rank with the low band.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// ParsePriority accepts the band name case-insensitively. Empty means medium.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	if p == "" {
		return PriorityMedium, nil
	}
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", raw)
	}
	return p, nil
}

type OperationStatus string

const (
	OperationPending  OperationStatus = "pending"
	OperationInFlight OperationStatus = "in-flight"
	OperationFailed   OperationStatus = "failed"
)

// Operation is a single deferred unit of sync work.
type Operation struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Payload       Payload         `json:"payload"`
	Priority      Priority        `json:"priority"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	RetryCount    int             `json:"retry_count"`
	Status        OperationStatus `json:"status"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	LastError     *string         `json:"last_error,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
}

// Clone returns a copy that does not share pointer fields with op.
// The payload map itself is shared; handlers must treat it as read-only.
func (op *Operation) Clone() Operation {
	out := *op
	if op.NextAttemptAt != nil {
		t := *op.NextAttemptAt
		out.NextAttemptAt = &t
	}
	if op.LastError != nil {
		s := *op.LastError
		out.LastError = &s
	}
	if op.FailedAt != nil {
		t := *op.FailedAt
		out.FailedAt = &t
	}
	return out
}
