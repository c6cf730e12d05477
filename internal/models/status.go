package models

import "time"

// StatusSnapshot is the read-only view of the sync queue pushed to observers.
type StatusSnapshot struct {
	IsOnline         bool       `json:"is_online"`
	IsSyncing        bool       `json:"is_syncing"`
	QueueSize        int        `json:"queue_size"`
	LastSync         *time.Time `json:"last_sync"`
	FailedOperations int        `json:"failed_operations"`
}

// Indicator condenses the snapshot into the label a UI shows next to its
// sync badge.
func (s StatusSnapshot) Indicator() string {
	switch {
	case !s.IsOnline:
		return "offline"
	case s.IsSyncing:
		return "syncing"
	case s.FailedOperations > 0:
		return "failed"
	case s.QueueSize > 0:
		return "queued"
	default:
		return "synced"
	}
}
