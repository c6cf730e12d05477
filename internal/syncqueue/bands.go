package syncqueue

import (
	"sort"
	"time"

	"cptrack/internal/models"
)

// bands holds pending operations per priority, each band in FIFO order.
type bands [3][]*models.Operation

func (b *bands) pushBack(op *models.Operation) {
	r := op.Priority.Rank()
	b[r] = append(b[r], op)
}

func (b *bands) pushFront(op *models.Operation) {
	r := op.Priority.Rank()
	b[r] = append([]*models.Operation{op}, b[r]...)
}

func (b *bands) len() int {
	return len(b[0]) + len(b[1]) + len(b[2])
}

func (b *bands) clear() {
	for i := range b {
		b[i] = nil
	}
}

// popEligible removes and returns the first operation, scanning bands from
// high to low, whose backoff has elapsed at now. When nothing is eligible it
// returns the time until the earliest operation becomes eligible.
func (b *bands) popEligible(now time.Time) (*models.Operation, time.Duration) {
	var wait time.Duration = -1
	for r := range b {
		for i, op := range b[r] {
			if op.NextAttemptAt == nil || !op.NextAttemptAt.After(now) {
				b[r] = append(b[r][:i:i], b[r][i+1:]...)
				return op, 0
			}
			if d := op.NextAttemptAt.Sub(now); wait < 0 || d < wait {
				wait = d
			}
		}
	}
	return nil, wait
}

// snapshot returns copies in drain order.
func (b *bands) snapshot() []models.Operation {
	out := make([]models.Operation, 0, b.len())
	for r := range b {
		for _, op := range b[r] {
			out = append(out, op.Clone())
		}
	}
	return out
}

// sortByEnqueue restores FIFO order inside every band, used after loading
// operations from the journal.
func (b *bands) sortByEnqueue() {
	for r := range b {
		band := b[r]
		sort.SliceStable(band, func(i, j int) bool {
			return band[i].EnqueuedAt.Before(band[j].EnqueuedAt)
		})
	}
}
