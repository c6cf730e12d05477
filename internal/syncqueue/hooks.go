package syncqueue

import (
	"context"
	"time"

	"cptrack/internal/models"
)

// Handler performs the external work for one operation kind.
type Handler func(ctx context.Context, payload models.Payload) error

// Journal mirrors the queue durably so a restart loses nothing.
type Journal interface {
	SaveOperation(ctx context.Context, op models.Operation) error
	DeleteOperation(ctx context.Context, id string) error
	ClearOperations(ctx context.Context) error
	// LoadOperations returns every pending, in-flight or failed operation.
	LoadOperations(ctx context.Context) ([]models.Operation, error)
}

// DeadLetter receives operations that failed permanently.
type DeadLetter interface {
	PushDeadLetter(ctx context.Context, op models.Operation) error
}

// Recorder observes operation outcomes, typically for metrics.
type Recorder interface {
	OperationEnqueued(kind string, priority models.Priority)
	OperationCompleted(kind string, took time.Duration)
	OperationRetried(kind string)
	OperationFailed(kind string)
}

type nopRecorder struct{}

func (nopRecorder) OperationEnqueued(string, models.Priority) {}
func (nopRecorder) OperationCompleted(string, time.Duration)  {}
func (nopRecorder) OperationRetried(string)                    {}
func (nopRecorder) OperationFailed(string)                     {}
