package domain

import (
	"context"
	"time"

	"cptrack/internal/models"
)

// Cache stores opaque upstream responses for a limited time.
// A miss is reported as ok == false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CPStore persists the rows written by sync handlers.
type CPStore interface {
	UpsertCPUser(ctx context.Context, user *models.CPUser) error
	GetCPUser(ctx context.Context, handle string) (*models.CPUser, error)
	ListHandles(ctx context.Context) ([]string, error)
	ListHandlesByOrganization(ctx context.Context, org string) ([]string, error)
	UpsertContests(ctx context.Context, contests []models.Contest) error
	UpsertUserContests(ctx context.Context, entries []models.UserContest) error
	ListUserContests(ctx context.Context, handle string) ([]models.UserContest, error)
	ReplaceRecommendations(ctx context.Context, handle string, recs []models.Recommendation) error
	ListRecommendations(ctx context.Context, handle string) ([]models.Recommendation, error)
	ReplaceLeaderboard(ctx context.Context, college string, entries []models.LeaderboardEntry) error
	GetLeaderboard(ctx context.Context, college string) ([]models.LeaderboardEntry, error)
	UpsertVerification(ctx context.Context, v *models.Verification) error
	GetVerification(ctx context.Context, handle string) (*models.Verification, error)
}

// SyncQueue is the part of the queue manager that request-facing code uses.
type SyncQueue interface {
	AddOperation(kind string, payload models.Payload, priority models.Priority) string
	Status() models.StatusSnapshot
	OnStatusChange(observer func(models.StatusSnapshot)) (unsubscribe func())
	Watch(ctx context.Context) <-chan models.StatusSnapshot
	RetryFailedOperations() int
	ClearQueue()
	PendingOperations() []models.Operation
	FailedOperations() []models.Operation
}

// DeadLetterReader lists permanently failed operations recorded outside the
// process.
type DeadLetterReader interface {
	ListDeadLetters(ctx context.Context, limit int64) ([]models.Operation, error)
}
