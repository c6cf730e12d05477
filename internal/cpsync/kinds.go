package cpsync

import "cptrack/internal/models"

// Operation kinds handled by this package.
const (
	KindUserStats              = "user-stats-sync"
	KindContestData            = "contest-data-sync"
	KindProblemRecommendations = "problem-recommendations-sync"
	KindLeaderboard            = "leaderboard-sync"
	KindVerification           = "verification-sync"
)

// Kinds lists every kind registered by Handlers.Register.
var Kinds = []string{
	KindUserStats,
	KindContestData,
	KindProblemRecommendations,
	KindLeaderboard,
	KindVerification,
}

// Enqueuer is satisfied by the queue manager.
type Enqueuer interface {
	AddOperation(kind string, payload models.Payload, priority models.Priority) string
}

// SyncUserStats refreshes the profile and rating of handle.
func SyncUserStats(q Enqueuer, handle string) string {
	return q.AddOperation(KindUserStats, models.Payload{"handle": handle}, models.PriorityHigh)
}

// SyncContestData refreshes the rating history of handle.
func SyncContestData(q Enqueuer, handle string) string {
	return q.AddOperation(KindContestData, models.Payload{"handle": handle}, models.PriorityMedium)
}

// SyncProblemRecommendations rebuilds the unsolved problem list of handle for
// the inclusive rating window.
func SyncProblemRecommendations(q Enqueuer, handle string, minRating, maxRating int64) string {
	return q.AddOperation(KindProblemRecommendations, models.Payload{
		"handle":     handle,
		"min_rating": minRating,
		"max_rating": maxRating,
	}, models.PriorityMedium)
}

// SyncLeaderboard rebuilds the standings of college from handles.
func SyncLeaderboard(q Enqueuer, college string, handles []string) string {
	return q.AddOperation(KindLeaderboard, models.Payload{
		"college": college,
		"handles": append([]string(nil), handles...),
	}, models.PriorityLow)
}

// SyncVerification checks that handle shows token on its public profile.
func SyncVerification(q Enqueuer, handle, token string) string {
	return q.AddOperation(KindVerification, models.Payload{
		"handle": handle,
		"token":  token,
	}, models.PriorityHigh)
}
