package cpsync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cptrack/internal/codeforces"
	"cptrack/internal/domain"
	"cptrack/internal/models"
	"cptrack/internal/syncqueue"

	"github.com/rs/zerolog"
)

// Upstream is the part of the codeforces client the handlers call.
type Upstream interface {
	UserInfo(ctx context.Context, handles ...string) ([]codeforces.User, error)
	UserRating(ctx context.Context, handle string) ([]codeforces.RatingChange, error)
	ContestList(ctx context.Context) ([]codeforces.Contest, error)
	UserStatus(ctx context.Context, handle string) ([]codeforces.Submission, error)
	Problems(ctx context.Context) ([]codeforces.Problem, error)
}

// Registrar is satisfied by the queue manager.
type Registrar interface {
	Register(kind string, handler syncqueue.Handler)
}

// Handlers performs the sync work behind each operation kind.
type Handlers struct {
	upstream Upstream
	store    domain.CPStore
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHandlers(upstream Upstream, store domain.CPStore, logger *zerolog.Logger) *Handlers {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "cpsync").Logger()
	}
	return &Handlers{
		upstream: upstream,
		store:    store,
		logger:   l,
		now:      time.Now,
	}
}

// Register binds every kind to its handler.
func (h *Handlers) Register(r Registrar) {
	r.Register(KindUserStats, h.wrap(h.syncUserStats))
	r.Register(KindContestData, h.wrap(h.syncContestData))
	r.Register(KindProblemRecommendations, h.wrap(h.syncRecommendations))
	r.Register(KindLeaderboard, h.wrap(h.syncLeaderboard))
	r.Register(KindVerification, h.wrap(h.syncVerification))
}

func (h *Handlers) wrap(fn syncqueue.Handler) syncqueue.Handler {
	return func(ctx context.Context, p models.Payload) error {
		return classify(fn(ctx, p))
	}
}

func requireString(p models.Payload, key string) (string, error) {
	v := strings.TrimSpace(p.GetString(key))
	if v == "" {
		return "", permanentf("payload field %q is required", key)
	}
	return v, nil
}

func (h *Handlers) fetchUser(ctx context.Context, handle string) (*codeforces.User, error) {
	users, err := h.upstream.UserInfo(ctx, handle)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: handle %s", codeforces.ErrNotFound, handle)
	}
	return &users[0], nil
}

func (h *Handlers) syncUserStats(ctx context.Context, p models.Payload) error {
	handle, err := requireString(p, "handle")
	if err != nil {
		return err
	}

	u, err := h.fetchUser(ctx, handle)
	if err != nil {
		return err
	}

	user := &models.CPUser{
		Handle:       u.Handle,
		FirstName:    u.FirstName,
		Organization: u.Organization,
		Rating:       u.Rating,
		MaxRating:    u.MaxRating,
		Rank:         u.Rank,
		MaxRank:      u.MaxRank,
		Contribution: u.Contribution,
		SyncedAt:     h.now(),
	}
	if err := h.store.UpsertCPUser(ctx, user); err != nil {
		return err
	}

	h.logger.Info().Str("handle", user.Handle).Int64("rating", user.Rating).Msg("user stats synced")
	return nil
}

func (h *Handlers) syncContestData(ctx context.Context, p models.Payload) error {
	handle, err := requireString(p, "handle")
	if err != nil {
		return err
	}

	changes, err := h.upstream.UserRating(ctx, handle)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		h.logger.Info().Str("handle", handle).Msg("no rated contests")
		return nil
	}

	list, err := h.upstream.ContestList(ctx)
	if err != nil {
		return err
	}
	known := make(map[int64]codeforces.Contest, len(list))
	for _, c := range list {
		known[c.ID] = c
	}

	contests := make([]models.Contest, 0, len(changes))
	entries := make([]models.UserContest, 0, len(changes))
	for _, ch := range changes {
		contest := models.Contest{ID: ch.ContestID, Name: ch.ContestName}
		if c, ok := known[ch.ContestID]; ok {
			contest.Name = c.Name
			contest.Phase = c.Phase
			contest.DurationSeconds = c.DurationSeconds
			if c.StartTimeSeconds > 0 {
				contest.StartTime = time.Unix(c.StartTimeSeconds, 0).UTC()
			}
		}
		contests = append(contests, contest)

		updated := h.now()
		if ch.RatingUpdateTimeSeconds > 0 {
			updated = time.Unix(ch.RatingUpdateTimeSeconds, 0).UTC()
		}
		entries = append(entries, models.UserContest{
			Handle:      handle,
			ContestID:   ch.ContestID,
			ContestName: contest.Name,
			Rank:        ch.Rank,
			OldRating:   ch.OldRating,
			NewRating:   ch.NewRating,
			UpdatedAt:   updated,
		})
	}

	if err := h.store.UpsertContests(ctx, contests); err != nil {
		return err
	}
	if err := h.store.UpsertUserContests(ctx, entries); err != nil {
		return err
	}

	h.logger.Info().Str("handle", handle).Int("contests", len(entries)).Msg("contest data synced")
	return nil
}

func (h *Handlers) syncRecommendations(ctx context.Context, p models.Payload) error {
	handle, err := requireString(p, "handle")
	if err != nil {
		return err
	}
	minRating, maxRating := p.GetInt64("min_rating"), p.GetInt64("max_rating")
	if minRating < 0 || maxRating <= 0 || minRating > maxRating {
		return permanentf("invalid rating window [%d, %d]", minRating, maxRating)
	}

	subs, err := h.upstream.UserStatus(ctx, handle)
	if err != nil {
		return err
	}
	solved := make(map[string]bool)
	for _, s := range subs {
		if s.Accepted() {
			solved[s.Problem.Key()] = true
		}
	}

	problems, err := h.upstream.Problems(ctx)
	if err != nil {
		return err
	}

	recs := make([]models.Recommendation, 0, models.RecommendationLimit)
	for _, pr := range problems {
		if len(recs) == models.RecommendationLimit {
			break
		}
		if pr.Rating < minRating || pr.Rating > maxRating || solved[pr.Key()] {
			continue
		}
		recs = append(recs, models.Recommendation{
			Handle:    handle,
			ContestID: pr.ContestID,
			Index:     pr.Index,
			Name:      pr.Name,
			Rating:    pr.Rating,
			Tags:      pr.Tags,
		})
	}

	if err := h.store.ReplaceRecommendations(ctx, handle, recs); err != nil {
		return err
	}

	h.logger.Info().Str("handle", handle).Int("problems", len(recs)).Msg("recommendations synced")
	return nil
}

func (h *Handlers) syncLeaderboard(ctx context.Context, p models.Payload) error {
	college, err := requireString(p, "college")
	if err != nil {
		return err
	}
	var handles []string
	for _, handle := range p.GetStrings("handles") {
		if handle = strings.TrimSpace(handle); handle != "" {
			handles = append(handles, handle)
		}
	}
	if len(handles) == 0 {
		return permanentf("payload field %q is required", "handles")
	}

	users, err := h.leaderboardUsers(ctx, college, handles)
	if err != nil {
		return err
	}

	sort.SliceStable(users, func(i, j int) bool {
		if users[i].Rating != users[j].Rating {
			return users[i].Rating > users[j].Rating
		}
		return strings.ToLower(users[i].Handle) < strings.ToLower(users[j].Handle)
	})

	now := h.now()
	entries := make([]models.LeaderboardEntry, 0, len(users))
	for i, u := range users {
		entries = append(entries, models.LeaderboardEntry{
			College:  college,
			Position: i + 1,
			Handle:   u.Handle,
			Rating:   u.Rating,
			Rank:     u.Rank,
			SyncedAt: now,
		})
	}

	if err := h.store.ReplaceLeaderboard(ctx, college, entries); err != nil {
		return err
	}

	h.logger.Info().Str("college", college).Int("entries", len(entries)).Msg("leaderboard synced")
	return nil
}

// leaderboardUsers fetches profiles in one batch, dropping handles the
// upstream reports as unknown and retrying with the rest.
func (h *Handlers) leaderboardUsers(ctx context.Context, college string, handles []string) ([]codeforces.User, error) {
	for len(handles) > 0 {
		users, err := h.upstream.UserInfo(ctx, handles...)
		if err == nil {
			return users, nil
		}
		missing, ok := codeforces.MissingHandle(err)
		if !ok {
			return nil, err
		}
		kept := handles[:0:0]
		for _, handle := range handles {
			if !strings.EqualFold(handle, missing) {
				kept = append(kept, handle)
			}
		}
		if len(kept) == len(handles) {
			return nil, err
		}
		h.logger.Warn().Str("college", college).Str("handle", missing).Msg("dropping unknown handle from leaderboard")
		handles = kept
	}
	return nil, permanentf("no known handles for college %s", college)
}

func (h *Handlers) syncVerification(ctx context.Context, p models.Payload) error {
	handle, err := requireString(p, "handle")
	if err != nil {
		return err
	}
	token, err := requireString(p, "token")
	if err != nil {
		return err
	}

	u, err := h.fetchUser(ctx, handle)
	if err != nil {
		return err
	}

	verified := strings.TrimSpace(u.FirstName) == token || strings.TrimSpace(u.Organization) == token
	v := &models.Verification{
		Handle:    u.Handle,
		Token:     token,
		Verified:  verified,
		CheckedAt: h.now(),
	}
	if err := h.store.UpsertVerification(ctx, v); err != nil {
		return err
	}

	h.logger.Info().Str("handle", u.Handle).Bool("verified", verified).Msg("verification checked")
	return nil
}
