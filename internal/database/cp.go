package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cptrack/internal/models"
)

func (db *DB) UpsertCPUser(ctx context.Context, user *models.CPUser) error {
	if user.SyncedAt.IsZero() {
		user.SyncedAt = time.Now()
	}
	query := `INSERT INTO cp_users (handle, first_name, organization, rating, max_rating, rank, max_rank, contribution, synced_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(handle) DO UPDATE SET
                handle = excluded.handle,
                first_name = excluded.first_name,
                organization = excluded.organization,
                rating = excluded.rating,
                max_rating = excluded.max_rating,
                rank = excluded.rank,
                max_rank = excluded.max_rank,
                contribution = excluded.contribution,
                synced_at = excluded.synced_at`
	_, err := db.ExecContext(ctx, query,
		user.Handle,
		user.FirstName,
		user.Organization,
		user.Rating,
		user.MaxRating,
		user.Rank,
		user.MaxRank,
		user.Contribution,
		user.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cp user %s: %w", user.Handle, err)
	}
	return nil
}

func (db *DB) GetCPUser(ctx context.Context, handle string) (*models.CPUser, error) {
	query := `SELECT handle, first_name, organization, rating, max_rating, rank, max_rank, contribution, synced_at
              FROM cp_users WHERE handle = ?`
	var u models.CPUser
	err := db.QueryRowContext(ctx, query, handle).Scan(
		&u.Handle, &u.FirstName, &u.Organization, &u.Rating, &u.MaxRating,
		&u.Rank, &u.MaxRank, &u.Contribution, &u.SyncedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cp user %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cp user %s: %w", handle, err)
	}
	return &u, nil
}

// ListHandles returns every stored handle in alphabetical order.
func (db *DB) ListHandles(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT handle FROM cp_users ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("failed to list handles: %w", err)
	}
	defer rows.Close()

	var handles []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, rows.Err()
}

// ListHandlesByOrganization returns the handles whose profile names org.
func (db *DB) ListHandlesByOrganization(ctx context.Context, org string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT handle FROM cp_users WHERE organization = ? COLLATE NOCASE ORDER BY handle`, org)
	if err != nil {
		return nil, fmt.Errorf("failed to list handles of %s: %w", org, err)
	}
	defer rows.Close()

	var handles []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, rows.Err()
}

func (db *DB) UpsertContests(ctx context.Context, contests []models.Contest) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO cp_contests (id, name, phase, start_time, duration_seconds)
              VALUES (?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                phase = excluded.phase,
                start_time = excluded.start_time,
                duration_seconds = excluded.duration_seconds`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range contests {
			if _, err := stmt.ExecContext(ctx, c.ID, c.Name, c.Phase, c.StartTime, c.DurationSeconds); err != nil {
				return fmt.Errorf("contest %d: %w", c.ID, err)
			}
		}
		return nil
	})
}

func (db *DB) GetContest(ctx context.Context, id int64) (*models.Contest, error) {
	var c models.Contest
	var start sql.NullTime
	err := db.QueryRowContext(ctx, `SELECT id, name, phase, start_time, duration_seconds FROM cp_contests WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Phase, &start, &c.DurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contest %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contest %d: %w", id, err)
	}
	c.StartTime = start.Time
	return &c, nil
}

func (db *DB) UpsertUserContests(ctx context.Context, entries []models.UserContest) error {
	now := time.Now()
	return db.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO cp_user_contests (handle, contest_id, contest_name, rank, old_rating, new_rating, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(handle, contest_id) DO UPDATE SET
                contest_name = excluded.contest_name,
                rank = excluded.rank,
                old_rating = excluded.old_rating,
                new_rating = excluded.new_rating,
                updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			updated := e.UpdatedAt
			if updated.IsZero() {
				updated = now
			}
			if _, err := stmt.ExecContext(ctx, e.Handle, e.ContestID, e.ContestName, e.Rank, e.OldRating, e.NewRating, updated); err != nil {
				return fmt.Errorf("user contest %s/%d: %w", e.Handle, e.ContestID, err)
			}
		}
		return nil
	})
}

// ListUserContests returns the rating history of handle, oldest contest first.
func (db *DB) ListUserContests(ctx context.Context, handle string) ([]models.UserContest, error) {
	query := `SELECT handle, contest_id, contest_name, rank, old_rating, new_rating, updated_at
              FROM cp_user_contests WHERE handle = ? ORDER BY contest_id ASC`
	rows, err := db.QueryContext(ctx, query, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to list contests of %s: %w", handle, err)
	}
	defer rows.Close()

	var out []models.UserContest
	for rows.Next() {
		var e models.UserContest
		if err := rows.Scan(&e.Handle, &e.ContestID, &e.ContestName, &e.Rank, &e.OldRating, &e.NewRating, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplaceRecommendations swaps the stored recommendation list of handle.
func (db *DB) ReplaceRecommendations(ctx context.Context, handle string, recs []models.Recommendation) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cp_recommendations WHERE handle = ?`, handle); err != nil {
			return err
		}
		for i, r := range recs {
			_, err := tx.ExecContext(ctx, `INSERT INTO cp_recommendations (handle, contest_id, problem_index, name, rating, tags, position)
                  VALUES (?, ?, ?, ?, ?, ?, ?)`,
				handle, r.ContestID, r.Index, r.Name, r.Rating, strings.Join(r.Tags, ","), i+1)
			if err != nil {
				return fmt.Errorf("recommendation %d%s: %w", r.ContestID, r.Index, err)
			}
		}
		return nil
	})
}

func (db *DB) ListRecommendations(ctx context.Context, handle string) ([]models.Recommendation, error) {
	query := `SELECT handle, contest_id, problem_index, name, rating, tags
              FROM cp_recommendations WHERE handle = ? ORDER BY position ASC`
	rows, err := db.QueryContext(ctx, query, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations of %s: %w", handle, err)
	}
	defer rows.Close()

	var out []models.Recommendation
	for rows.Next() {
		var r models.Recommendation
		var tags string
		if err := rows.Scan(&r.Handle, &r.ContestID, &r.Index, &r.Name, &r.Rating, &tags); err != nil {
			return nil, err
		}
		if tags != "" {
			r.Tags = strings.Split(tags, ",")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceLeaderboard swaps the stored standings of college.
func (db *DB) ReplaceLeaderboard(ctx context.Context, college string, entries []models.LeaderboardEntry) error {
	now := time.Now()
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cp_leaderboard WHERE college = ?`, college); err != nil {
			return err
		}
		for _, e := range entries {
			synced := e.SyncedAt
			if synced.IsZero() {
				synced = now
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO cp_leaderboard (college, handle, position, rating, rank, synced_at)
                  VALUES (?, ?, ?, ?, ?, ?)`,
				college, e.Handle, e.Position, e.Rating, e.Rank, synced)
			if err != nil {
				return fmt.Errorf("leaderboard %s/%s: %w", college, e.Handle, err)
			}
		}
		return nil
	})
}

func (db *DB) GetLeaderboard(ctx context.Context, college string) ([]models.LeaderboardEntry, error) {
	query := `SELECT college, position, handle, rating, rank, synced_at
              FROM cp_leaderboard WHERE college = ? ORDER BY position ASC`
	rows, err := db.QueryContext(ctx, query, college)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard %s: %w", college, err)
	}
	defer rows.Close()

	var out []models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(&e.College, &e.Position, &e.Handle, &e.Rating, &e.Rank, &e.SyncedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) UpsertVerification(ctx context.Context, v *models.Verification) error {
	if v.CheckedAt.IsZero() {
		v.CheckedAt = time.Now()
	}
	query := `INSERT INTO cp_verifications (handle, token, verified, checked_at)
              VALUES (?, ?, ?, ?)
              ON CONFLICT(handle) DO UPDATE SET
                token = excluded.token,
                verified = excluded.verified,
                checked_at = excluded.checked_at`
	if _, err := db.ExecContext(ctx, query, v.Handle, v.Token, v.Verified, v.CheckedAt); err != nil {
		return fmt.Errorf("failed to upsert verification %s: %w", v.Handle, err)
	}
	return nil
}

func (db *DB) GetVerification(ctx context.Context, handle string) (*models.Verification, error) {
	var v models.Verification
	err := db.QueryRowContext(ctx, `SELECT handle, token, verified, checked_at FROM cp_verifications WHERE handle = ?`, handle).
		Scan(&v.Handle, &v.Token, &v.Verified, &v.CheckedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("verification %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification %s: %w", handle, err)
	}
	return &v, nil
}

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	return tx.Commit()
}
