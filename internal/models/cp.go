package models

import "time"

// CPUser is the stored profile of a linked competitive programming handle.
type CPUser struct {
	Handle       string    `json:"handle"`
	FirstName    string    `json:"first_name,omitempty"`
	Organization string    `json:"organization,omitempty"`
	Rating       int64     `json:"rating"`
	MaxRating    int64     `json:"max_rating"`
	Rank         string    `json:"rank"`
	MaxRank      string    `json:"max_rank"`
	Contribution int64     `json:"contribution"`
	SyncedAt     time.Time `json:"synced_at"`
}

type Contest struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Phase           string    `json:"phase"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// UserContest is one rating change of a handle.
type UserContest struct {
	Handle      string    `json:"handle"`
	ContestID   int64     `json:"contest_id"`
	ContestName string    `json:"contest_name"`
	Rank        int64     `json:"rank"`
	OldRating   int64     `json:"old_rating"`
	NewRating   int64     `json:"new_rating"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Recommendation struct {
	Handle    string   `json:"handle"`
	ContestID int64    `json:"contest_id"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    int64    `json:"rating"`
	Tags      []string `json:"tags"`
}

type LeaderboardEntry struct {
	College  string    `json:"college"`
	Position int       `json:"position"`
	Handle   string    `json:"handle"`
	Rating   int64     `json:"rating"`
	Rank     string    `json:"rank"`
	SyncedAt time.Time `json:"synced_at"`
}

type Verification struct {
	Handle    string    `json:"handle"`
	Token     string    `json:"token"`
	Verified  bool      `json:"verified"`
	CheckedAt time.Time `json:"checked_at"`
}
