package codeforces

// User is the user.info result row.
type User struct {
	Handle       string `json:"handle"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Organization string `json:"organization"`
	Rating       int64  `json:"rating"`
	MaxRating    int64  `json:"maxRating"`
	Rank         string `json:"rank"`
	MaxRank      string `json:"maxRank"`
	Contribution int64  `json:"contribution"`
}

// RatingChange is one user.rating result row.
type RatingChange struct {
	ContestID               int64  `json:"contestId"`
	ContestName             string `json:"contestName"`
	Handle                  string `json:"handle"`
	Rank                    int64  `json:"rank"`
	RatingUpdateTimeSeconds int64  `json:"ratingUpdateTimeSeconds"`
	OldRating               int64  `json:"oldRating"`
	NewRating               int64  `json:"newRating"`
}

type Contest struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Phase            string `json:"phase"`
	DurationSeconds  int64  `json:"durationSeconds"`
	StartTimeSeconds int64  `json:"startTimeSeconds"`
}

type Problem struct {
	ContestID int64    `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    int64    `json:"rating"`
	Tags      []string `json:"tags"`
}

// Key identifies a problem across contests.
func (p Problem) Key() string {
	return p.Index + "@" + itoa(p.ContestID)
}

type Submission struct {
	ID        int64   `json:"id"`
	ContestID int64   `json:"contestId"`
	Problem   Problem `json:"problem"`
	Verdict   string  `json:"verdict"`
}

// Accepted reports whether the submission solved its problem.
func (s Submission) Accepted() bool {
	return s.Verdict == "OK"
}

type problemset struct {
	Problems []Problem `json:"problems"`
}
