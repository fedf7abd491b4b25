package domain

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

const SeasonLength = 7 * 24 * time.Hour

type SeasonWinner struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Points   int64  `json:"points"`
	Rank     int    `json:"rank"`
}

// Season is one weekly scoring period. Finalized only moves false to true.
type Season struct {
	SeasonID    string         `db:"season_id" json:"season_id"`
	StartAt     time.Time      `db:"start_at" json:"start_at"`
	EndAt       time.Time      `db:"end_at" json:"end_at"`
	Finalized   bool           `db:"finalized" json:"finalized"`
	Winners     []SeasonWinner `json:"winners,omitempty"`
	FinalizedAt *time.Time     `db:"finalized_at" json:"finalized_at,omitempty"`
}

// ISOWeekID formats t's ISO week as "2025-W46".
func ISOWeekID(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// WeekWindow returns the UTC Monday 00:00 that starts t's week and the
// following Monday.
func WeekWindow(t time.Time) (time.Time, time.Time) {
	u := t.UTC()
	offset := (int(u.Weekday()) + 6) % 7
	start := time.Date(u.Year(), u.Month(), u.Day()-offset, 0, 0, 0, 0, time.UTC)
	return start, start.Add(SeasonLength)
}

// SeasonAt builds the season record covering t.
func SeasonAt(t time.Time) Season {
	start, end := WeekWindow(t)
	return Season{SeasonID: ISOWeekID(start), StartAt: start, EndAt: end}
}

// Next returns the season that starts when s ends.
func (s *Season) Next() Season {
	return Season{SeasonID: ISOWeekID(s.EndAt), StartAt: s.EndAt, EndAt: s.EndAt.Add(SeasonLength)}
}

func (s *Season) Ended(now time.Time) bool {
	return !s.EndAt.After(now)
}

// JobLock is a mutual-exclusion row for a scheduled job.
type JobLock struct {
	Key       string    `db:"key" json:"key"`
	Owner     string    `db:"owner" json:"owner"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func FinalizeLockKey(seasonID string) string {
	return "weekly_finalize::" + seasonID
}

type LeaderboardConfig struct {
	NumberOfWinners int       `db:"number_of_winners" json:"number_of_winners"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

func (c LeaderboardConfig) Validate() error {
	if c.NumberOfWinners < 1 || c.NumberOfWinners > 200 {
		return ErrInvalidInput
	}
	return nil
}

type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	WeeklyPoints int64  `json:"weekly_points"`
	Level        int    `json:"level"`
}

// RankByWeeklyPoints orders users by weekly points, highest first. Ties go
// to the lower user id.
func RankByWeeklyPoints(users []User) {
	slices.SortFunc(users, func(a, b User) int {
		if c := cmp.Compare(b.WeeklyPoints, a.WeeklyPoints); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

type RankInfo struct {
	SeasonID     string `json:"season_id"`
	Rank         int64  `json:"rank"`
	WeeklyPoints int64  `json:"weekly_points"`
}

// FinalizeResult reports one finalize run.
type FinalizeResult struct {
	SeasonID     string         `json:"season_id"`
	Winners      []SeasonWinner `json:"winners"`
	Payouts      []WinnerPayout `json:"payouts"`
	PaidMinor    int64          `json:"paid_minor"`
	UsersReset   int64          `json:"users_reset"`
	NextSeasonID string         `json:"next_season_id"`
	Forced       bool           `json:"forced"`
}
