package domain

// LevelThresholds[i] is the total XP needed for level i+1.
var LevelThresholds = []int64{0, 100, 250, 500, 1000, 2000, 3500, 5500, 8000, 12000}

const MaxLevel = 10

// LevelForXP returns the highest level whose threshold xp reaches.
func LevelForXP(xp int64) int {
	level := 1
	for i, need := range LevelThresholds {
		if xp >= need {
			level = i + 1
		}
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// LevelProgress describes the position between two thresholds.
type LevelProgress struct {
	Level       int   `json:"level"`
	XP          int64 `json:"xp"`
	CurrentBase int64 `json:"current_base"`
	NextAt      int64 `json:"next_at,omitempty"`
	MaxReached  bool  `json:"max_reached"`
}

func ProgressForXP(xp int64) LevelProgress {
	lvl := LevelForXP(xp)
	p := LevelProgress{Level: lvl, XP: xp, CurrentBase: LevelThresholds[lvl-1]}
	if lvl >= MaxLevel {
		p.MaxReached = true
		return p
	}
	p.NextAt = LevelThresholds[lvl]
	return p
}
