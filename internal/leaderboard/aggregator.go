// Package leaderboard ranks committed saves per achievement and tallies medals.
package leaderboard

import (
	"sort"
	"time"
)

// Candidate is one save that satisfies an achievement.
type Candidate struct {
	SaveID          string
	UserID          string
	UserDisplayName string
	PlaythroughID   string
	GameDate        string
	Patch           string
	Difficulty      string
	Tag             string
	WeightedScore   int64
	RawDays         int64
	CreatedOn       time.Time
}

// Entry is one ranked row of an achievement leaderboard.
type Entry struct {
	Rank            int       `json:"rank"`
	SaveID          string    `json:"save_id"`
	UserID          string    `json:"user_id"`
	UserDisplayName string    `json:"user_display_name"`
	GameDate        string    `json:"game_date"`
	Patch           string    `json:"patch"`
	Difficulty      string    `json:"difficulty"`
	Tag             string    `json:"tag"`
	WeightedScore   int64     `json:"weighted_score"`
	RawDays         int64     `json:"raw_days"`
	CreatedOn       time.Time `json:"created_on"`
}

// MedalCount is one row of the medal table.
type MedalCount struct {
	UserID          string `json:"user_id"`
	UserDisplayName string `json:"user_display_name"`
	Gold            int    `json:"gold"`
	Silver          int    `json:"silver"`
	Bronze          int    `json:"bronze"`
}

// before orders candidates by score, then commit time, then save id.
func before(left, right Candidate) bool {
	if left.WeightedScore != right.WeightedScore {
		return left.WeightedScore < right.WeightedScore
	}
	if !left.CreatedOn.Equal(right.CreatedOn) {
		return left.CreatedOn.Before(right.CreatedOn)
	}
	return left.SaveID < right.SaveID
}

// Rank keeps the best save of every playthrough and orders the survivors.
func Rank(candidates []Candidate) []Entry {
	best := make(map[string]Candidate, len(candidates))
	for _, candidate := range candidates {
		current, seen := best[candidate.PlaythroughID]
		if !seen || before(candidate, current) {
			best[candidate.PlaythroughID] = candidate
		}
	}

	survivors := make([]Candidate, 0, len(best))
	for _, candidate := range best {
		survivors = append(survivors, candidate)
	}
	sort.Slice(survivors, func(i, j int) bool {
		return before(survivors[i], survivors[j])
	})

	entries := make([]Entry, len(survivors))
	for index, candidate := range survivors {
		entries[index] = Entry{
			Rank:            index + 1,
			SaveID:          candidate.SaveID,
			UserID:          candidate.UserID,
			UserDisplayName: candidate.UserDisplayName,
			GameDate:        candidate.GameDate,
			Patch:           candidate.Patch,
			Difficulty:      candidate.Difficulty,
			Tag:             candidate.Tag,
			WeightedScore:   candidate.WeightedScore,
			RawDays:         candidate.RawDays,
			CreatedOn:       candidate.CreatedOn,
		}
	}
	return entries
}

// TallyMedals counts podium finishes across ranked boards. Only the first
// three entries of each board earn a medal.
func TallyMedals(boards map[int][]Entry, pageSize int) []MedalCount {
	counts := make(map[string]*MedalCount)
	for _, entries := range boards {
		for index, entry := range entries {
			if index >= 3 {
				break
			}
			count, ok := counts[entry.UserID]
			if !ok {
				count = &MedalCount{UserID: entry.UserID, UserDisplayName: entry.UserDisplayName}
				counts[entry.UserID] = count
			}
			if count.UserDisplayName == "" {
				count.UserDisplayName = entry.UserDisplayName
			}
			switch index {
			case 0:
				count.Gold++
			case 1:
				count.Silver++
			case 2:
				count.Bronze++
			}
		}
	}

	table := make([]MedalCount, 0, len(counts))
	for _, count := range counts {
		table = append(table, *count)
	}
	sort.Slice(table, func(i, j int) bool {
		left, right := table[i], table[j]
		if left.Gold != right.Gold {
			return left.Gold > right.Gold
		}
		if left.Silver != right.Silver {
			return left.Silver > right.Silver
		}
		if left.Bronze != right.Bronze {
			return left.Bronze > right.Bronze
		}
		return left.UserID < right.UserID
	})
	if pageSize > 0 && len(table) > pageSize {
		table = table[:pageSize]
	}
	return table
}
