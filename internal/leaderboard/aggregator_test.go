package leaderboard

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func candidate(saveID, userID, playthroughID string, score int64, offset time.Duration) Candidate {
	return Candidate{
		SaveID:        saveID,
		UserID:        userID,
		PlaythroughID: playthroughID,
		WeightedScore: score,
		RawDays:       score,
		CreatedOn:     baseTime.Add(offset),
	}
}

func TestRank(t *testing.T) {
	Convey("Given saves of one achievement", t, func() {
		Convey("Only the best save of a playthrough is ranked", func() {
			entries := Rank([]Candidate{
				candidate("a", "u1", "p1", 500, 0),
				candidate("b", "u1", "p1", 300, time.Hour),
				candidate("c", "u1", "p1", 700, 2*time.Hour),
			})
			So(entries, ShouldHaveLength, 1)
			So(entries[0].SaveID, ShouldEqual, "b")
			So(entries[0].WeightedScore, ShouldEqual, 300)
			So(entries[0].Rank, ShouldEqual, 1)
		})

		Convey("Survivors are ordered by score ascending", func() {
			entries := Rank([]Candidate{
				candidate("a", "u1", "p1", 900, 0),
				candidate("b", "u2", "p2", 100, 0),
				candidate("c", "u3", "p3", 400, 0),
			})
			So(entries, ShouldHaveLength, 3)
			So([]string{entries[0].SaveID, entries[1].SaveID, entries[2].SaveID}, ShouldResemble, []string{"b", "c", "a"})
			So([]int{entries[0].Rank, entries[1].Rank, entries[2].Rank}, ShouldResemble, []int{1, 2, 3})
		})

		Convey("Equal scores are broken by earliest commit then save id", func() {
			entries := Rank([]Candidate{
				candidate("z", "u1", "p1", 100, time.Minute),
				candidate("y", "u2", "p2", 100, 0),
				candidate("x", "u3", "p3", 100, time.Minute),
			})
			So([]string{entries[0].SaveID, entries[1].SaveID, entries[2].SaveID}, ShouldResemble, []string{"y", "x", "z"})
		})

		Convey("Equal scores within a playthrough keep the earliest save", func() {
			entries := Rank([]Candidate{
				candidate("late", "u1", "p1", 100, time.Hour),
				candidate("early", "u1", "p1", 100, 0),
			})
			So(entries, ShouldHaveLength, 1)
			So(entries[0].SaveID, ShouldEqual, "early")
		})

		Convey("No saves yields an empty board", func() {
			So(Rank(nil), ShouldBeEmpty)
		})
	})
}

func TestTallyMedals(t *testing.T) {
	Convey("Given ranked boards", t, func() {
		boards := map[int][]Entry{
			1: Rank([]Candidate{
				candidate("1a", "alice", "pa", 100, 0),
				candidate("1b", "bob", "pb", 200, 0),
				candidate("1c", "carol", "pc", 300, 0),
				candidate("1d", "dave", "pd", 400, 0),
			}),
			2: Rank([]Candidate{
				candidate("2a", "bob", "pb", 100, 0),
				candidate("2b", "alice", "pa", 200, 0),
			}),
			3: Rank([]Candidate{
				candidate("3a", "alice", "pa2", 50, 0),
				candidate("3b", "carol", "pc", 60, 0),
				candidate("3c", "bob", "pb", 70, 0),
			}),
		}

		Convey("Users are ordered by gold, silver, then bronze", func() {
			table := TallyMedals(boards, 10)
			So(table, ShouldHaveLength, 3)
			So(table[0], ShouldResemble, MedalCount{UserID: "alice", Gold: 2, Silver: 1})
			So(table[1], ShouldResemble, MedalCount{UserID: "bob", Gold: 1, Silver: 1, Bronze: 1})
			So(table[2], ShouldResemble, MedalCount{UserID: "carol", Silver: 1, Bronze: 1})
		})

		Convey("Positions beyond third earn nothing", func() {
			for _, row := range TallyMedals(boards, 10) {
				So(row.UserID, ShouldNotEqual, "dave")
			}
		})

		Convey("The table is capped to the page size", func() {
			table := TallyMedals(boards, 2)
			So(table, ShouldHaveLength, 2)
			So(table[1].UserID, ShouldEqual, "bob")
		})

		Convey("Identical tallies fall back to user id order", func() {
			table := TallyMedals(map[int][]Entry{
				1: Rank([]Candidate{candidate("a", "zed", "p1", 1, 0)}),
				2: Rank([]Candidate{candidate("b", "amy", "p2", 1, 0)}),
			}, 10)
			So(table[0].UserID, ShouldEqual, "amy")
			So(table[1].UserID, ShouldEqual, "zed")
		})

		Convey("Many saves of one playthrough count once", func() {
			table := TallyMedals(map[int][]Entry{
				1: Rank([]Candidate{
					candidate("a", "grinder", "p1", 10, 0),
					candidate("b", "grinder", "p1", 11, 0),
					candidate("c", "grinder", "p1", 12, 0),
					candidate("d", "rival", "p2", 20, 0),
				}),
			}, 10)
			So(table, ShouldHaveLength, 2)
			So(table[0], ShouldResemble, MedalCount{UserID: "grinder", Gold: 1})
			So(table[1], ShouldResemble, MedalCount{UserID: "rival", Silver: 1})
		})
	})
}
