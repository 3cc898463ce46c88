// Package stats derives aggregate numbers from the submission set of a
// problem. Nothing here is authoritative state: every call recomputes from a
// store snapshot and is eventually consistent with in-flight submissions.
package stats

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/normal-oj/submissions/api"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/pkg/errs"
)

// SubmissionSource yields every submission of a problem, oldest first.
type SubmissionSource interface {
	ForProblem(problemID int) []*subm.Submission
}

type Aggregator struct {
	source SubmissionSource
}

func NewAggregator(source SubmissionSource) *Aggregator {
	return &Aggregator{source: source}
}

// Snapshot computes the problem's headline numbers in one pass.
func (a *Aggregator) Snapshot(problemID int) *api.StatsSnapshot {
	subs := a.source.ForProblem(problemID)

	accepted := mapset.NewSet[string]()
	submitters := mapset.NewSet[string]()
	statusCount := make(map[string]int)
	langDist := make(map[string]int)

	for _, s := range subs {
		submitters.Add(s.Owner)
		if s.Status == subm.StatusAccepted {
			accepted.Add(s.Owner)
		}
		statusCount[string(s.Status)]++
		if s.Language != "" {
			langDist[s.Language]++
		}
	}

	return &api.StatsSnapshot{
		AcceptedUserCount:    accepted.Cardinality(),
		SubmitterCount:       submitters.Cardinality(),
		StatusCount:          statusCount,
		LanguageDistribution: langDist,
	}
}

// PerCasePassRate is (submissions whose case passed) / (submissions that
// attempted the task). Zero attempts yield a zero rate rather than an error.
func (a *Aggregator) PerCasePassRate(problemID, taskIndex, caseIndex int) (*api.PassRateResp, error) {
	if taskIndex < 0 || caseIndex < 0 {
		return nil, errs.New(errs.KindInvalidArgument, "task and case indexes must not be negative")
	}

	attempts, passed := 0, 0
	for _, s := range a.source.ForProblem(problemID) {
		// placeholder slots for results that have not landed yet are not
		// attempts
		if taskIndex >= len(s.Tasks) || !s.Tasks[taskIndex].Verdict.Terminal() {
			continue
		}
		attempts++
		cases := s.Tasks[taskIndex].CasesPassed
		if caseIndex < len(cases) && cases[caseIndex] {
			passed++
		}
	}

	resp := &api.PassRateResp{
		TaskIndex: taskIndex,
		CaseIndex: caseIndex,
		Attempts:  attempts,
	}
	if attempts > 0 {
		resp.PassRate = float64(passed) / float64(attempts)
	}
	return resp, nil
}

// Leaderboard ranks distinct owners by best score, ties broken by who reached
// that score first and then by owner id for determinism. n <= 0 returns the
// whole board.
func (a *Aggregator) Leaderboard(problemID, n int) *api.LeaderboardResp {
	type best struct {
		score    int
		achieved int64
	}
	bests := make(map[string]best)

	// oldest first, so "first achieved" falls out of iteration order
	for _, s := range a.source.ForProblem(problemID) {
		if !s.Status.Terminal() {
			continue
		}
		b, seen := bests[s.Owner]
		if !seen || s.Score > b.score {
			bests[s.Owner] = best{score: s.Score, achieved: s.CreatedAt.Unix()}
		}
	}

	rows := make([]api.LeaderboardRow, 0, len(bests))
	for owner, b := range bests {
		rows = append(rows, api.LeaderboardRow{User: owner, Score: b.score, Achieved: b.achieved})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		if rows[i].Achieved != rows[j].Achieved {
			return rows[i].Achieved < rows[j].Achieved
		}
		return rows[i].User < rows[j].User
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return &api.LeaderboardResp{Rows: rows}
}
