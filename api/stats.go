package api

// StatsSnapshot is derived from the full submission set of a problem; it is
// never persisted authoritatively.
type StatsSnapshot struct {
	AcceptedUserCount    int            `json:"accepted_user_count"`
	SubmitterCount       int            `json:"submitter_count"`
	StatusCount          map[string]int `json:"status_count"`
	LanguageDistribution map[string]int `json:"language_distribution"`
}

// LeaderboardRow ranks one owner by their best score; Achieved is when that
// score was first reached.
type LeaderboardRow struct {
	User     string `json:"user"`
	Score    int    `json:"score"`
	Achieved int64  `json:"achieved"`
}

type LeaderboardResp struct {
	Rows []LeaderboardRow `json:"rows"`
}

type PassRateResp struct {
	TaskIndex int     `json:"task_index"`
	CaseIndex int     `json:"case_index"`
	Attempts  int     `json:"attempts"`
	PassRate  float64 `json:"pass_rate"`
}
