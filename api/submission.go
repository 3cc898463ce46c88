// Package api holds the wire types of the submission subsystem's HTTP surface
// and of the messages exchanged with the grading pipeline.
package api

// CreateSubmissionReq is the body of POST /submission. Language may be empty
// for handwritten submissions only; the store enforces that rule.
type CreateSubmissionReq struct {
	ProblemID int    `json:"problem_id" validate:"required"`
	Language  string `json:"language"`
	Kind      string `json:"kind" validate:"required,oneof=source archive handwritten"`
	Payload   []byte `json:"payload"`
}

// CaseView is one test case's outcome within a task. Outputs maps output kind
// to a retrieval path; it is null when the actor may not view raw outputs.
type CaseView struct {
	Passed  bool              `json:"passed"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

type TaskResultView struct {
	TaskIndex int        `json:"task_index"`
	Verdict   string     `json:"verdict"`
	Cases     []CaseView `json:"cases"`
}

// SubmissionView is the field-gated serialization of a submission. Denied
// fields are omitted, except task outputs which are nulled inside Cases.
type SubmissionView struct {
	ID          string `json:"id"`
	ProblemID   int    `json:"problem_id"`
	User        string `json:"user"`
	Language    string `json:"language"`
	Kind        string `json:"kind"`
	Timestamp   int64  `json:"timestamp"`
	Status      string `json:"status"`
	Score       int    `json:"score"`
	QuotaWindow string `json:"quota_window"`

	Tasks []TaskResultView `json:"tasks"`

	// Code carries inline source when visible. Archive submissions never
	// expose code: entitled actors get CodeDownloadURL instead.
	Code            *string `json:"code,omitempty"`
	CodeDownloadURL *string `json:"codeDownloadUrl,omitempty"`
}

// SubmissionSummary is the List element: metadata only, never payloads.
type SubmissionSummary struct {
	ID        string `json:"id"`
	ProblemID int    `json:"problem_id"`
	User      string `json:"user"`
	Language  string `json:"language"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`
	Score     int    `json:"score"`
}

type SubmissionListResp struct {
	Submissions []SubmissionSummary `json:"submissions"`
	Total       int                 `json:"total"`
}
