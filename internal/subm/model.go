// Package subm holds the domain model shared by the submission subsystem:
// submission records, task results, verdict/status codes and per-problem
// configuration.
package subm

import (
	"time"
)

// Status is the lifecycle state of a submission. Terminal statuses double as
// the overall verdict, mirroring the platform's status table.
type Status string

const (
	StatusPending Status = "PD"
	StatusJudging Status = "JD"

	StatusAccepted            Status = "AC"
	StatusWrongAnswer         Status = "WA"
	StatusCompileError        Status = "CE"
	StatusTimeLimitExceeded   Status = "TLE"
	StatusMemoryLimitExceeded Status = "MLE"
	StatusRuntimeError        Status = "RE"
	StatusOutputLimitExceeded Status = "OLE"
	StatusJudgeError          Status = "JE"
)

// Terminal reports whether a status is final. State transitions are monotonic:
// once a submission reaches a terminal status it never leaves it.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusJudging
}

// Kind distinguishes how the payload of a submission is interpreted.
type Kind string

const (
	KindSource      Kind = "source"
	KindArchive     Kind = "archive"
	KindHandwritten Kind = "handwritten"
)

func (k Kind) Valid() bool {
	return k == KindSource || k == KindArchive || k == KindHandwritten
}

// OutputKind selects which grading output payload is addressed.
type OutputKind string

const (
	OutputStdout        OutputKind = "stdout"
	OutputStderr        OutputKind = "stderr"
	OutputDiff          OutputKind = "diff"
	OutputCustomChecker OutputKind = "customChecker"
)

func (k OutputKind) Valid() bool {
	switch k {
	case OutputStdout, OutputStderr, OutputDiff, OutputCustomChecker:
		return true
	}
	return false
}

// TaskResult is one test task's outcome within a submission. The case count is
// fixed at test-case ingestion time for a given bundle revision.
type TaskResult struct {
	TaskIndex int
	Verdict   Status
	// CasesPassed has one entry per case, in case order.
	CasesPassed []bool
}

// Equal reports whether two task results carry identical content. Used to make
// result ingestion idempotent per task index.
func (t TaskResult) Equal(o TaskResult) bool {
	if t.TaskIndex != o.TaskIndex || t.Verdict != o.Verdict {
		return false
	}
	if len(t.CasesPassed) != len(o.CasesPassed) {
		return false
	}
	for i := range t.CasesPassed {
		if t.CasesPassed[i] != o.CasesPassed[i] {
			return false
		}
	}
	return true
}

// Submission is one graded attempt. The ID is immutable once assigned and the
// record is never physically deleted.
type Submission struct {
	ID          string
	ProblemID   int
	Owner       string
	Language    string
	Kind        Kind
	CreatedAt   time.Time
	Status      Status
	Tasks       []TaskResult
	Score       int
	QuotaWindow string
}

// Clone returns a deep copy so that store snapshots cannot be mutated by
// callers.
func (s *Submission) Clone() *Submission {
	c := *s
	c.Tasks = make([]TaskResult, len(s.Tasks))
	for i, t := range s.Tasks {
		ct := t
		ct.CasesPassed = append([]bool(nil), t.CasesPassed...)
		c.Tasks[i] = ct
	}
	return &c
}
