// Package events announces submission lifecycle changes to the rest of the
// platform (the grading dispatcher listens for created submissions, the
// notification service for finalized ones).
package events

import (
	"github.com/normal-oj/submissions/internal/subm"
)

type Publisher interface {
	SubmissionCreated(s *subm.Submission)
	SubmissionFinalized(s *subm.Submission)
}

// Noop discards all events. Used in tests and when no broker is configured.
type Noop struct{}

func (Noop) SubmissionCreated(*subm.Submission)   {}
func (Noop) SubmissionFinalized(*subm.Submission) {}
