// Package natspub publishes submission lifecycle events to NATS subjects.
package natspub

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/normal-oj/submissions/internal/subm"
)

const (
	MsgTypeSubmissionCreated   = "submission_created"
	MsgTypeSubmissionFinalized = "submission_finalized"
)

type Header struct {
	SubmissionID string `json:"submission_id"`
	MsgType      string `json:"msg_type"`
}

type SubmissionCreated struct {
	Header
	ProblemID int    `json:"problem_id"`
	User      string `json:"user"`
	Language  string `json:"language"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
}

type SubmissionFinalized struct {
	Header
	ProblemID int    `json:"problem_id"`
	User      string `json:"user"`
	Status    string `json:"status"`
	Score     int    `json:"score"`
}

type natsPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// New creates a publisher that pushes lifecycle events to the given subject.
func New(nc *nats.Conn, subject string, logger *slog.Logger) *natsPublisher {
	return &natsPublisher{nc: nc, subject: subject, logger: logger}
}

func (p *natsPublisher) SubmissionCreated(s *subm.Submission) {
	p.send(SubmissionCreated{
		Header:    Header{SubmissionID: s.ID, MsgType: MsgTypeSubmissionCreated},
		ProblemID: s.ProblemID,
		User:      s.Owner,
		Language:  s.Language,
		Kind:      string(s.Kind),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	})
}

func (p *natsPublisher) SubmissionFinalized(s *subm.Submission) {
	p.send(SubmissionFinalized{
		Header:    Header{SubmissionID: s.ID, MsgType: MsgTypeSubmissionFinalized},
		ProblemID: s.ProblemID,
		User:      s.Owner,
		Status:    string(s.Status),
		Score:     s.Score,
	})
}

func (p *natsPublisher) send(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to marshal event", slog.Any("error", err))
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.logger.Error("failed to publish event", slog.Any("error", err))
	}
}
