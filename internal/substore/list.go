package substore

import (
	"github.com/normal-oj/submissions/api"
	"github.com/normal-oj/submissions/internal/permgate"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/pkg/errs"
)

// ListFilter narrows and pages the submission listing. A nil field means "any".
type ListFilter struct {
	ProblemID *int
	Owner     *string
	Status    *subm.Status
	Language  *string

	Offset int
	Count  int
}

// List returns submission summaries, newest first. Students are always scoped
// to their own submissions regardless of the owner filter; admins and
// teachers may list anyone's.
func (s *Store) List(filter ListFilter, actor permgate.Actor) (*api.SubmissionListResp, error) {
	if filter.Offset < 0 {
		return nil, errs.New(errs.KindInvalidArgument, "offset must not be negative, got %d", filter.Offset)
	}
	if filter.Count < 0 {
		return nil, errs.New(errs.KindInvalidArgument, "count must not be negative, got %d", filter.Count)
	}
	if actor.Role != permgate.RoleAdmin && actor.Role != permgate.RoleTeacher {
		self := actor.User
		filter.Owner = &self
	}

	s.orderMu.RLock()
	ids := append([]string(nil), s.order...)
	s.orderMu.RUnlock()

	matched := make([]api.SubmissionSummary, 0)
	// newest first
	for i := len(ids) - 1; i >= 0; i-- {
		e, ok := s.subs.Load(ids[i])
		if !ok {
			continue
		}
		e.mu.Lock()
		sub := e.sub
		if matches(sub, filter) {
			matched = append(matched, api.SubmissionSummary{
				ID:        sub.ID,
				ProblemID: sub.ProblemID,
				User:      sub.Owner,
				Language:  sub.Language,
				Kind:      string(sub.Kind),
				Timestamp: sub.CreatedAt.Unix(),
				Status:    string(sub.Status),
				Score:     sub.Score,
			})
		}
		e.mu.Unlock()
	}

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Count > 0 && start+filter.Count < end {
		end = start + filter.Count
	}

	return &api.SubmissionListResp{
		Submissions: matched[start:end],
		Total:       total,
	}, nil
}

func matches(sub *subm.Submission, f ListFilter) bool {
	if f.ProblemID != nil && sub.ProblemID != *f.ProblemID {
		return false
	}
	if f.Owner != nil && sub.Owner != *f.Owner {
		return false
	}
	if f.Status != nil && sub.Status != *f.Status {
		return false
	}
	if f.Language != nil && sub.Language != *f.Language {
		return false
	}
	return true
}
