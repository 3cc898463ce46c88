package substore

import (
	"context"
	"fmt"

	"github.com/normal-oj/submissions/api"
	"github.com/normal-oj/submissions/internal/permgate"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/pkg/errs"
)

// Get returns the field-gated view of one submission. Actors without view
// permission are denied outright; entitled actors get exactly the fields the
// gate grants, with denied output references nulled rather than hidden.
func (s *Store) Get(ctx context.Context, submissionID string, actor permgate.Actor) (*api.SubmissionView, error) {
	sub, err := s.Snapshot(submissionID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.catalog.Get(sub.ProblemID)
	if err != nil {
		return nil, err
	}
	if !permgate.CanView(actor, cfg, sub) {
		return nil, errs.New(errs.KindPermissionDenied,
			"user %s may not view submission %s", actor.User, submissionID)
	}

	view := &api.SubmissionView{
		ID:          sub.ID,
		ProblemID:   sub.ProblemID,
		User:        sub.Owner,
		Language:    sub.Language,
		Kind:        string(sub.Kind),
		Timestamp:   sub.CreatedAt.Unix(),
		Status:      string(sub.Status),
		Score:       sub.Score,
		QuotaWindow: sub.QuotaWindow,
		Tasks:       s.taskViews(actor, cfg, sub),
	}

	switch permgate.Decide(actor, cfg, sub, permgate.FieldCode) {
	case permgate.Visible:
		code, err := s.loadCode(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		view.Code = &code
	case permgate.Redacted:
		url, err := s.blobs.PresignGet(ctx, codeKey(sub.ID), s.codeURLTTL)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "failed to presign code download")
		}
		view.CodeDownloadURL = &url
	}

	return view, nil
}

func (s *Store) loadCode(ctx context.Context, submissionID string) (string, error) {
	exists, err := s.blobs.Exists(ctx, codeKey(submissionID))
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "failed to check submission payload")
	}
	if !exists {
		return "", nil
	}
	data, err := s.blobs.Get(ctx, codeKey(submissionID))
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "failed to load submission payload")
	}
	return string(data), nil
}

func (s *Store) taskViews(actor permgate.Actor, cfg subm.ProblemConfig, sub *subm.Submission) []api.TaskResultView {
	showOutputs := permgate.Decide(actor, cfg, sub, permgate.FieldOutput) == permgate.Visible

	tasks := make([]api.TaskResultView, len(sub.Tasks))
	for i, t := range sub.Tasks {
		cases := make([]api.CaseView, len(t.CasesPassed))
		for j, passed := range t.CasesPassed {
			cv := api.CaseView{Passed: passed}
			if showOutputs {
				cv.Outputs = outputPaths(sub.ID, t.TaskIndex, j)
			}
			cases[j] = cv
		}
		tasks[i] = api.TaskResultView{
			TaskIndex: t.TaskIndex,
			Verdict:   string(t.Verdict),
			Cases:     cases,
		}
	}
	return tasks
}

func outputPaths(submissionID string, taskIndex, caseIndex int) map[string]string {
	paths := make(map[string]string, 4)
	for _, kind := range []subm.OutputKind{
		subm.OutputStdout, subm.OutputStderr, subm.OutputDiff, subm.OutputCustomChecker,
	} {
		paths[string(kind)] = fmt.Sprintf("/submission/%s/output/%d/%d?kind=%s",
			submissionID, taskIndex, caseIndex, kind)
	}
	return paths
}
