// Package substore owns submission lifecycle records. It composes the quota
// enforcer on create and the permission gate on read; task results and
// finalization arrive from the grading pipeline only.
package substore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/normal-oj/submissions/internal/blob"
	"github.com/normal-oj/submissions/internal/events"
	"github.com/normal-oj/submissions/internal/quota"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/internal/upload"
	"github.com/normal-oj/submissions/pkg/errs"
)

// BundleSource tells the store whether a problem has a completed test-case
// bundle. Implemented by the upload coordinator.
type BundleSource interface {
	ActiveBundle(problemID int) (upload.Bundle, bool)
}

// WindowFunc derives the quota-window tag for a submission time. The default
// buckets per day, matching the platform's daily quota reset.
type WindowFunc func(t time.Time) string

func DailyWindow(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

type entry struct {
	mu  sync.Mutex
	sub *subm.Submission
}

type Store struct {
	catalog  *subm.Catalog
	quota    *quota.Enforcer
	bundles  BundleSource
	blobs    blob.Store
	events   events.Publisher
	policy   subm.ScorePolicy
	windowFn WindowFunc

	codeURLTTL time.Duration

	subs *xsync.MapOf[string, *entry]

	// order keeps creation order for deterministic listing.
	orderMu sync.RWMutex
	order   []string
}

func NewStore(
	catalog *subm.Catalog,
	enforcer *quota.Enforcer,
	bundles BundleSource,
	blobs blob.Store,
	publisher events.Publisher,
	policy subm.ScorePolicy,
) *Store {
	return &Store{
		catalog:    catalog,
		quota:      enforcer,
		bundles:    bundles,
		blobs:      blobs,
		events:     publisher,
		policy:     policy,
		windowFn:   DailyWindow,
		codeURLTTL: 15 * time.Minute,
		subs:       xsync.NewMapOf[string, *entry](),
	}
}

func codeKey(submissionID string) string {
	return fmt.Sprintf("submissions/%s/code", submissionID)
}

// Create registers a new submission after quota approval. The problem must
// exist and carry a completed test-case bundle; the quota check happens before
// any persistence so an over-quota request leaves no trace.
func (s *Store) Create(ctx context.Context, owner string, problemID int, language string, kind subm.Kind, payload []byte) (*subm.Submission, error) {
	if owner == "" {
		return nil, errs.New(errs.KindInvalidArgument, "owner must not be empty")
	}
	if language == "" && kind != subm.KindHandwritten {
		return nil, errs.New(errs.KindInvalidArgument, "language must not be empty")
	}
	if !kind.Valid() {
		return nil, errs.New(errs.KindInvalidArgument, "unknown submission kind %q", kind)
	}
	if _, err := s.catalog.Get(problemID); err != nil {
		return nil, err
	}
	if _, ok := s.bundles.ActiveBundle(problemID); !ok {
		return nil, errs.New(errs.KindNotFound,
			"problem %d has no completed test-case bundle", problemID)
	}

	now := time.Now()
	window := s.windowFn(now)
	if err := s.quota.CheckAndIncrement(owner, problemID, window); err != nil {
		return nil, err
	}

	sub := &subm.Submission{
		ID:          uuid.NewString(),
		ProblemID:   problemID,
		Owner:       owner,
		Language:    language,
		Kind:        kind,
		CreatedAt:   now,
		Status:      subm.StatusPending,
		QuotaWindow: window,
	}
	if len(payload) > 0 {
		if err := s.blobs.Put(ctx, codeKey(sub.ID), payload); err != nil {
			// no submission comes into being, so the consumed slot goes back
			s.quota.Release(owner, problemID, window)
			return nil, errs.Wrap(errs.KindInternal, err, "failed to store submission payload")
		}
	}

	s.subs.Store(sub.ID, &entry{sub: sub})
	s.orderMu.Lock()
	s.order = append(s.order, sub.ID)
	s.orderMu.Unlock()

	s.events.SubmissionCreated(sub.Clone())
	return sub.Clone(), nil
}

func (s *Store) lookup(submissionID string) (*entry, error) {
	e, ok := s.subs.Load(submissionID)
	if !ok {
		return nil, errs.New(errs.KindNotFound, "submission %s not found", submissionID)
	}
	return e, nil
}

// Snapshot returns an ungated deep copy of the record. Callers that serve
// external actors must go through Get instead.
func (s *Store) Snapshot(submissionID string) (*subm.Submission, error) {
	e, err := s.lookup(submissionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sub.Clone(), nil
}

// AppendTaskResult records one task's outcome. It is idempotent per task
// index: re-applying an identical result is a no-op, while a conflicting
// result for an already recorded index fails with Conflict. Results may
// arrive in any order; the result queue does not guarantee delivery order,
// so an index ahead of the recorded set leaves pending placeholders in the
// gap until the earlier results land.
func (s *Store) AppendTaskResult(submissionID string, tr subm.TaskResult) error {
	if tr.TaskIndex < 0 {
		return errs.New(errs.KindInvalidArgument, "task index must not be negative")
	}
	if !tr.Verdict.Terminal() {
		return errs.New(errs.KindInvalidArgument, "task verdict %q is not terminal", tr.Verdict)
	}
	e, err := s.lookup(submissionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub.Status.Terminal() {
		return errs.New(errs.KindConflict, "submission %s is already %s", submissionID, e.sub.Status)
	}

	for i := len(e.sub.Tasks); i <= tr.TaskIndex; i++ {
		e.sub.Tasks = append(e.sub.Tasks, subm.TaskResult{TaskIndex: i, Verdict: subm.StatusPending})
	}
	if cur := e.sub.Tasks[tr.TaskIndex]; cur.Verdict.Terminal() {
		if cur.Equal(tr) {
			return nil
		}
		return errs.New(errs.KindConflict,
			"task %d of submission %s already has a different result", tr.TaskIndex, submissionID)
	}
	e.sub.Tasks[tr.TaskIndex] = tr
	e.sub.Status = subm.StatusJudging
	return nil
}

// Finalize sets a terminal status and recomputes the score through the
// configured scoring policy. Finalizing twice with the same status is a
// no-op; a different terminal status is a Conflict (no regression from
// terminal states).
func (s *Store) Finalize(submissionID string, final subm.Status) error {
	if !final.Terminal() {
		return errs.New(errs.KindInvalidArgument, "status %q is not terminal", final)
	}
	e, err := s.lookup(submissionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.sub.Status.Terminal() {
		prev := e.sub.Status
		e.mu.Unlock()
		if prev == final {
			return nil
		}
		return errs.New(errs.KindConflict,
			"submission %s is already %s", submissionID, prev)
	}

	cfg, err := s.catalog.Get(e.sub.ProblemID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.sub.Status = final
	e.sub.Score = s.policy(cfg, e.sub.Tasks)
	done := e.sub.Clone()
	e.mu.Unlock()

	s.events.SubmissionFinalized(done)
	return nil
}

// ForProblem returns snapshots of every submission of the problem, oldest
// first. The stats aggregator consumes this; it tolerates the snapshot being
// slightly behind in-flight writes.
func (s *Store) ForProblem(problemID int) []*subm.Submission {
	s.orderMu.RLock()
	ids := append([]string(nil), s.order...)
	s.orderMu.RUnlock()

	out := make([]*subm.Submission, 0, len(ids))
	for _, id := range ids {
		e, ok := s.subs.Load(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.sub.ProblemID == problemID {
			out = append(out, e.sub.Clone())
		}
		e.mu.Unlock()
	}
	return out
}
