// Package results stores and serves per-task grading outputs, compiled
// binaries and lazily built artifact bundles. Permission checks happen
// upstream (permgate); this package only enforces write-once semantics and
// range validity.
package results

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"

	"github.com/normal-oj/submissions/internal/blob"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/pkg/errs"
)

// SubmissionSource provides read-only submission snapshots for range and
// problem checks. Implemented by the submission store.
type SubmissionSource interface {
	Snapshot(submissionID string) (*subm.Submission, error)
}

type Store struct {
	blobs   blob.Store
	catalog *subm.Catalog
	source  SubmissionSource

	// written tracks every blob key this store has produced, giving cheap
	// write-once checks without a round trip to storage.
	written   *xsync.MapOf[string, struct{}]
	artifacts *xsync.MapOf[string, string]

	group  singleflight.Group
	builds atomic.Int64
}

func NewStore(blobs blob.Store, catalog *subm.Catalog, source SubmissionSource) *Store {
	return &Store{
		blobs:     blobs,
		catalog:   catalog,
		source:    source,
		written:   xsync.NewMapOf[string, struct{}](),
		artifacts: xsync.NewMapOf[string, string](),
	}
}

func outputKey(submissionID string, taskIndex, caseIndex int, kind subm.OutputKind) string {
	return fmt.Sprintf("submissions/%s/task_%02d/case_%02d/%s", submissionID, taskIndex, caseIndex, kind)
}

func caseArtifactKey(submissionID string, taskIndex, caseIndex int) string {
	return fmt.Sprintf("submissions/%s/task_%02d/case_%02d/artifact.zip", submissionID, taskIndex, caseIndex)
}

func binaryKey(submissionID string) string {
	return fmt.Sprintf("submissions/%s/compiled.bin", submissionID)
}

// checkRange resolves the submission and verifies the addressed task and case
// exist in its recorded result set.
func (s *Store) checkRange(submissionID string, taskIndex, caseIndex int) (*subm.Submission, error) {
	sub, err := s.source.Snapshot(submissionID)
	if err != nil {
		return nil, err
	}
	if taskIndex < 0 || taskIndex >= len(sub.Tasks) {
		return nil, errs.New(errs.KindNotFound,
			"submission %s has no task %d", submissionID, taskIndex)
	}
	if caseIndex < 0 || caseIndex >= len(sub.Tasks[taskIndex].CasesPassed) {
		return nil, errs.New(errs.KindNotFound,
			"task %d of submission %s has no case %d", taskIndex, submissionID, caseIndex)
	}
	return sub, nil
}

func (s *Store) putOnce(ctx context.Context, key string, payload []byte) error {
	if _, loaded := s.written.LoadOrStore(key, struct{}{}); loaded {
		return errs.New(errs.KindConflict, "%s is already written", key)
	}
	if err := s.blobs.Put(ctx, key, payload); err != nil {
		s.written.Delete(key)
		return errs.Wrap(errs.KindInternal, err, "failed to store payload")
	}
	return nil
}

// PutTaskOutput stores one grading output. Each (submission, task, case, kind)
// slot is write-once; overwrites fail with Conflict.
func (s *Store) PutTaskOutput(ctx context.Context, submissionID string, taskIndex, caseIndex int, kind subm.OutputKind, payload []byte) error {
	if !kind.Valid() {
		return errs.New(errs.KindInvalidArgument, "unknown output kind %q", kind)
	}
	if _, err := s.checkRange(submissionID, taskIndex, caseIndex); err != nil {
		return err
	}
	return s.putOnce(ctx, outputKey(submissionID, taskIndex, caseIndex, kind), payload)
}

// GetTaskOutput returns a stored grading output, or NotFound when the
// addressed slot is out of range or was never written.
func (s *Store) GetTaskOutput(ctx context.Context, submissionID string, taskIndex, caseIndex int, kind subm.OutputKind) ([]byte, error) {
	if !kind.Valid() {
		return nil, errs.New(errs.KindInvalidArgument, "unknown output kind %q", kind)
	}
	if _, err := s.checkRange(submissionID, taskIndex, caseIndex); err != nil {
		return nil, err
	}
	key := outputKey(submissionID, taskIndex, caseIndex, kind)
	if _, ok := s.written.Load(key); !ok {
		return nil, errs.New(errs.KindNotFound, "no %s stored for %s task %d case %d",
			kind, submissionID, taskIndex, caseIndex)
	}
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to load output")
	}
	return data, nil
}

// PutCaseArtifact stores the artifact archive one case produced during
// grading. Write-once like outputs.
func (s *Store) PutCaseArtifact(ctx context.Context, submissionID string, taskIndex, caseIndex int, archive []byte) error {
	sub, err := s.checkRange(submissionID, taskIndex, caseIndex)
	if err != nil {
		return err
	}
	cfg, err := s.catalog.Get(sub.ProblemID)
	if err != nil {
		return err
	}
	if !cfg.ArtifactEnabled(taskIndex) {
		return errs.New(errs.KindNotFound,
			"artifact collection is not enabled for task %d of problem %d", taskIndex, sub.ProblemID)
	}
	return s.putOnce(ctx, caseArtifactKey(submissionID, taskIndex, caseIndex), archive)
}

// PutCompiledBinary stores the submission's compiled binary, once.
func (s *Store) PutCompiledBinary(ctx context.Context, submissionID string, binary []byte) error {
	if _, err := s.source.Snapshot(submissionID); err != nil {
		return err
	}
	return s.putOnce(ctx, binaryKey(submissionID), binary)
}

// HasCompiledBinary reports binary presence. Absence is a normal condition,
// distinct from any permission outcome.
func (s *Store) HasCompiledBinary(submissionID string) bool {
	_, ok := s.written.Load(binaryKey(submissionID))
	return ok
}

func (s *Store) GetCompiledBinary(ctx context.Context, submissionID string) ([]byte, error) {
	if _, err := s.source.Snapshot(submissionID); err != nil {
		return nil, err
	}
	if !s.HasCompiledBinary(submissionID) {
		return nil, errs.New(errs.KindNotFound, "submission %s has no compiled binary", submissionID)
	}
	data, err := s.blobs.Get(ctx, binaryKey(submissionID))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to load compiled binary")
	}
	return data, nil
}

// Builds returns how many artifact bundles were actually constructed, for
// observing single-flight collapse.
func (s *Store) Builds() int64 {
	return s.builds.Load()
}
