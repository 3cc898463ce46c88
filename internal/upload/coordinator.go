// Package upload coordinates chunked test-case bundle uploads. Clients push
// parts straight to object storage through presigned URLs; the coordinator
// only issues locations, records ETags as parts land, and swaps the problem's
// active bundle pointer once the assembled upload validates.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/normal-oj/submissions/internal/blob"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/pkg/errs"
)

type State string

const (
	StateInitiated      State = "initiated"
	StatePartsUploading State = "parts_uploading"
	StateCompleted      State = "completed"
	StateAborted        State = "aborted"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Session is a point-in-time snapshot of an upload session.
type Session struct {
	ID          string
	ProblemID   int
	TotalLength int64
	PartSize    int64
	PartCount   int32
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Bundle is the active test-case bundle of a problem. Submissions may only be
// created against problems whose bundle pointer has been swapped in by a
// completed upload.
type Bundle struct {
	ObjectKey   string
	SessionID   string
	CompletedAt time.Time
}

type session struct {
	mu sync.Mutex

	id          string
	problemID   int
	totalLength int64
	partSize    int64
	partCount   int32
	state       State
	createdAt   time.Time
	updatedAt   time.Time

	objectKey string
	uploadID  string
	// etags[i] is the recorded ETag of part i+1; empty until the part lands.
	etags []string
}

func (s *session) snapshot() Session {
	return Session{
		ID:          s.id,
		ProblemID:   s.problemID,
		TotalLength: s.totalLength,
		PartSize:    s.partSize,
		PartCount:   s.partCount,
		State:       s.state,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
}

type Coordinator struct {
	store   blob.MultipartStore
	catalog *subm.Catalog
	logger  *slog.Logger

	partURLTTL time.Duration
	retention  time.Duration

	sessions *xsync.MapOf[string, *session]
	// live maps a problem id to its one non-terminal session id.
	live    *xsync.MapOf[int, string]
	bundles *xsync.MapOf[int, Bundle]
}

func NewCoordinator(store blob.MultipartStore, catalog *subm.Catalog, logger *slog.Logger, partURLTTL, retention time.Duration) *Coordinator {
	return &Coordinator{
		store:      store,
		catalog:    catalog,
		logger:     logger,
		partURLTTL: partURLTTL,
		retention:  retention,
		sessions:   xsync.NewMapOf[string, *session](),
		live:       xsync.NewMapOf[int, string](),
		bundles:    xsync.NewMapOf[int, Bundle](),
	}
}

// Initiate opens a new upload session for a problem's test-case bundle. Only
// one live session per problem is allowed; a second initiate aborts the prior
// session so that abandoned partial bundles do not hold storage forever.
func (c *Coordinator) Initiate(ctx context.Context, problemID int, totalLength, partSize int64) (Session, error) {
	if totalLength <= 0 {
		return Session{}, errs.New(errs.KindInvalidArgument, "total length must be positive, got %d", totalLength)
	}
	if partSize <= 0 {
		return Session{}, errs.New(errs.KindInvalidArgument, "part size must be positive, got %d", partSize)
	}
	if !c.catalog.Exists(problemID) {
		return Session{}, errs.New(errs.KindNotFound, "problem %d not found", problemID)
	}

	partCount := int32((totalLength + partSize - 1) / partSize)
	id := uuid.NewString()
	objectKey := fmt.Sprintf("problems/%d/test-case/%s.zip", problemID, id)

	uploadID, err := c.store.CreateMultipart(ctx, objectKey)
	if err != nil {
		return Session{}, errs.Wrap(errs.KindInternal, err, "failed to create multipart upload")
	}

	now := time.Now()
	s := &session{
		id:          id,
		problemID:   problemID,
		totalLength: totalLength,
		partSize:    partSize,
		partCount:   partCount,
		state:       StateInitiated,
		createdAt:   now,
		updatedAt:   now,
		objectKey:   objectKey,
		uploadID:    uploadID,
		etags:       make([]string, partCount),
	}
	c.sessions.Store(id, s)

	// Claim the problem's live slot atomically; the loser of an initiate race
	// is whoever held the slot before (last writer wins).
	var prevID string
	c.live.Compute(problemID, func(old string, loaded bool) (string, bool) {
		prevID = old
		return id, false
	})
	if prevID != "" && prevID != id {
		if prev, ok := c.sessions.Load(prevID); ok {
			c.abortSession(ctx, prev)
		}
	}

	return s.snapshot(), nil
}

// PartUploadLocation issues a time-limited upload URL for one part.
func (c *Coordinator) PartUploadLocation(ctx context.Context, sessionID string, partNumber int32) (string, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return "", errs.New(errs.KindConflict, "session %s is %s", sessionID, s.state)
	}
	if partNumber < 1 || partNumber > s.partCount {
		return "", errs.New(errs.KindInvalidArgument,
			"part number %d outside [1, %d]", partNumber, s.partCount)
	}

	url, err := c.store.PresignUploadPart(ctx, s.objectKey, s.uploadID, partNumber, c.partURLTTL)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "failed to presign part upload")
	}
	s.state = StatePartsUploading
	s.updatedAt = time.Now()
	return url, nil
}

// RecordPart notes the ETag the storage returned for a landed part. An ETag is
// set exactly once; re-recording the same value is a no-op.
func (c *Coordinator) RecordPart(sessionID string, partNumber int32, etag string) error {
	s, err := c.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return errs.New(errs.KindConflict, "session %s is %s", sessionID, s.state)
	}
	if partNumber < 1 || partNumber > s.partCount {
		return errs.New(errs.KindInvalidArgument,
			"part number %d outside [1, %d]", partNumber, s.partCount)
	}
	if prev := s.etags[partNumber-1]; prev != "" && prev != etag {
		return errs.New(errs.KindConflict,
			"part %d of session %s already has etag %s", partNumber, sessionID, prev)
	}
	s.etags[partNumber-1] = etag
	s.state = StatePartsUploading
	s.updatedAt = time.Now()
	return nil
}

// Complete validates the reported part list against the recorded ETags and,
// on success, assembles the upload and atomically swaps the problem's active
// bundle pointer. On mismatch the session stays in PartsUploading so the
// caller can re-upload only the offending parts and retry. Completion is
// idempotent: repeating it on a Completed session returns the same result
// without swapping the bundle again.
func (c *Coordinator) Complete(ctx context.Context, sessionID string, reported []blob.Part) (Session, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCompleted {
		return s.snapshot(), nil
	}
	if s.state == StateAborted {
		return Session{}, errs.New(errs.KindConflict, "session %s is aborted", sessionID)
	}

	if err := validateParts(s, reported); err != nil {
		return Session{}, err
	}

	if err := c.store.CompleteMultipart(ctx, s.objectKey, s.uploadID, reported); err != nil {
		return Session{}, errs.Wrap(errs.KindInternal, err, "failed to assemble upload")
	}

	now := time.Now()
	s.state = StateCompleted
	s.updatedAt = now
	c.bundles.Store(s.problemID, Bundle{
		ObjectKey:   s.objectKey,
		SessionID:   s.id,
		CompletedAt: now,
	})
	c.releaseLiveSlot(s)

	c.logger.Info("test-case bundle swapped",
		slog.Int("problem", s.problemID),
		slog.String("session", s.id),
		slog.String("object", s.objectKey))
	return s.snapshot(), nil
}

func validateParts(s *session, reported []blob.Part) error {
	if int32(len(reported)) != s.partCount {
		return errs.New(errs.KindUploadIntegrity,
			"reported %d parts, want %d", len(reported), s.partCount)
	}
	seen := make([]bool, s.partCount)
	for _, p := range reported {
		if p.Number < 1 || p.Number > s.partCount {
			return errs.New(errs.KindUploadIntegrity,
				"reported part number %d outside [1, %d]", p.Number, s.partCount)
		}
		if seen[p.Number-1] {
			return errs.New(errs.KindUploadIntegrity, "part %d reported twice", p.Number)
		}
		seen[p.Number-1] = true

		recorded := s.etags[p.Number-1]
		if recorded == "" {
			return errs.New(errs.KindUploadIntegrity, "part %d never landed", p.Number)
		}
		if recorded != p.ETag {
			return errs.New(errs.KindUploadIntegrity,
				"part %d etag mismatch: reported %s, recorded %s", p.Number, p.ETag, recorded)
		}
	}
	return nil
}

// Cancel aborts a live session and releases its partially uploaded storage.
// Cancellation is not retractable; cancelling an already aborted session is a
// no-op, a completed one a Conflict.
func (c *Coordinator) Cancel(ctx context.Context, sessionID string) error {
	s, err := c.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAborted:
		return nil
	case StateCompleted:
		return errs.New(errs.KindConflict, "session %s is already completed", sessionID)
	}
	c.abortLocked(ctx, s)
	return nil
}

// Session returns a snapshot of the session.
func (c *Coordinator) Session(sessionID string) (Session, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// LiveSession returns the problem's current non-terminal session id, if any.
func (c *Coordinator) LiveSession(problemID int) (string, bool) {
	id, ok := c.live.Load(problemID)
	return id, ok && id != ""
}

// ActiveBundle returns the problem's completed test-case bundle, if any.
func (c *Coordinator) ActiveBundle(problemID int) (Bundle, bool) {
	return c.bundles.Load(problemID)
}

// ReapStale aborts sessions that have sat in a non-terminal state beyond the
// retention window, freeing the problem for a fresh initiate.
func (c *Coordinator) ReapStale(ctx context.Context, now time.Time) int {
	reaped := 0
	c.sessions.Range(func(_ string, s *session) bool {
		s.mu.Lock()
		if !s.state.Terminal() && now.Sub(s.updatedAt) > c.retention {
			c.abortLocked(ctx, s)
			reaped++
		}
		s.mu.Unlock()
		return true
	})
	return reaped
}

// StartReaper runs ReapStale periodically until the context is cancelled.
func (c *Coordinator) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := c.ReapStale(ctx, now); n > 0 {
					c.logger.Info("reaped stale upload sessions", slog.Int("count", n))
				}
			}
		}
	}()
}

func (c *Coordinator) lookup(sessionID string) (*session, error) {
	s, ok := c.sessions.Load(sessionID)
	if !ok {
		return nil, errs.New(errs.KindNotFound, "upload session %s not found", sessionID)
	}
	return s, nil
}

func (c *Coordinator) abortSession(ctx context.Context, s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	c.abortLocked(ctx, s)
}

func (c *Coordinator) abortLocked(ctx context.Context, s *session) {
	if err := c.store.AbortMultipart(ctx, s.objectKey, s.uploadID); err != nil {
		c.logger.Warn("failed to abort multipart upload",
			slog.String("session", s.id), slog.Any("error", err))
	}
	s.state = StateAborted
	s.updatedAt = time.Now()
	c.releaseLiveSlot(s)
}

// releaseLiveSlot clears the problem's live pointer only while it still names
// this session, so a newer session's claim is never clobbered.
func (c *Coordinator) releaseLiveSlot(s *session) {
	c.live.Compute(s.problemID, func(cur string, loaded bool) (string, bool) {
		return cur, loaded && cur == s.id
	})
}
