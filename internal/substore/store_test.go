package substore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/normal-oj/submissions/internal/blob"
	"github.com/normal-oj/submissions/internal/events"
	"github.com/normal-oj/submissions/internal/permgate"
	"github.com/normal-oj/submissions/internal/quota"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/internal/substore"
	"github.com/normal-oj/submissions/internal/upload"
	"github.com/normal-oj/submissions/pkg/errs"
)

type stubBundles struct {
	ready map[int]bool
}

func (s stubBundles) ActiveBundle(problemID int) (upload.Bundle, bool) {
	return upload.Bundle{ObjectKey: "stub"}, s.ready[problemID]
}

type fixture struct {
	catalog *subm.Catalog
	store   *substore.Store
}

func newFixture(t *testing.T, cfgs ...subm.ProblemConfig) *fixture {
	t.Helper()
	catalog := subm.NewCatalog()
	ready := map[int]bool{}
	for _, cfg := range cfgs {
		catalog.Put(cfg)
		ready[cfg.ProblemID] = true
	}
	store := substore.NewStore(
		catalog,
		quota.NewEnforcer(catalog),
		stubBundles{ready: ready},
		blob.NewMemoryStore(),
		events.Noop{},
		subm.WeightedScorePolicy,
	)
	return &fixture{catalog: catalog, store: store}
}

func TestCreateRequiresProblemAndBundle(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1})
	ctx := context.Background()

	_, err := f.store.Create(ctx, "alice", 404, "c", subm.KindSource, []byte("x"))
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))

	// problem known but bundle never completed
	f.catalog.Put(subm.ProblemConfig{ProblemID: 2})
	_, err = f.store.Create(ctx, "alice", 2, "c", subm.KindSource, []byte("x"))
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))

	sub, err := f.store.Create(ctx, "alice", 1, "c", subm.KindSource, []byte("int main(){}"))
	require.NoError(t, err)
	require.NotEmpty(t, sub.ID)
	require.Equal(t, subm.StatusPending, sub.Status)
	require.NotEmpty(t, sub.QuotaWindow)
}

func TestQuotaScenario(t *testing.T) {
	// ceiling of 2 per window: first two succeed, the third is rejected
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1, Quota: 2})
	ctx := context.Background()

	_, err := f.store.Create(ctx, "alice", 1, "c", subm.KindSource, nil)
	require.NoError(t, err)
	_, err = f.store.Create(ctx, "alice", 1, "c", subm.KindSource, nil)
	require.NoError(t, err)

	_, err = f.store.Create(ctx, "alice", 1, "c", subm.KindSource, nil)
	require.Equal(t, errs.KindQuotaExceeded, errs.KindOf(err))

	// other users are unaffected
	_, err = f.store.Create(ctx, "bob", 1, "c", subm.KindSource, nil)
	require.NoError(t, err)
}

// faultyBlobs fails a configured number of Puts before behaving normally.
type faultyBlobs struct {
	*blob.MemoryStore
	failPuts int
}

func (f *faultyBlobs) Put(ctx context.Context, key string, data []byte) error {
	if f.failPuts > 0 {
		f.failPuts--
		return errors.New("storage unavailable")
	}
	return f.MemoryStore.Put(ctx, key, data)
}

func TestCreateReturnsQuotaSlotWhenStorageFails(t *testing.T) {
	catalog := subm.NewCatalog()
	catalog.Put(subm.ProblemConfig{ProblemID: 1, Quota: 1})
	blobs := &faultyBlobs{MemoryStore: blob.NewMemoryStore(), failPuts: 1}
	store := substore.NewStore(
		catalog,
		quota.NewEnforcer(catalog),
		stubBundles{ready: map[int]bool{1: true}},
		blobs,
		events.Noop{},
		subm.WeightedScorePolicy,
	)
	ctx := context.Background()

	_, err := store.Create(ctx, "alice", 1, "c", subm.KindSource, []byte("int main(){}"))
	require.Equal(t, errs.KindInternal, errs.KindOf(err))

	// the failed attempt must not burn the only quota slot
	sub, err := store.Create(ctx, "alice", 1, "c", subm.KindSource, []byte("int main(){}"))
	require.NoError(t, err)
	require.NotEmpty(t, sub.ID)
}

func TestAppendTaskResultIdempotent(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1})
	ctx := context.Background()
	sub, err := f.store.Create(ctx, "alice", 1, "c", subm.KindSource, nil)
	require.NoError(t, err)

	tr := subm.TaskResult{TaskIndex: 0, Verdict: subm.StatusAccepted, CasesPassed: []bool{true, true}}
	require.NoError(t, f.store.AppendTaskResult(sub.ID, tr))
	// identical re-delivery is a no-op
	require.NoError(t, f.store.AppendTaskResult(sub.ID, tr))

	got, err := f.store.Snapshot(sub.ID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	require.Equal(t, subm.StatusJudging, got.Status)

	// conflicting content for the same index is rejected
	bad := subm.TaskResult{TaskIndex: 0, Verdict: subm.StatusWrongAnswer, CasesPassed: []bool{false, false}}
	require.Equal(t, errs.KindConflict, errs.KindOf(f.store.AppendTaskResult(sub.ID, bad)))

	// pending/judging verdicts are not task verdicts
	notTerminal := subm.TaskResult{TaskIndex: 1, Verdict: subm.StatusJudging}
	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(f.store.AppendTaskResult(sub.ID, notTerminal)))

	negative := subm.TaskResult{TaskIndex: -1, Verdict: subm.StatusAccepted}
	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(f.store.AppendTaskResult(sub.ID, negative)))
}

func TestAppendTaskResultOutOfOrder(t *testing.T) {
	// the result queue does not guarantee delivery order: a later task's
	// result may land first and must not be lost
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1})
	ctx := context.Background()
	sub, err := f.store.Create(ctx, "alice", 1, "c", subm.KindSource, nil)
	require.NoError(t, err)

	second := subm.TaskResult{TaskIndex: 2, Verdict: subm.StatusWrongAnswer, CasesPassed: []bool{false}}
	require.NoError(t, f.store.AppendTaskResult(sub.ID, second))

	got, err := f.store.Snapshot(sub.ID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 3)
	require.Equal(t, subm.StatusPending, got.Tasks[0].Verdict)
	require.Equal(t, subm.StatusPending, got.Tasks[1].Verdict)
	require.Equal(t, subm.StatusWrongAnswer, got.Tasks[2].Verdict)

	// the earlier results fill their placeholders when they arrive
	first := subm.TaskResult{TaskIndex: 0, Verdict: subm.StatusAccepted, CasesPassed: []bool{true}}
	require.NoError(t, f.store.AppendTaskResult(sub.ID, first))
	require.NoError(t, f.store.AppendTaskResult(sub.ID, subm.TaskResult{
		TaskIndex: 1, Verdict: subm.StatusAccepted, CasesPassed: []bool{true},
	}))

	// placeholders do not shield against conflicting re-delivery
	bad := subm.TaskResult{TaskIndex: 2, Verdict: subm.StatusAccepted, CasesPassed: []bool{true}}
	require.Equal(t, errs.KindConflict, errs.KindOf(f.store.AppendTaskResult(sub.ID, bad)))

	got, err = f.store.Snapshot(sub.ID)
	require.NoError(t, err)
	require.Equal(t, subm.StatusAccepted, got.Tasks[0].Verdict)
	require.Equal(t, subm.StatusAccepted, got.Tasks[1].Verdict)
	require.Equal(t, subm.StatusWrongAnswer, got.Tasks[2].Verdict)
}

func TestFinalizeScoresAndIsMonotonic(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1, TaskWeights: []int{30, 70}})
	ctx := context.Background()
	sub, err := f.store.Create(ctx, "alice", 1, "c", subm.KindSource, nil)
	require.NoError(t, err)

	require.NoError(t, f.store.AppendTaskResult(sub.ID, subm.TaskResult{
		TaskIndex: 0, Verdict: subm.StatusAccepted, CasesPassed: []bool{true},
	}))
	require.NoError(t, f.store.AppendTaskResult(sub.ID, subm.TaskResult{
		TaskIndex: 1, Verdict: subm.StatusWrongAnswer, CasesPassed: []bool{false},
	}))

	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(f.store.Finalize(sub.ID, subm.StatusJudging)))
	require.NoError(t, f.store.Finalize(sub.ID, subm.StatusWrongAnswer))

	got, err := f.store.Snapshot(sub.ID)
	require.NoError(t, err)
	require.Equal(t, subm.StatusWrongAnswer, got.Status)
	require.Equal(t, 30, got.Score)

	// same terminal state again is a no-op; a different one is a conflict
	require.NoError(t, f.store.Finalize(sub.ID, subm.StatusWrongAnswer))
	require.Equal(t, errs.KindConflict, errs.KindOf(f.store.Finalize(sub.ID, subm.StatusAccepted)))

	// terminal submissions accept no more task results
	late := subm.TaskResult{TaskIndex: 2, Verdict: subm.StatusAccepted}
	require.Equal(t, errs.KindConflict, errs.KindOf(f.store.AppendTaskResult(sub.ID, late)))
}

func TestGetGatesFields(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1, Course: "algo"})
	ctx := context.Background()
	sub, err := f.store.Create(ctx, "alice", 1, "c", subm.KindSource, []byte("int main(){}"))
	require.NoError(t, err)
	require.NoError(t, f.store.AppendTaskResult(sub.ID, subm.TaskResult{
		TaskIndex: 0, Verdict: subm.StatusAccepted, CasesPassed: []bool{true},
	}))

	owner := permgate.Actor{User: "alice", Role: permgate.RoleStudent}
	view, err := f.store.Get(ctx, sub.ID, owner)
	require.NoError(t, err)
	require.NotNil(t, view.Code)
	require.Equal(t, "int main(){}", *view.Code)
	// canViewStdout is off: output references are nulled
	require.Nil(t, view.Tasks[0].Cases[0].Outputs)

	teacher := permgate.Actor{User: "bob", Role: permgate.RoleTeacher, Teaches: []string{"algo"}}
	view, err = f.store.Get(ctx, sub.ID, teacher)
	require.NoError(t, err)
	require.NotNil(t, view.Tasks[0].Cases[0].Outputs)

	stranger := permgate.Actor{User: "mallory", Role: permgate.RoleStudent}
	_, err = f.store.Get(ctx, sub.ID, stranger)
	require.Equal(t, errs.KindPermissionDenied, errs.KindOf(err))
}

func TestGetArchiveSubstitutesDownloadURL(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1})
	ctx := context.Background()
	sub, err := f.store.Create(ctx, "alice", 1, "c", subm.KindArchive, []byte("PK\x03\x04..."))
	require.NoError(t, err)

	owner := permgate.Actor{User: "alice", Role: permgate.RoleStudent}
	view, err := f.store.Get(ctx, sub.ID, owner)
	require.NoError(t, err)
	require.Nil(t, view.Code)
	require.NotNil(t, view.CodeDownloadURL)
	require.NotEmpty(t, *view.CodeDownloadURL)
}

func TestListFiltersAndPages(t *testing.T) {
	f := newFixture(t,
		subm.ProblemConfig{ProblemID: 1},
		subm.ProblemConfig{ProblemID: 2},
	)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.store.Create(ctx, "alice", 1, "c", subm.KindSource, nil)
		require.NoError(t, err)
	}
	_, err := f.store.Create(ctx, "bob", 2, "py", subm.KindSource, nil)
	require.NoError(t, err)

	admin := permgate.Actor{User: "root", Role: permgate.RoleAdmin}

	_, err = f.store.List(substore.ListFilter{Offset: -1}, admin)
	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	_, err = f.store.List(substore.ListFilter{Count: -1}, admin)
	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	all, err := f.store.List(substore.ListFilter{}, admin)
	require.NoError(t, err)
	require.Equal(t, 4, all.Total)

	p1 := 1
	paged, err := f.store.List(substore.ListFilter{ProblemID: &p1, Offset: 1, Count: 1}, admin)
	require.NoError(t, err)
	require.Equal(t, 3, paged.Total)
	require.Len(t, paged.Submissions, 1)

	// students only ever see their own, whatever owner filter they send
	bob := "bob"
	alice := permgate.Actor{User: "alice", Role: permgate.RoleStudent}
	mine, err := f.store.List(substore.ListFilter{Owner: &bob}, alice)
	require.NoError(t, err)
	require.Equal(t, 3, mine.Total)
	for _, s := range mine.Submissions {
		require.Equal(t, "alice", s.User)
	}
}
