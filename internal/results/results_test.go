package results_test

import (
	"archive/zip"
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/normal-oj/submissions/internal/blob"
	"github.com/normal-oj/submissions/internal/results"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/pkg/errs"
)

type staticSource map[string]*subm.Submission

func (s staticSource) Snapshot(id string) (*subm.Submission, error) {
	sub, ok := s[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "submission %s not found", id)
	}
	return sub.Clone(), nil
}

func newStore(t *testing.T, cfg subm.ProblemConfig, subs ...*subm.Submission) *results.Store {
	t.Helper()
	catalog := subm.NewCatalog()
	catalog.Put(cfg)
	source := staticSource{}
	for _, s := range subs {
		source[s.ID] = s
	}
	return results.NewStore(blob.NewMemoryStore(), catalog, source)
}

func gradedSubmission(id string, problemID int, caseCounts ...int) *subm.Submission {
	tasks := make([]subm.TaskResult, len(caseCounts))
	for i, n := range caseCounts {
		tasks[i] = subm.TaskResult{
			TaskIndex:   i,
			Verdict:     subm.StatusAccepted,
			CasesPassed: make([]bool, n),
		}
	}
	return &subm.Submission{
		ID:        id,
		ProblemID: problemID,
		Owner:     "alice",
		Status:    subm.StatusAccepted,
		CreatedAt: time.Unix(1000, 0),
		Tasks:     tasks,
	}
}

func zipWith(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestOutputsAreWriteOnce(t *testing.T) {
	s := newStore(t, subm.ProblemConfig{ProblemID: 1}, gradedSubmission("s1", 1, 2))
	ctx := context.Background()

	require.NoError(t, s.PutTaskOutput(ctx, "s1", 0, 0, subm.OutputStdout, []byte("hello\n")))

	err := s.PutTaskOutput(ctx, "s1", 0, 0, subm.OutputStdout, []byte("other"))
	require.Equal(t, errs.KindConflict, errs.KindOf(err))

	// a different kind in the same slot is its own write-once cell
	require.NoError(t, s.PutTaskOutput(ctx, "s1", 0, 0, subm.OutputStderr, []byte("warn\n")))

	out, err := s.GetTaskOutput(ctx, "s1", 0, 0, subm.OutputStdout)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(out))
}

func TestOutputRangeChecks(t *testing.T) {
	s := newStore(t, subm.ProblemConfig{ProblemID: 1}, gradedSubmission("s1", 1, 2))
	ctx := context.Background()

	for _, c := range []struct{ task, caseIdx int }{
		{1, 0}, {0, 2}, {-1, 0}, {0, -1},
	} {
		err := s.PutTaskOutput(ctx, "s1", c.task, c.caseIdx, subm.OutputStdout, []byte("x"))
		require.Equal(t, errs.KindNotFound, errs.KindOf(err), "task=%d case=%d", c.task, c.caseIdx)
	}

	_, err := s.GetTaskOutput(ctx, "s1", 0, 1, subm.OutputStdout)
	require.Equal(t, errs.KindNotFound, errs.KindOf(err), "never written")

	err = s.PutTaskOutput(ctx, "s1", 0, 0, subm.OutputKind("bogus"), []byte("x"))
	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = s.GetTaskOutput(ctx, "nope", 0, 0, subm.OutputStdout)
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestCompiledBinary(t *testing.T) {
	s := newStore(t, subm.ProblemConfig{ProblemID: 1}, gradedSubmission("s1", 1, 1))
	ctx := context.Background()

	// absence is a normal condition, not an error kind of its own
	require.False(t, s.HasCompiledBinary("s1"))
	_, err := s.GetCompiledBinary(ctx, "s1")
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))

	require.NoError(t, s.PutCompiledBinary(ctx, "s1", []byte{0x7f, 'E', 'L', 'F'}))
	require.True(t, s.HasCompiledBinary("s1"))

	err = s.PutCompiledBinary(ctx, "s1", []byte("again"))
	require.Equal(t, errs.KindConflict, errs.KindOf(err))

	bin, err := s.GetCompiledBinary(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, bin)
}

func TestArtifactZipSingleFlight(t *testing.T) {
	cfg := subm.ProblemConfig{ProblemID: 1, ArtifactTasks: []int{0}}
	s := newStore(t, cfg, gradedSubmission("s1", 1, 2))
	ctx := context.Background()

	require.NoError(t, s.PutCaseArtifact(ctx, "s1", 0, 0, zipWith(t, map[string]string{
		"stdout.txt": "42\n",
		"plot.png":   "not really a png",
	})))
	require.NoError(t, s.PutCaseArtifact(ctx, "s1", 0, 1, zipWith(t, map[string]string{
		"stdout.txt": "43\n",
	})))

	const callers = 8
	keys := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := s.BuildTaskArtifactZip(ctx, "s1", 0)
			require.NoError(t, err)
			keys[i] = key
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, s.Builds(), "concurrent builds must collapse")
	for _, k := range keys {
		require.Equal(t, keys[0], k, "all callers share one result")
	}

	// later calls hit the cache
	_, err := s.BuildTaskArtifactZip(ctx, "s1", 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, s.Builds())
}

func TestArtifactZipContents(t *testing.T) {
	cfg := subm.ProblemConfig{ProblemID: 1, ArtifactTasks: []int{0}}
	store := blob.NewMemoryStore()
	catalog := subm.NewCatalog()
	catalog.Put(cfg)
	s := results.NewStore(store, catalog, staticSource{"s1": gradedSubmission("s1", 1, 1)})
	ctx := context.Background()

	require.NoError(t, s.PutCaseArtifact(ctx, "s1", 0, 0, zipWith(t, map[string]string{
		"stderr.txt": "oops\n",
	})))

	key, err := s.BuildTaskArtifactZip(ctx, "s1", 0)
	require.NoError(t, err)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, r.File, 1)
	require.Equal(t, "task_00/case_00/stderr.txt", r.File[0].Name)
}

func TestArtifactZipNotFoundCases(t *testing.T) {
	// artifact collection disabled for the task
	s := newStore(t, subm.ProblemConfig{ProblemID: 1}, gradedSubmission("s1", 1, 1))
	ctx := context.Background()

	_, err := s.BuildTaskArtifactZip(ctx, "s1", 0)
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))

	err = s.PutCaseArtifact(ctx, "s1", 0, 0, zipWith(t, map[string]string{"a": "b"}))
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))

	// enabled but no case produced anything
	cfg := subm.ProblemConfig{ProblemID: 2, ArtifactTasks: []int{0}}
	s2 := newStore(t, cfg, gradedSubmission("s2", 2, 1))
	_, err = s2.BuildTaskArtifactZip(ctx, "s2", 0)
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))

	// unknown task index
	_, err = s2.BuildTaskArtifactZip(ctx, "s2", 7)
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))
}
