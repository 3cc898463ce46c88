package results

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/normal-oj/submissions/pkg/errs"
)

func newZipWriter(buf *bytes.Buffer) *zip.Writer {
	w := zip.NewWriter(buf)
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})
	return w
}

// BuildTaskArtifactZip lazily assembles one task's case artifacts into a
// single archive and returns the blob key holding it. The result is cached
// per (submission, task); concurrent requests for the same key collapse into
// one build and share its outcome.
func (s *Store) BuildTaskArtifactZip(ctx context.Context, submissionID string, taskIndex int) (string, error) {
	flightKey := fmt.Sprintf("%s/%d", submissionID, taskIndex)
	if key, ok := s.artifacts.Load(flightKey); ok {
		return key, nil
	}

	v, err, _ := s.group.Do(flightKey, func() (any, error) {
		if key, ok := s.artifacts.Load(flightKey); ok {
			return key, nil
		}
		key, err := s.buildTaskArtifactZip(ctx, submissionID, taskIndex)
		if err != nil {
			return "", err
		}
		s.artifacts.Store(flightKey, key)
		return key, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetTaskArtifactZip builds (or reuses) the task's combined artifact archive
// and returns its bytes.
func (s *Store) GetTaskArtifactZip(ctx context.Context, submissionID string, taskIndex int) ([]byte, error) {
	key, err := s.BuildTaskArtifactZip(ctx, submissionID, taskIndex)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to load artifact archive")
	}
	return data, nil
}

func (s *Store) buildTaskArtifactZip(ctx context.Context, submissionID string, taskIndex int) (string, error) {
	sub, err := s.source.Snapshot(submissionID)
	if err != nil {
		return "", err
	}
	if taskIndex < 0 || taskIndex >= len(sub.Tasks) {
		return "", errs.New(errs.KindNotFound, "submission %s has no task %d", submissionID, taskIndex)
	}
	cfg, err := s.catalog.Get(sub.ProblemID)
	if err != nil {
		return "", err
	}
	if !cfg.ArtifactEnabled(taskIndex) {
		return "", errs.New(errs.KindNotFound,
			"artifact collection is not enabled for task %d of problem %d", taskIndex, sub.ProblemID)
	}

	s.builds.Add(1)

	var buf bytes.Buffer
	w := newZipWriter(&buf)
	wroteAny := false
	for caseIndex := range sub.Tasks[taskIndex].CasesPassed {
		caseKey := caseArtifactKey(submissionID, taskIndex, caseIndex)
		if _, ok := s.written.Load(caseKey); !ok {
			continue
		}
		data, err := s.blobs.Get(ctx, caseKey)
		if err != nil {
			return "", errs.Wrap(errs.KindInternal, err, "failed to load case artifact")
		}
		if err := copyCaseArchive(w, data, taskIndex, caseIndex); err != nil {
			return "", err
		}
		wroteAny = true
	}
	if err := w.Close(); err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "failed to finish artifact archive")
	}
	if !wroteAny {
		return "", errs.New(errs.KindNotFound,
			"task %d of submission %s produced no artifacts", taskIndex, submissionID)
	}

	key := fmt.Sprintf("submissions/%s/task_%02d/artifact.zip", submissionID, taskIndex)
	if err := s.blobs.Put(ctx, key, buf.Bytes()); err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "failed to store artifact archive")
	}
	return key, nil
}

// copyCaseArchive re-roots every entry of one case's artifact archive under
// task_XX/case_XX/ in the combined archive.
func copyCaseArchive(w *zip.Writer, data []byte, taskIndex, caseIndex int) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return errs.New(errs.KindNotFound, "invalid artifact archive: %v", err)
	}
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "failed to read artifact entry")
		}
		name := fmt.Sprintf("task_%02d/case_%02d/%s", taskIndex, caseIndex, f.Name)
		out, err := w.Create(name)
		if err != nil {
			rc.Close()
			return errs.Wrap(errs.KindInternal, err, "failed to create artifact entry")
		}
		if _, err := io.Copy(out, rc); err != nil {
			rc.Close()
			return errs.Wrap(errs.KindInternal, err, "failed to copy artifact entry")
		}
		rc.Close()
	}
	return nil
}
