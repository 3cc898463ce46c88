package httpsrv_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/normal-oj/submissions/api"
	"github.com/normal-oj/submissions/internal/blob"
	"github.com/normal-oj/submissions/internal/events"
	"github.com/normal-oj/submissions/internal/httpsrv"
	"github.com/normal-oj/submissions/internal/quota"
	"github.com/normal-oj/submissions/internal/results"
	"github.com/normal-oj/submissions/internal/stats"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/internal/substore"
	"github.com/normal-oj/submissions/internal/upload"
)

type fixture struct {
	server *httpsrv.Server
	blobs  *blob.MemoryStore
}

func newFixture(t *testing.T, cfgs ...subm.ProblemConfig) *fixture {
	t.Helper()
	logger := slog.Default()
	catalog := subm.NewCatalog()
	for _, cfg := range cfgs {
		catalog.Put(cfg)
	}
	blobs := blob.NewMemoryStore()
	uploads := upload.NewCoordinator(blobs, catalog, logger, 15*time.Minute, time.Hour)
	subs := substore.NewStore(catalog, quota.NewEnforcer(catalog), uploads, blobs, events.Noop{}, subm.WeightedScorePolicy)
	resultStore := results.NewStore(blobs, catalog, subs)
	aggregator := stats.NewAggregator(subs)

	return &fixture{
		server: httpsrv.New(catalog, subs, uploads, resultStore, aggregator, logger),
		blobs:  blobs,
	}
}

type ident struct {
	user    string
	role    string
	teaches string
}

var (
	teacher = ident{user: "t1", role: "teacher", teaches: "algo"}
	alice   = ident{user: "alice", role: "student"}
	mallory = ident{user: "mallory", role: "student"}
)

func (f *fixture) do(t *testing.T, id ident, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id.user != "" {
		req.Header.Set("X-User", id.user)
		req.Header.Set("X-Role", id.role)
		if id.teaches != "" {
			req.Header.Set("X-Teaches", id.teaches)
		}
	}
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// uploadBundle drives the whole chunked upload of a problem's test cases
// through the HTTP surface, pushing parts straight into the memory store the
// way a real client follows presigned URLs.
func (f *fixture) uploadBundle(t *testing.T, problemID int, payload []byte, partSize int64) {
	t.Helper()
	resp := f.do(t, teacher, http.MethodPost,
		fmt.Sprintf("/problem/%d/initiate-test-case-upload", problemID),
		api.InitiateUploadReq{Length: int64(len(payload)), PartSize: partSize})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := decode[api.UploadSessionResp](t, resp)

	reported := make([]api.ReportedPart, 0, sess.PartCount)
	for n := int32(1); n <= sess.PartCount; n++ {
		resp = f.do(t, teacher, http.MethodGet,
			fmt.Sprintf("/problem/%d/test-case-upload-url?part_number=%d", problemID, n), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		loc := decode[api.PartLocationResp](t, resp)

		var uploadID string
		_, err := fmt.Sscanf(loc.URL, "memory://uploads/%36s/", &uploadID)
		require.NoError(t, err)

		start := int64(n-1) * partSize
		end := start + partSize
		if end > int64(len(payload)) {
			end = int64(len(payload))
		}
		etag, err := f.blobs.UploadPart(context.Background(), uploadID, n, payload[start:end])
		require.NoError(t, err)

		resp = f.do(t, teacher, http.MethodPost,
			fmt.Sprintf("/upload-session/%s/part/%d", sess.SessionID, n),
			api.ReportPartReq{ETag: etag})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		reported = append(reported, api.ReportedPart{PartNumber: n, ETag: etag})
	}

	resp = f.do(t, teacher, http.MethodPut,
		fmt.Sprintf("/problem/%d/complete-test-case-upload", problemID),
		api.CompleteUploadReq{SessionID: sess.SessionID, Parts: reported})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	completed := decode[api.UploadSessionResp](t, resp)
	require.Equal(t, "completed", completed.State)
}

func TestIdentityIsRequired(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1, Course: "algo"})
	resp := f.do(t, ident{}, http.MethodGet, "/submission", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUploadRequiresCourseStaff(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1, Course: "algo"})

	resp := f.do(t, alice, http.MethodPost, "/problem/1/initiate-test-case-upload",
		api.InitiateUploadReq{Length: 10, PartSize: 10})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// teacher of a different course is staff of nothing here
	outsider := ident{user: "t2", role: "teacher", teaches: "calculus"}
	resp = f.do(t, outsider, http.MethodPost, "/problem/1/initiate-test-case-upload",
		api.InitiateUploadReq{Length: 10, PartSize: 10})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, teacher, http.MethodPost, "/problem/404/initiate-test-case-upload",
		api.InitiateUploadReq{Length: 10, PartSize: 10})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmissionFlow(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1, Course: "algo", Quota: 2})

	// no bundle yet: submissions are rejected
	resp := f.do(t, alice, http.MethodPost, "/submission",
		api.CreateSubmissionReq{ProblemID: 1, Language: "c", Kind: "source", Payload: []byte("int main(){}")})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.uploadBundle(t, 1, []byte("test case bundle payload"), 10)

	resp = f.do(t, alice, http.MethodPost, "/submission",
		api.CreateSubmissionReq{ProblemID: 1, Language: "c", Kind: "source", Payload: []byte("int main(){}")})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	sid := created["submission_id"].(string)
	require.NotEmpty(t, sid)

	// owner sees their submission, a stranger does not
	resp = f.do(t, alice, http.MethodGet, "/submission/"+sid, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[api.SubmissionView](t, resp)
	require.Equal(t, "alice", view.User)
	require.NotNil(t, view.Code)

	resp = f.do(t, mallory, http.MethodGet, "/submission/"+sid, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// second submission exhausts the remaining quota, the third is rejected
	resp = f.do(t, alice, http.MethodPost, "/submission",
		api.CreateSubmissionReq{ProblemID: 1, Language: "c", Kind: "source"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = f.do(t, alice, http.MethodPost, "/submission",
		api.CreateSubmissionReq{ProblemID: 1, Language: "c", Kind: "source"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp = f.do(t, alice, http.MethodGet, "/submission?problem=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[api.SubmissionListResp](t, resp)
	require.Equal(t, 2, list.Total)
}

func TestHandwrittenSubmissionNeedsNoLanguage(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1, Course: "algo"})
	f.uploadBundle(t, 1, []byte("bundle"), 6)

	resp := f.do(t, alice, http.MethodPost, "/submission",
		api.CreateSubmissionReq{ProblemID: 1, Kind: "handwritten", Payload: []byte("scan bytes")})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// everything else still declares its language
	resp = f.do(t, alice, http.MethodPost, "/submission",
		api.CreateSubmissionReq{ProblemID: 1, Kind: "source", Payload: []byte("int main(){}")})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListRejectsBadPaging(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1, Course: "algo"})

	for _, path := range []string{
		"/submission?offset=abc",
		"/submission?count=xyz",
		"/submission?offset=-1",
		"/submission?count=-2",
		"/submission?problem=first",
	} {
		resp := f.do(t, alice, http.MethodGet, path, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestOutputEndpointKindHandling(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1, Course: "algo", CanViewStdout: true})
	f.uploadBundle(t, 1, []byte("bundle"), 6)

	resp := f.do(t, alice, http.MethodPost, "/submission",
		api.CreateSubmissionReq{ProblemID: 1, Language: "c", Kind: "source"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	sid := created["submission_id"].(string)

	// kind defaults to stdout; no results recorded yet, so the task is unknown
	resp = f.do(t, alice, http.MethodGet, "/submission/"+sid+"/output/0/0", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, alice, http.MethodGet, "/submission/"+sid+"/output/0/0?kind=telemetry", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsEndpoints(t *testing.T) {
	f := newFixture(t, subm.ProblemConfig{ProblemID: 1, Course: "algo"})

	resp := f.do(t, alice, http.MethodGet, "/problem/1/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[api.StatsSnapshot](t, resp)
	require.Zero(t, snap.SubmitterCount)

	resp = f.do(t, alice, http.MethodGet, "/problem/1/high-score", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, alice, http.MethodGet, "/problem/404/stats", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, alice, http.MethodGet, "/problem/1/pass-rate?task=0&case=0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, alice, http.MethodGet, "/problem/1/pass-rate", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
