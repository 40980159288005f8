package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/store/postgres"
	"github.com/ignite/mailmind/internal/supervisor"
)

type fakeRunner struct {
	job *domain.Job
	err error

	gotAccount string
	gotForce   bool
}

func (f *fakeRunner) Run(ctx context.Context, accountID string, force bool) (*domain.Job, error) {
	f.gotAccount = accountID
	f.gotForce = force
	return f.job, f.err
}

type fakeJobs struct {
	status  *domain.JobStatus
	stopErr error
	stopped []string
}

func (f *fakeJobs) Status(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	if f.status == nil {
		return nil, errors.New("not found")
	}
	return f.status, nil
}

func (f *fakeJobs) Stop(ctx context.Context, jobID string) error {
	f.stopped = append(f.stopped, jobID)
	return f.stopErr
}

type fakeAPIStore struct {
	contacts []domain.Contact
	tree     *domain.KnowledgeTree
	snap     *domain.OrganizedSnapshot
	jobs     []domain.Job

	gotFilter postgres.ContactFilter
}

func (f *fakeAPIStore) ListContacts(ctx context.Context, accountID string, filter postgres.ContactFilter) ([]domain.Contact, error) {
	f.gotFilter = filter
	return f.contacts, nil
}

func (f *fakeAPIStore) GetLatestTree(ctx context.Context, accountID string) (*domain.KnowledgeTree, error) {
	if f.tree == nil {
		return nil, postgres.ErrNotFound
	}
	return f.tree, nil
}

func (f *fakeAPIStore) GetLatestSnapshot(ctx context.Context, accountID string) (*domain.OrganizedSnapshot, error) {
	if f.snap == nil {
		return nil, postgres.ErrNotFound
	}
	return f.snap, nil
}

func (f *fakeAPIStore) ListJobs(ctx context.Context, accountID string, limit int) ([]domain.Job, error) {
	return f.jobs, nil
}

func newTestServer(runner *fakeRunner, jobs *fakeJobs, store *fakeAPIStore) *Server {
	if runner == nil {
		runner = &fakeRunner{}
	}
	if jobs == nil {
		jobs = &fakeJobs{}
	}
	if store == nil {
		store = &fakeAPIStore{}
	}
	return NewServer(NewHandlers(runner, jobs, store))
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRunPipelineAccepted(t *testing.T) {
	runner := &fakeRunner{job: &domain.Job{ID: "job-1", State: domain.JobRunning}}
	srv := newTestServer(runner, nil, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/pipeline/run",
		map[string]interface{}{"account_id": "acct-1", "force": true})

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "acct-1", runner.gotAccount)
	assert.True(t, runner.gotForce)

	var st domain.JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "job-1", st.JobID)
}

func TestRunPipelineValidation(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/pipeline/run", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunPipelineConflict(t *testing.T) {
	runner := &fakeRunner{err: domain.Errf(domain.ErrKindStoreConflict, "pipeline already running for account")}
	srv := newTestServer(runner, nil, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/pipeline/run",
		map[string]interface{}{"account_id": "acct-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetJobStatus(t *testing.T) {
	jobs := &fakeJobs{status: &domain.JobStatus{
		JobID: "job-1", State: domain.JobRunning,
		Phase: domain.PhaseIngest, Progress: 27.5,
	}}
	srv := newTestServer(nil, jobs, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st domain.JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, domain.PhaseIngest, st.Phase)
	assert.Equal(t, 27.5, st.Progress)
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(nil, &fakeJobs{}, nil)
	rec := doJSON(t, srv, http.MethodGet, "/api/jobs/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopJob(t *testing.T) {
	jobs := &fakeJobs{}
	srv := newTestServer(nil, jobs, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/jobs/job-1/stop", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"job-1"}, jobs.stopped)
}

func TestStopJobNotRunning(t *testing.T) {
	jobs := &fakeJobs{stopErr: supervisor.ErrJobNotRunning}
	srv := newTestServer(nil, jobs, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/jobs/job-1/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLatestTree(t *testing.T) {
	store := &fakeAPIStore{tree: &domain.KnowledgeTree{ID: "tree-1", Version: 3}}
	srv := newTestServer(nil, nil, store)

	rec := doJSON(t, srv, http.MethodGet, "/api/tree/latest?account_id=acct-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tree domain.KnowledgeTree
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
	assert.Equal(t, 3, tree.Version)
}

func TestLatestTreeMissing(t *testing.T) {
	srv := newTestServer(nil, nil, &fakeAPIStore{})
	rec := doJSON(t, srv, http.MethodGet, "/api/tree/latest?account_id=acct-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestTreeRequiresAccount(t *testing.T) {
	srv := newTestServer(nil, nil, &fakeAPIStore{})
	rec := doJSON(t, srv, http.MethodGet, "/api/tree/latest", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListContactsFilters(t *testing.T) {
	store := &fakeAPIStore{contacts: []domain.Contact{
		{Email: "alice@example.com", TrustTier: domain.TierOne, Status: domain.StatusEstablished},
	}}
	srv := newTestServer(nil, nil, store)

	rec := doJSON(t, srv, http.MethodGet, "/api/contacts?account_id=acct-1&tier=tier1&status=established&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []domain.TrustTier{domain.TierOne}, store.gotFilter.Tiers)
	assert.Equal(t, []domain.RelationshipStatus{domain.StatusEstablished}, store.gotFilter.Statuses)
	assert.Equal(t, 10, store.gotFilter.Limit)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(nil, nil, nil)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
