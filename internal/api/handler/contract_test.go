package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reflectai/journal/internal/api"
	"github.com/reflectai/journal/internal/api/handler"
	mw "github.com/reflectai/journal/internal/api/middleware"
	"github.com/reflectai/journal/internal/cache"
	"github.com/reflectai/journal/internal/jobs"
	"github.com/reflectai/journal/internal/store"
	"github.com/reflectai/journal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

var (
	testUserID  = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	otherUserID = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	testRawKey  = "rj_test_contract_key_1234567890"
	testPrefix  = testRawKey[:8]
	testRunID   = uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc")
	emptyRunID  = uuid.MustParse("dddddddd-dddd-dddd-dddd-dddddddddddd")
)

func testKeyHash() string {
	h, _ := bcrypt.GenerateFromPassword([]byte(testRawKey), bcrypt.MinCost)
	return string(h)
}

// ─── mock store ──────────────────────────────────────────────────────────────

type mockStore struct {
	keys    []*models.APIKey
	entries []*models.JournalEntry
	runs    []*models.ClusteringRun
	points  map[uuid.UUID][]models.VisualizationPoint
	labels  map[uuid.UUID][]models.Cluster
}

func newMockStore() *mockStore {
	return &mockStore{
		keys: []*models.APIKey{{
			ID:        uuid.New(),
			UserID:    testUserID,
			Name:      "test-key",
			KeyHash:   testKeyHash(),
			KeyPrefix: testPrefix,
		}},
		points: map[uuid.UUID][]models.VisualizationPoint{},
		labels: map[uuid.UUID][]models.Cluster{},
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) GetDefaultUser(_ context.Context) (*models.User, error) {
	return &models.User{ID: testUserID, Email: "default@reflectai.local"}, nil
}

func (s *mockStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.keys = append(s.keys, key)
	return nil
}

func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *mockStore) CreateEntry(_ context.Context, entry *models.JournalEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *mockStore) GetEntry(_ context.Context, id uuid.UUID, userID uuid.UUID) (*models.JournalEntry, error) {
	for _, e := range s.entries {
		if e.ID == id && e.UserID == userID {
			return e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ListEntries(_ context.Context, filter store.EntryFilter) ([]*models.JournalEntry, int, error) {
	var out []*models.JournalEntry
	for _, e := range s.entries {
		if e.UserID == filter.UserID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (s *mockStore) UpdateEntryContent(_ context.Context, id uuid.UUID, userID uuid.UUID, title, content string) (*models.JournalEntry, error) {
	for _, e := range s.entries {
		if e.ID == id && e.UserID == userID {
			now := time.Now().UTC()
			e.Title, e.Content, e.EditedAt, e.Embedding = title, content, &now, nil
			return e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) CountEntries(_ context.Context, userID uuid.UUID, _, _ *time.Time) (int, error) {
	n := 0
	for _, e := range s.entries {
		if e.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *mockStore) ListEntriesForClustering(_ context.Context, userID uuid.UUID, _, _ *time.Time) ([]*models.JournalEntry, error) {
	var out []*models.JournalEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *mockStore) SetEntryEmbedding(_ context.Context, _ uuid.UUID, _ []float32) error { return nil }

func (s *mockStore) SaveRun(_ context.Context, run *models.ClusteringRun, _ []models.EmbeddingPoint, _ []models.Cluster) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *mockStore) GetRun(_ context.Context, id uuid.UUID, userID uuid.UUID) (*models.ClusteringRun, error) {
	for _, r := range s.runs {
		if r.ID == id && r.UserID == userID {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ListRuns(_ context.Context, userID uuid.UUID, limit int) ([]*models.ClusteringRun, error) {
	var out []*models.ClusteringRun
	for _, r := range s.runs {
		if r.UserID == userID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *mockStore) GetVisualizationData(_ context.Context, runID uuid.UUID, userID uuid.UUID) ([]models.VisualizationPoint, []models.Cluster, error) {
	if _, err := s.GetRun(context.Background(), runID, userID); err != nil {
		return nil, nil, err
	}
	return s.points[runID], s.labels[runID], nil
}

func (s *mockStore) CreateJob(_ context.Context, _ *models.Job) error { return nil }

func (s *mockStore) GetJob(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.Job, error) {
	return nil, store.ErrNotFound
}

func (s *mockStore) UpdateJobStatus(_ context.Context, _ uuid.UUID, _ string, _ ...store.JobUpdateOption) error {
	return nil
}

func (s *mockStore) CountActiveJobs(_ context.Context, _ uuid.UUID) (int, error) { return 0, nil }

var _ store.Store = (*mockStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type mockCache struct {
	counters map[string]int64
}

func newMockCache() *mockCache {
	return &mockCache{counters: make(map[string]int64)}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) SetJobStatus(_ context.Context, _, _ uuid.UUID, _ string, _ time.Duration) error {
	return nil
}
func (c *mockCache) GetJobStatus(_ context.Context, _, _ uuid.UUID) (string, bool, error) {
	return "", false, nil
}
func (c *mockCache) AcquireOwnerLock(_ context.Context, _ uuid.UUID, _ time.Duration) (bool, error) {
	return true, nil
}
func (c *mockCache) ReleaseOwnerLock(_ context.Context, _ uuid.UUID) error { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.counters[key]++
	return c.counters[key], nil
}

var _ cache.Cache = (*mockCache)(nil)

// ─── mock job service ────────────────────────────────────────────────────────

// mockJobService satisfies both the Submitter and TaskService contracts.
type mockJobService struct {
	submitErr error
	jobs      map[uuid.UUID]*models.Job
}

func newMockJobService() *mockJobService {
	return &mockJobService{jobs: map[uuid.UUID]*models.Job{}}
}

func (m *mockJobService) Submit(_ context.Context, userID uuid.UUID, params models.ClusteringParameters) (uuid.UUID, error) {
	if m.submitErr != nil {
		return uuid.Nil, m.submitErr
	}
	job := &models.Job{
		ID:     uuid.New(),
		UserID: userID,
		Status: models.JobStatusPending,
		Params: params,
	}
	m.jobs[job.ID] = job
	return job.ID, nil
}

func (m *mockJobService) GetStatus(_ context.Context, jobID uuid.UUID, userID uuid.UUID) (*models.Job, error) {
	if j, ok := m.jobs[jobID]; ok && j.UserID == userID {
		return j, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockJobService) Cancel(_ context.Context, jobID uuid.UUID, userID uuid.UUID) error {
	j, ok := m.jobs[jobID]
	if !ok || j.UserID != userID {
		return store.ErrNotFound
	}
	if models.JobTerminal(j.Status) {
		return jobs.ErrAlreadyTerminal
	}
	j.Status = models.JobStatusCancelled
	return nil
}

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server *httptest.Server
	store  *mockStore
	svc    *mockJobService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ms := newMockStore()
	mc := newMockCache()
	svc := newMockJobService()

	// A saved run with points plus one empty run for the NO_DATA path.
	label := "work stress"
	ms.runs = []*models.ClusteringRun{
		{ID: testRunID, UserID: testUserID, EntryCount: 2, ClusterCount: 1, Status: models.RunStatusCompleted},
		{ID: emptyRunID, UserID: testUserID, Status: models.RunStatusCompleted},
	}
	ms.points[testRunID] = []models.VisualizationPoint{
		{EmbeddingPoint: models.EmbeddingPoint{RunID: testRunID, EntryID: uuid.New(), X: 1, Y: 2, ClusterID: 0, Probability: 0.9}, Title: "deadline"},
		{EmbeddingPoint: models.EmbeddingPoint{RunID: testRunID, EntryID: uuid.New(), X: 1.5, Y: 2.2, ClusterID: 0, Probability: 0.8}, Title: ""},
	}
	ms.labels[testRunID] = []models.Cluster{
		{RunID: testRunID, ClusterID: 0, Size: 2, TopicLabel: &label},
	}

	deps := api.Dependencies{
		Auth:      mw.NewAuth(ms),
		RateLimit: mw.NewRateLimit(mc, 100),

		CreateEntryHandler: handler.NewCreateEntryHandler(ms),
		ListEntriesHandler: handler.NewListEntriesHandler(ms),
		GetEntryHandler:    handler.NewGetEntryHandler(ms),
		UpdateEntryHandler: handler.NewUpdateEntryHandler(ms),

		RunClusteringHandler:    handler.NewRunClusteringHandler(svc),
		GetTaskHandler:          handler.NewGetTaskHandler(svc),
		CancelTaskHandler:       handler.NewCancelTaskHandler(svc),
		ListRunsHandler:         handler.NewListRunsHandler(ms),
		GetVisualizationHandler: handler.NewGetVisualizationHandler(ms),
	}

	srv := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(srv.Close)

	return &testServer{server: srv, store: ms, svc: svc}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testRawKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func parseBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseBody(t, resp)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	code, _ := errObj["code"].(string)
	return code
}

// ─── auth ────────────────────────────────────────────────────────────────────

func TestAuth_MissingToken(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.server.URL+"/api/v1/entries", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, resp))
}

func TestAuth_WrongKey(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.server.URL+"/api/v1/entries", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testPrefix+"_wrong_suffix_entirely")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// ─── entries ─────────────────────────────────────────────────────────────────

func TestCreateEntry(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/entries", map[string]string{
		"title":   "first entry",
		"content": "today I started journaling",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "first entry", data["title"])
	assert.Equal(t, testUserID.String(), data["user_id"])
	assert.NotEmpty(t, data["id"])

	require.Len(t, ts.store.entries, 1)
}

func TestCreateEntry_MissingContent(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/entries", map[string]string{"title": "no body"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, resp))
}

func TestListEntries_PaginationMeta(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		ts.store.entries = append(ts.store.entries, &models.JournalEntry{
			ID: uuid.New(), UserID: testUserID, Content: fmt.Sprintf("entry %d", i),
		})
	}

	resp := ts.do(t, http.MethodGet, "/api/v1/entries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := parseBody(t, resp)
	assert.Len(t, body["data"], 3)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(1), meta["page"])
	assert.Equal(t, float64(3), meta["total"])
}

func TestListEntries_InvalidDateFilter(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/entries?start=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetEntry_OwnershipHidesOtherUsers(t *testing.T) {
	ts := newTestServer(t)
	foreign := &models.JournalEntry{ID: uuid.New(), UserID: otherUserID, Content: "not yours"}
	ts.store.entries = append(ts.store.entries, foreign)

	resp := ts.do(t, http.MethodGet, "/api/v1/entries/"+foreign.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))
}

func TestGetEntry_InvalidID(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/entries/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateEntry_ClearsEmbedding(t *testing.T) {
	ts := newTestServer(t)
	entry := &models.JournalEntry{
		ID: uuid.New(), UserID: testUserID, Content: "original", Embedding: []float32{1, 2, 3},
	}
	ts.store.entries = append(ts.store.entries, entry)

	resp := ts.do(t, http.MethodPut, "/api/v1/entries/"+entry.ID.String(), map[string]string{
		"title":   "edited",
		"content": "rewritten",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Nil(t, entry.Embedding, "edit must invalidate the stored embedding")
	assert.NotNil(t, entry.EditedAt)
}

// ─── clustering submission ───────────────────────────────────────────────────

func TestRunClustering_Accepted(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/clustering/run", map[string]any{
		"min_cluster_size": 3,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "PENDING", data["status"])
	assert.NotEmpty(t, data["task_id"])

	// Omitted fields fall back to defaults; the override sticks.
	require.Len(t, ts.svc.jobs, 1)
	for _, job := range ts.svc.jobs {
		assert.Equal(t, 3, job.Params.MinClusterSize)
		assert.Equal(t, 15, job.Params.NeighborhoodSize)
	}
}

func TestRunClustering_EmptyBodyUsesDefaults(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/clustering/run", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	for _, job := range ts.svc.jobs {
		assert.Equal(t, models.DefaultClusteringParameters(), job.Params)
	}
}

func TestRunClustering_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid parameters", jobs.ErrInvalidParameters, http.StatusBadRequest, "INVALID_PARAMETERS"},
		{"insufficient data", jobs.ErrInsufficientData, http.StatusBadRequest, "INSUFFICIENT_DATA"},
		{"job conflict", jobs.ErrJobConflict, http.StatusConflict, "JOB_CONFLICT"},
		{"queue full", jobs.ErrQueueFull, http.StatusServiceUnavailable, "QUEUE_FULL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.svc.submitErr = tt.err

			resp := ts.do(t, http.MethodPost, "/api/v1/clustering/run", nil)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, errorCode(t, resp))
		})
	}
}

// ─── task polling ────────────────────────────────────────────────────────────

func TestGetTask_StatusMapping(t *testing.T) {
	runID := uuid.New()
	failMsg := "embedding provider failure"

	tests := []struct {
		name       string
		job        models.Job
		wantStatus string
		wantResult bool
		wantError  bool
	}{
		{"pending", models.Job{Status: models.JobStatusPending}, "PENDING", false, false},
		{"running", models.Job{Status: models.JobStatusRunning}, "STARTED", false, false},
		{"succeeded", models.Job{Status: models.JobStatusSucceeded, RunID: &runID}, "SUCCESS", true, false},
		{"failed", models.Job{Status: models.JobStatusFailed, ErrorMessage: &failMsg}, "FAILURE", false, true},
		{"cancelled", models.Job{Status: models.JobStatusCancelled}, "REVOKED", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			job := tt.job
			job.ID = uuid.New()
			job.UserID = testUserID
			ts.svc.jobs[job.ID] = &job

			resp := ts.do(t, http.MethodGet, "/api/v1/tasks/"+job.ID.String(), nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			data := parseBody(t, resp)["data"].(map[string]any)
			assert.Equal(t, tt.wantStatus, data["status"])

			if tt.wantResult {
				result := data["result"].(map[string]any)
				assert.Equal(t, runID.String(), result["run_id"])
			} else {
				assert.Nil(t, data["result"])
			}
			if tt.wantError {
				assert.Equal(t, failMsg, data["error"])
			} else {
				assert.Nil(t, data["error"])
			}
		})
	}
}

func TestGetTask_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/tasks/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelTask(t *testing.T) {
	ts := newTestServer(t)
	job := &models.Job{ID: uuid.New(), UserID: testUserID, Status: models.JobStatusRunning}
	ts.svc.jobs[job.ID] = job

	resp := ts.do(t, http.MethodDelete, "/api/v1/tasks/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "REVOKED", data["status"])
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}

func TestCancelTask_AlreadyTerminal(t *testing.T) {
	ts := newTestServer(t)
	job := &models.Job{ID: uuid.New(), UserID: testUserID, Status: models.JobStatusSucceeded}
	ts.svc.jobs[job.ID] = job

	resp := ts.do(t, http.MethodDelete, "/api/v1/tasks/"+job.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_TERMINAL", errorCode(t, resp))
}

// ─── runs and visualization ──────────────────────────────────────────────────

func TestListRuns(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/clustering/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].([]any)
	assert.Len(t, data, 2)
}

func TestListRuns_InvalidLimit(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/clustering/runs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetVisualization(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/clustering/runs/"+testRunID.String()+"/visualization", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, testRunID.String(), data["run_id"])

	points := data["points"].([]any)
	require.Len(t, points, 2)
	first := points[0].(map[string]any)
	assert.Equal(t, float64(1), first["x"])
	assert.Equal(t, "deadline", first["title"])

	clusters := data["clusters"].([]any)
	require.Len(t, clusters, 1)
	assert.Equal(t, "work stress", clusters[0].(map[string]any)["topic_label"])
}

func TestGetVisualization_EmptyRun(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/clustering/runs/"+emptyRunID.String()+"/visualization", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "NO_DATA", errorCode(t, resp))
}

func TestGetVisualization_UnknownRun(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/clustering/runs/"+uuid.NewString()+"/visualization", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
