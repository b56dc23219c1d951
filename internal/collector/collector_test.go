package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v53/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/ghareport/internal/db"
	"github.com/livinlefevreloca/ghareport/internal/testutil"
)

type memoryStore struct {
	mu       sync.Mutex
	runs     map[int64]db.WorkflowRun
	jobs     map[int64]db.WorkflowRunJob
	runError error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{runs: make(map[int64]db.WorkflowRun), jobs: make(map[int64]db.WorkflowRunJob)}
}

func (s *memoryStore) UpsertWorkflowRun(_ context.Context, run *db.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runError != nil {
		return s.runError
	}
	s.runs[run.RunID] = *run
	return nil
}

func (s *memoryStore) UpsertJobs(_ context.Context, jobs []db.WorkflowRunJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		s.jobs[j.JobID] = j
	}
	return nil
}

const runsPath = "/repos/acme/widgets/actions/workflows/ci.yml/runs"

func newTestCollector(t *testing.T, mux *http.ServeMux, store Store) *Collector {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := github.NewClient(server.Client())
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	cfg := DefaultConfig()
	cfg.Repository = "acme/widgets"
	cfg.PerPage = 2
	c, err := New(client, cfg, store, testutil.NewTestLogger().Logger())
	require.NoError(t, err)
	return c
}

func runJSON(id int64, attempt int, conclusion string) string {
	return fmt.Sprintf(`{
		"id": %d,
		"display_title": "Fix %d",
		"html_url": "https://github.com/acme/widgets/actions/runs/%d",
		"head_branch": "main",
		"run_attempt": %d,
		"status": "completed",
		"conclusion": %q,
		"created_at": "2024-01-15T10:00:00Z",
		"updated_at": "2024-01-15T10:45:00Z"
	}`, id, id, id, attempt, conclusion)
}

func jobJSON(id, runID int64, attempt int, name, conclusion string) string {
	return fmt.Sprintf(`{
		"id": %d,
		"run_id": %d,
		"run_attempt": %d,
		"name": %q,
		"conclusion": %q,
		"html_url": "https://github.com/acme/widgets/actions/runs/%d/job/%d",
		"started_at": "2024-01-15T10:01:00Z",
		"completed_at": "2024-01-15T10:21:00Z"
	}`, id, runID, attempt, name, conclusion, runID, id)
}

func TestCollect_PagesAndStores(t *testing.T) {
	mux := http.NewServeMux()
	var created string
	mux.HandleFunc(runsPath, func(w http.ResponseWriter, r *http.Request) {
		created = r.URL.Query().Get("created")
		assert.Equal(t, "completed", r.URL.Query().Get("status"))

		if r.URL.Query().Get("page") == "2" {
			fmt.Fprintf(w, `{"total_count": 3, "workflow_runs": [%s]}`, runJSON(3, 1, "failure"))
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s?page=2>; rel="next", <%s?page=2>; rel="last"`, runsPath, runsPath))
		fmt.Fprintf(w, `{"total_count": 3, "workflow_runs": [%s, %s]}`, runJSON(1, 2, "success"), runJSON(2, 1, ""))
	})
	mux.HandleFunc("/repos/acme/widgets/actions/runs/1/jobs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("filter"))
		fmt.Fprintf(w, `{"total_count": 3, "jobs": [%s, %s, %s]}`,
			jobJSON(11, 1, 1, "test (1)", "failure"),
			jobJSON(12, 1, 2, "test (1)", "success"),
			`{"id": 13, "run_id": 1, "name": "pending", "status": "queued"}`)
	})
	mux.HandleFunc("/repos/acme/widgets/actions/runs/3/jobs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"total_count": 1, "jobs": [%s]}`, jobJSON(31, 3, 1, "build", "failure"))
	})

	store := newMemoryStore()
	c := newTestCollector(t, mux, store)

	stats, err := c.Collect(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, Stats{Runs: 2, Jobs: 3, Skipped: 1}, stats)
	assert.Equal(t, ">=2024-01-01", created)

	run := store.runs[1]
	assert.Equal(t, "Fix 1", run.Title)
	assert.Equal(t, "ci.yml", run.Workflow)
	assert.Equal(t, 2, run.NumAttempts)
	assert.Equal(t, db.ConclusionSuccess, run.Conclusion)
	assert.Equal(t, 45*time.Minute, run.Duration())

	job := store.jobs[12]
	assert.Equal(t, int64(1), job.RunID)
	assert.Equal(t, 2, job.RunAttempt)
	assert.Equal(t, 20*time.Minute, job.Duration())

	_, pending := store.jobs[13]
	assert.False(t, pending)
	_, inProgress := store.runs[2]
	assert.False(t, inProgress)
}

func TestCollect_NoSinceSendsNoFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(runsPath, func(w http.ResponseWriter, r *http.Request) {
		_, has := r.URL.Query()["created"]
		assert.False(t, has)
		fmt.Fprint(w, `{"total_count": 0, "workflow_runs": []}`)
	})

	stats, err := newTestCollector(t, mux, newMemoryStore()).Collect(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestCollect_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(runsPath, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Bad credentials"}`, http.StatusUnauthorized)
	})

	_, err := newTestCollector(t, mux, newMemoryStore()).Collect(context.Background(), time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list workflow runs")
}

func TestCollect_StoreError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(runsPath, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"total_count": 1, "workflow_runs": [%s]}`, runJSON(1, 1, "success"))
	})
	mux.HandleFunc("/repos/acme/widgets/actions/runs/1/jobs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_count": 0, "jobs": []}`)
	})

	store := newMemoryStore()
	store.runError = errors.New("disk full")

	_, err := newTestCollector(t, mux, store).Collect(context.Background(), time.Time{})
	assert.ErrorContains(t, err, "disk full")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing repository", func(c *Config) { c.Repository = "" }, true},
		{"no owner", func(c *Config) { c.Repository = "/widgets" }, true},
		{"too many parts", func(c *Config) { c.Repository = "acme/widgets/extra" }, true},
		{"no workflow", func(c *Config) { c.Workflow = "" }, true},
		{"page too large", func(c *Config) { c.PerPage = 101 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Repository = "acme/widgets"
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewClient_EnterpriseURL(t *testing.T) {
	client, err := NewClient(context.Background(), "token", "https://github.example.com/api/v3/")
	require.NoError(t, err)
	assert.Equal(t, "github.example.com", client.BaseURL.Host)
}
