// Package collector copies GitHub Actions workflow history into the CI
// store.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"

	"github.com/livinlefevreloca/ghareport/internal/db"
)

// Config identifies the workflow to collect
type Config struct {
	Repository string `toml:"repository"` // owner/repo
	Workflow   string `toml:"workflow"`   // workflow file name, e.g. ci.yml
	Branch     string `toml:"branch"`
	PerPage    int    `toml:"per_page"`
	BaseURL    string `toml:"base_url"` // GitHub Enterprise API URL
}

// DefaultConfig returns collector defaults
func DefaultConfig() Config {
	return Config{
		Workflow: "ci.yml",
		PerPage:  100,
	}
}

// Validate checks the configuration values
func (c Config) Validate() error {
	if _, _, err := c.ownerRepo(); err != nil {
		return err
	}
	if c.Workflow == "" {
		return fmt.Errorf("workflow must be specified")
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		return fmt.Errorf("per_page must be between 1 and 100, got %d", c.PerPage)
	}
	return nil
}

func (c Config) ownerRepo() (string, string, error) {
	owner, repo, ok := strings.Cut(c.Repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/repo", c.Repository)
	}
	return owner, repo, nil
}

// NewClient returns a GitHub client authenticated with token. An empty
// token gives an anonymous client.
func NewClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	var httpClient *http.Client
	if token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	client := github.NewClient(httpClient)
	if baseURL != "" {
		return github.NewEnterpriseClient(baseURL, baseURL, httpClient)
	}
	return client, nil
}

// Store receives collected runs and jobs. *db.DB implements it.
type Store interface {
	UpsertWorkflowRun(ctx context.Context, run *db.WorkflowRun) error
	UpsertJobs(ctx context.Context, jobs []db.WorkflowRunJob) error
}

// Stats counts what a collection stored
type Stats struct {
	Runs    int
	Jobs    int
	Skipped int
}

// Collector pages through workflow runs and stores every completed one
// with the jobs of all its attempts.
type Collector struct {
	client *github.Client
	config Config
	owner  string
	repo   string
	store  Store
	logger *slog.Logger
}

// New creates a collector
func New(client *github.Client, config Config, store Store, logger *slog.Logger) (*Collector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	owner, repo, _ := config.ownerRepo()

	return &Collector{
		client: client,
		config: config,
		owner:  owner,
		repo:   repo,
		store:  store,
		logger: logger,
	}, nil
}

// Collect stores every completed run created on or after since
func (c *Collector) Collect(ctx context.Context, since time.Time) (Stats, error) {
	var stats Stats

	opts := &github.ListWorkflowRunsOptions{
		Branch:      c.config.Branch,
		Status:      "completed",
		ListOptions: github.ListOptions{PerPage: c.config.PerPage},
	}
	if !since.IsZero() {
		opts.Created = ">=" + since.UTC().Format("2006-01-02")
	}

	for {
		page, resp, err := c.client.Actions.ListWorkflowRunsByFileName(ctx, c.owner, c.repo, c.config.Workflow, opts)
		if err != nil {
			return stats, fmt.Errorf("list workflow runs: %w", err)
		}

		for _, r := range page.WorkflowRuns {
			if r.GetConclusion() == "" {
				stats.Skipped++
				continue
			}

			jobs, err := c.collectJobs(ctx, r.GetID())
			if err != nil {
				return stats, err
			}

			run := toRun(r, c.config.Workflow)
			if err := c.store.UpsertWorkflowRun(ctx, &run); err != nil {
				return stats, fmt.Errorf("store run %d: %w", run.RunID, err)
			}
			if err := c.store.UpsertJobs(ctx, jobs); err != nil {
				return stats, fmt.Errorf("store jobs of run %d: %w", run.RunID, err)
			}

			stats.Runs++
			stats.Jobs += len(jobs)
			c.logger.Debug("collected run", "run_id", run.RunID, "attempts", run.NumAttempts, "jobs", len(jobs))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.logger.Info("collection complete",
		"repository", c.config.Repository,
		"workflow", c.config.Workflow,
		"runs", stats.Runs,
		"jobs", stats.Jobs,
		"skipped", stats.Skipped)
	return stats, nil
}

// collectJobs returns the finished jobs of every attempt of a run
func (c *Collector) collectJobs(ctx context.Context, runID int64) ([]db.WorkflowRunJob, error) {
	opts := &github.ListWorkflowJobsOptions{
		Filter:      "all",
		ListOptions: github.ListOptions{PerPage: c.config.PerPage},
	}

	var jobs []db.WorkflowRunJob
	for {
		page, resp, err := c.client.Actions.ListWorkflowJobs(ctx, c.owner, c.repo, runID, opts)
		if err != nil {
			return nil, fmt.Errorf("list jobs of run %d: %w", runID, err)
		}

		for _, j := range page.Jobs {
			if j.GetConclusion() == "" || j.StartedAt == nil || j.CompletedAt == nil {
				continue
			}
			jobs = append(jobs, toJob(j, runID))
		}

		if resp.NextPage == 0 {
			return jobs, nil
		}
		opts.Page = resp.NextPage
	}
}

func toRun(r *github.WorkflowRun, workflow string) db.WorkflowRun {
	attempts := r.GetRunAttempt()
	if attempts < 1 {
		attempts = 1
	}
	return db.WorkflowRun{
		RunID:       r.GetID(),
		Workflow:    workflow,
		Title:       r.GetDisplayTitle(),
		URL:         r.GetHTMLURL(),
		HeadBranch:  r.GetHeadBranch(),
		NumAttempts: attempts,
		Conclusion:  r.GetConclusion(),
		StartedAt:   r.GetCreatedAt().Time,
		CompletedAt: r.GetUpdatedAt().Time,
	}
}

func toJob(j *github.WorkflowJob, runID int64) db.WorkflowRunJob {
	attempt := int(j.GetRunAttempt())
	if attempt < 1 {
		attempt = 1
	}
	return db.WorkflowRunJob{
		JobID:       j.GetID(),
		RunID:       runID,
		RunAttempt:  attempt,
		Name:        j.GetName(),
		Conclusion:  j.GetConclusion(),
		StartedAt:   j.GetStartedAt().Time,
		CompletedAt: j.GetCompletedAt().Time,
		URL:         j.GetHTMLURL(),
	}
}
