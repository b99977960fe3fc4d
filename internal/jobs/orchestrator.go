// Package jobs drives asynchronous clustering runs through an explicit state
// machine: pending -> running -> succeeded/failed, with cancelled reachable
// from pending and running. Submission is synchronous and fast; the numeric
// work happens on a worker pool off the request path.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reflectai/journal/internal/clustering"
	"github.com/reflectai/journal/internal/embedding"
	"github.com/reflectai/journal/internal/store"
	"github.com/reflectai/journal/pkg/models"
)

// Store is the subset of the data layer the orchestrator needs.
type Store interface {
	CountEntries(ctx context.Context, userID uuid.UUID, start, end *time.Time) (int, error)
	ListEntriesForClustering(ctx context.Context, userID uuid.UUID, start, end *time.Time) ([]*models.JournalEntry, error)
	SetEntryEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	SaveRun(ctx context.Context, run *models.ClusteringRun, points []models.EmbeddingPoint, clusters []models.Cluster) error
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error
	CountActiveJobs(ctx context.Context, userID uuid.UUID) (int, error)
}

// StatusCache mirrors job status for pollers and holds the per-owner
// active-job lock. Status entries are keyed by owner and job together, so a
// cached status can never answer another user's poll.
type StatusCache interface {
	SetJobStatus(ctx context.Context, userID, jobID uuid.UUID, status string, ttl time.Duration) error
	GetJobStatus(ctx context.Context, userID, jobID uuid.UUID) (string, bool, error)
	AcquireOwnerLock(ctx context.Context, userID uuid.UUID, ttl time.Duration) (bool, error)
	ReleaseOwnerLock(ctx context.Context, userID uuid.UUID) error
}

// Options tunes the orchestrator's worker pool and retention behavior.
type Options struct {
	Workers    int
	QueueSize  int
	StatusTTL  time.Duration
	EmbedBatch int
}

type task struct {
	jobID  uuid.UUID
	userID uuid.UUID
	params models.ClusteringParameters
}

// Orchestrator validates submissions, owns the job state machine, and runs
// the clustering pipeline on its worker pool. It is the only component that
// translates lower-level failures into job terminal states.
type Orchestrator struct {
	store    Store
	cache    StatusCache
	provider embedding.Provider
	engine   *clustering.Engine
	opts     Options

	queue chan task
	wg    sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. Call Start before submitting.
func NewOrchestrator(st Store, ca StatusCache, provider embedding.Provider, engine *clustering.Engine, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 16
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 30 * time.Minute
	}
	if opts.EmbedBatch < 1 {
		opts.EmbedBatch = 32
	}
	return &Orchestrator{
		store:    st,
		cache:    ca,
		provider: provider,
		engine:   engine,
		opts:     opts,
		queue:    make(chan task, opts.QueueSize),
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-o.queue:
					o.execute(t)
				}
			}
		}()
	}
}

// Wait blocks until all workers have stopped.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Submit validates parameters and the candidate entry set, enforces the
// one-active-job-per-owner policy, creates a pending job, and hands it to the
// worker pool. The job id is returned before any computation starts.
func (o *Orchestrator) Submit(ctx context.Context, userID uuid.UUID, params models.ClusteringParameters) (uuid.UUID, error) {
	if err := params.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	count, err := o.store.CountEntries(ctx, userID, params.StartDate, params.EndDate)
	if err != nil {
		return uuid.Nil, fmt.Errorf("counting entries: %w", err)
	}
	if count < params.MinClusterSize {
		return uuid.Nil, fmt.Errorf("%w: %d entries in range, need at least %d",
			ErrInsufficientData, count, params.MinClusterSize)
	}

	// Redis lock is the fast path; the database count is authoritative in
	// case the lock expired under a still-active job.
	locked, err := o.cache.AcquireOwnerLock(ctx, userID, o.opts.StatusTTL)
	if err != nil {
		return uuid.Nil, fmt.Errorf("acquiring owner lock: %w", err)
	}
	if !locked {
		return uuid.Nil, ErrJobConflict
	}
	active, err := o.store.CountActiveJobs(ctx, userID)
	if err != nil {
		_ = o.cache.ReleaseOwnerLock(ctx, userID)
		return uuid.Nil, fmt.Errorf("counting active jobs: %w", err)
	}
	if active > 0 {
		_ = o.cache.ReleaseOwnerLock(ctx, userID)
		return uuid.Nil, ErrJobConflict
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    models.JobStatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		_ = o.cache.ReleaseOwnerLock(ctx, userID)
		return uuid.Nil, fmt.Errorf("creating job: %w", err)
	}
	_ = o.cache.SetJobStatus(ctx, userID, job.ID, models.JobStatusPending, o.opts.StatusTTL)

	select {
	case o.queue <- task{jobID: job.ID, userID: userID, params: params}:
	default:
		// The job must not linger in pending or the owner's active-job
		// check would reject every later submission.
		msg := "worker queue full"
		if err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage(msg)); err != nil {
			slog.Error("failing overflow job", "job_id", job.ID, "error", err)
		}
		_ = o.cache.SetJobStatus(ctx, userID, job.ID, models.JobStatusFailed, o.opts.StatusTTL)
		_ = o.cache.ReleaseOwnerLock(ctx, userID)
		return uuid.Nil, ErrQueueFull
	}

	return job.ID, nil
}

// GetStatus returns the job for a poller. A job owned by a different user is
// indistinguishable from a missing one. Pending and running polls are served
// from the owner-scoped cache mirror when present; terminal statuses carry a
// run id or error detail that only the database row has, so they always read
// through.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID uuid.UUID, userID uuid.UUID) (*models.Job, error) {
	status, ok, err := o.cache.GetJobStatus(ctx, userID, jobID)
	if err == nil && ok && !models.JobTerminal(status) {
		return &models.Job{ID: jobID, UserID: userID, Status: status}, nil
	}
	return o.store.GetJob(ctx, jobID, userID)
}

// Cancel marks a pending or running job cancelled. The worker observes the
// new state at its next checkpoint; in-flight numeric work is not
// interrupted.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID, userID uuid.UUID) error {
	job, err := o.store.GetJob(ctx, jobID, userID)
	if err != nil {
		return err
	}
	if models.JobTerminal(job.Status) {
		return ErrAlreadyTerminal
	}

	if err := o.store.UpdateJobStatus(ctx, jobID, models.JobStatusCancelled); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Finished between the read and the update.
			return ErrAlreadyTerminal
		}
		return err
	}
	_ = o.cache.SetJobStatus(ctx, userID, jobID, models.JobStatusCancelled, o.opts.StatusTTL)
	_ = o.cache.ReleaseOwnerLock(ctx, userID)

	slog.Info("job cancelled", "job_id", jobID)
	return nil
}
