package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/reflectai/journal/internal/clustering"
	"github.com/reflectai/journal/internal/store"
	"github.com/reflectai/journal/pkg/models"
)

// Failure classifications recorded on failed jobs. The raw cause stays in the
// server log; clients only see the classification and a short message.
const (
	failureValidation  = "validation"
	failureProvider    = "embedding provider failure"
	failureComputation = "internal computation error"
)

// execute runs one clustering job end to end. It recovers from panics and
// always leaves the job in a terminal state unless it was cancelled out from
// under it. Cancellation is cooperative: checked before embedding and before
// the clustering step.
func (o *Orchestrator) execute(t task) {
	ctx := context.Background()
	log := slog.With("job_id", t.jobID, "user_id", t.userID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in clustering job", "error", r)
			o.failJob(ctx, t, failureComputation, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := o.store.UpdateJobStatus(ctx, t.jobID, models.JobStatusRunning); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Cancelled before the worker picked it up.
			log.Info("job no longer pending, skipping")
			return
		}
		log.Error("marking job running", "error", err)
		return
	}
	_ = o.cache.SetJobStatus(ctx, t.userID, t.jobID, models.JobStatusRunning, o.opts.StatusTTL)
	log.Info("clustering job started")

	entries, err := o.store.ListEntriesForClustering(ctx, t.userID, t.params.StartDate, t.params.EndDate)
	if err != nil {
		o.failJob(ctx, t, failureComputation, "loading entries failed")
		return
	}
	if len(entries) < t.params.MinClusterSize {
		// The entry set shrank between submission and execution.
		o.failJob(ctx, t, failureValidation,
			fmt.Sprintf("only %d entries available, need %d", len(entries), t.params.MinClusterSize))
		return
	}

	if o.cancelled(ctx, t) {
		return
	}

	if err := o.embedMissing(ctx, entries); err != nil {
		log.Error("embedding generation failed", "error", err)
		o.failJob(ctx, t, failureProvider, "embedding generation failed")
		return
	}

	if o.cancelled(ctx, t) {
		return
	}

	embeddings := make([][]float32, len(entries))
	for i, e := range entries {
		embeddings[i] = e.Embedding
	}

	result, err := o.engine.Cluster(embeddings, t.params)
	if err != nil {
		log.Error("clustering pipeline failed", "error", err)
		o.failJob(ctx, t, failureComputation, failureComputation)
		return
	}

	if o.cancelled(ctx, t) {
		return
	}

	run, points, clusters := buildRun(t.userID, entries, t.params, result)
	if err := o.store.SaveRun(ctx, run, points, clusters); err != nil {
		log.Error("persisting run failed", "error", err)
		o.failJob(ctx, t, failureComputation, "persisting run failed")
		return
	}

	if err := o.store.UpdateJobStatus(ctx, t.jobID, models.JobStatusSucceeded, store.WithRunID(run.ID)); err != nil {
		// Cancelled during the final save; the run stays, the job does not
		// flip back.
		log.Warn("marking job succeeded", "error", err)
		return
	}
	_ = o.cache.SetJobStatus(ctx, t.userID, t.jobID, models.JobStatusSucceeded, o.opts.StatusTTL)
	_ = o.cache.ReleaseOwnerLock(ctx, t.userID)
	log.Info("clustering job succeeded",
		"run_id", run.ID, "entries", run.EntryCount, "clusters", run.ClusterCount)
}

// cancelled checks the job's current state at a safe boundary.
func (o *Orchestrator) cancelled(ctx context.Context, t task) bool {
	job, err := o.store.GetJob(ctx, t.jobID, t.userID)
	if err != nil {
		return false
	}
	return job.Status == models.JobStatusCancelled
}

func (o *Orchestrator) failJob(ctx context.Context, t task, classification, detail string) {
	msg := classification
	if detail != "" && detail != classification {
		msg = fmt.Sprintf("%s: %s", classification, detail)
	}
	err := o.store.UpdateJobStatus(ctx, t.jobID, models.JobStatusFailed, store.WithErrorMessage(msg))
	if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		slog.Error("marking job failed", "job_id", t.jobID, "error", err)
	}
	_ = o.cache.SetJobStatus(ctx, t.userID, t.jobID, models.JobStatusFailed, o.opts.StatusTTL)
	_ = o.cache.ReleaseOwnerLock(ctx, t.userID)
}

// embedMissing generates and persists embeddings for entries that lack one.
// Persistence is idempotent per entry, so a retried batch never duplicates or
// overwrites stored vectors.
func (o *Orchestrator) embedMissing(ctx context.Context, entries []*models.JournalEntry) error {
	var missing []*models.JournalEntry
	for _, e := range entries {
		if e.Embedding == nil {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	for start := 0; start < len(missing); start += o.opts.EmbedBatch {
		end := start + o.opts.EmbedBatch
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = e.Content
		}

		vectors, err := o.provider.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		for i, e := range batch {
			if err := o.store.SetEntryEmbedding(ctx, e.ID, vectors[i]); err != nil {
				return fmt.Errorf("store embedding for entry %s: %w", e.ID, err)
			}
			e.Embedding = vectors[i]
		}
	}
	return nil
}

// buildRun assembles the persistent records for a completed pipeline result.
// Topic labels come from each cluster's highest-probability entry title;
// clusters whose representative has no title stay unlabeled.
func buildRun(userID uuid.UUID, entries []*models.JournalEntry, params models.ClusteringParameters, result *clustering.Result) (*models.ClusteringRun, []models.EmbeddingPoint, []models.Cluster) {
	runID := uuid.New()

	points := make([]models.EmbeddingPoint, len(entries))
	for i, e := range entries {
		points[i] = models.EmbeddingPoint{
			RunID:       runID,
			EntryID:     e.ID,
			X:           result.Coordinates[i][0],
			Y:           result.Coordinates[i][1],
			ClusterID:   result.ClusterIDs[i],
			Probability: result.Probabilities[i],
		}
	}

	representative := map[int]int{} // cluster id -> entry index
	for i, id := range result.ClusterIDs {
		if id == models.NoiseClusterID {
			continue
		}
		best, ok := representative[id]
		if !ok || result.Probabilities[i] > result.Probabilities[best] {
			representative[id] = i
		}
	}

	clusterIDs := make([]int, 0, len(result.ClusterSizes))
	for id := range result.ClusterSizes {
		clusterIDs = append(clusterIDs, id)
	}
	sort.Ints(clusterIDs)

	clusters := make([]models.Cluster, 0, len(clusterIDs))
	for _, id := range clusterIDs {
		c := models.Cluster{
			RunID:     runID,
			ClusterID: id,
			Size:      result.ClusterSizes[id],
		}
		if idx, ok := representative[id]; ok && entries[idx].Title != "" {
			label := entries[idx].Title
			c.TopicLabel = &label
		}
		clusters = append(clusters, c)
	}

	run := &models.ClusteringRun{
		ID:           runID,
		UserID:       userID,
		Params:       params,
		StartDate:    params.StartDate,
		EndDate:      params.EndDate,
		EntryCount:   len(entries),
		ClusterCount: len(clusters),
		Status:       models.RunStatusCompleted,
		CreatedAt:    time.Now().UTC(),
	}
	return run, points, clusters
}
