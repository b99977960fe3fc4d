package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/reflectai/journal/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
// Every read that takes a user id enforces ownership: rows belonging to a
// different user come back as ErrNotFound, never as a permission error.
type Store interface {
	Ping(ctx context.Context) error

	GetDefaultUser(ctx context.Context) (*models.User, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	CreateEntry(ctx context.Context, entry *models.JournalEntry) error
	GetEntry(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.JournalEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]*models.JournalEntry, int, error)
	UpdateEntryContent(ctx context.Context, id uuid.UUID, userID uuid.UUID, title, content string) (*models.JournalEntry, error)
	CountEntries(ctx context.Context, userID uuid.UUID, start, end *time.Time) (int, error)
	ListEntriesForClustering(ctx context.Context, userID uuid.UUID, start, end *time.Time) ([]*models.JournalEntry, error)
	SetEntryEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error

	SaveRun(ctx context.Context, run *models.ClusteringRun, points []models.EmbeddingPoint, clusters []models.Cluster) error
	GetRun(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.ClusteringRun, error)
	ListRuns(ctx context.Context, userID uuid.UUID, limit int) ([]*models.ClusteringRun, error)
	GetVisualizationData(ctx context.Context, runID uuid.UUID, userID uuid.UUID) ([]models.VisualizationPoint, []models.Cluster, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	CountActiveJobs(ctx context.Context, userID uuid.UUID) (int, error)
}

// EntryFilter selects a page of entries for a user, optionally limited to an
// inclusive creation-date range.
type EntryFilter struct {
	UserID uuid.UUID
	Start  *time.Time
	End    *time.Time
	Page   int
	Limit  int
}

// JobUpdate carries the optional fields of a job status transition.
type JobUpdate struct {
	ErrorMessage *string
	RunID        *uuid.UUID
}

type JobUpdateOption func(*JobUpdate)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}

func WithRunID(id uuid.UUID) JobUpdateOption {
	return func(p *JobUpdate) {
		p.RunID = &id
	}
}
