package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/reflectai/journal/pkg/models"
)

// ErrInvalidTransition is returned when a job status update would violate the
// one-directional state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) GetDefaultUser(ctx context.Context) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at, updated_at FROM users WHERE email = 'default@reflectai.local' LIMIT 1`,
	).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default user: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// --- Journal Entries ---

func (s *PostgresStore) CreateEntry(ctx context.Context, entry *models.JournalEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO journal_entries (id, user_id, title, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.UserID, entry.Title, entry.Content, entry.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.JournalEntry, error) {
	var e models.JournalEntry
	var emb *pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, content, embedding, edited_at, created_at
		 FROM journal_entries WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&e.ID, &e.UserID, &e.Title, &e.Content, &emb, &e.EditedAt, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	if emb != nil {
		e.Embedding = emb.Slice()
	}
	return &e, nil
}

// ListEntries returns a page of entries, newest first. The date-range filter
// is inclusive on both ends.
func (s *PostgresStore) ListEntries(ctx context.Context, filter EntryFilter) ([]*models.JournalEntry, int, error) {
	where := entryWhere(filter.UserID, filter.Start, filter.End)

	countSQL, countArgs, err := psql.Select("COUNT(*)").From("journal_entries").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataSQL, dataArgs, err := psql.
		Select("id", "user_id", "title", "content", "edited_at", "created_at").
		From("journal_entries").
		Where(where).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.pool.Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.Content, &e.EditedAt, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

// UpdateEntryContent edits an entry's title and content, stamps edited_at,
// and clears the stored embedding so the next clustering run regenerates it.
func (s *PostgresStore) UpdateEntryContent(ctx context.Context, id uuid.UUID, userID uuid.UUID, title, content string) (*models.JournalEntry, error) {
	var e models.JournalEntry
	err := s.pool.QueryRow(ctx,
		`UPDATE journal_entries
		 SET title = $3, content = $4, edited_at = NOW(), embedding = NULL
		 WHERE id = $1 AND user_id = $2
		 RETURNING id, user_id, title, content, edited_at, created_at`,
		id, userID, title, content,
	).Scan(&e.ID, &e.UserID, &e.Title, &e.Content, &e.EditedAt, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) CountEntries(ctx context.Context, userID uuid.UUID, start, end *time.Time) (int, error) {
	countSQL, args, err := psql.Select("COUNT(*)").From("journal_entries").
		Where(entryWhere(userID, start, end)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return total, nil
}

// ListEntriesForClustering returns the full entry set for a run, oldest
// first, with stored embeddings loaded. Entries without an embedding come
// back with a nil Embedding slice.
func (s *PostgresStore) ListEntriesForClustering(ctx context.Context, userID uuid.UUID, start, end *time.Time) ([]*models.JournalEntry, error) {
	dataSQL, args, err := psql.
		Select("id", "user_id", "title", "content", "embedding", "edited_at", "created_at").
		From("journal_entries").
		Where(entryWhere(userID, start, end)).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build clustering query: %w", err)
	}

	rows, err := s.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries for clustering: %w", err)
	}
	defer rows.Close()

	var entries []*models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var emb *pgvector.Vector
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.Content, &emb, &e.EditedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if emb != nil {
			e.Embedding = emb.Slice()
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// SetEntryEmbedding stores a generated embedding. The guard on embedding IS
// NULL makes retried generation idempotent: a vector already persisted for
// the entry is never overwritten.
func (s *PostgresStore) SetEntryEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE journal_entries SET embedding = $2 WHERE id = $1 AND embedding IS NULL`,
		id, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("set entry embedding: %w", err)
	}
	return nil
}

func entryWhere(userID uuid.UUID, start, end *time.Time) sq.And {
	where := sq.And{sq.Eq{"user_id": userID}}
	if start != nil {
		where = append(where, sq.GtOrEq{"created_at": *start})
	}
	if end != nil {
		where = append(where, sq.LtOrEq{"created_at": *end})
	}
	return where
}

// --- Clustering Runs ---

// SaveRun persists a run header, its points, and its cluster summaries in a
// single transaction. Readers never observe a run without its points.
func (s *PostgresStore) SaveRun(ctx context.Context, run *models.ClusteringRun, points []models.EmbeddingPoint, clusters []models.Cluster) error {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshal run params: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save run: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO clustering_runs (id, user_id, params, start_date, end_date, entry_count, cluster_count, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.UserID, paramsJSON, run.StartDate, run.EndDate,
		run.EntryCount, run.ClusterCount, run.Status, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(points) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"embedding_points"},
			[]string{"run_id", "entry_id", "x", "y", "cluster_id", "probability"},
			pgx.CopyFromSlice(len(points), func(i int) ([]any, error) {
				p := points[i]
				return []any{p.RunID, p.EntryID, p.X, p.Y, p.ClusterID, p.Probability}, nil
			}))
		if err != nil {
			return fmt.Errorf("insert points: %w", err)
		}
	}

	for _, c := range clusters {
		_, err = tx.Exec(ctx,
			`INSERT INTO run_clusters (run_id, cluster_id, size, topic_label)
			 VALUES ($1, $2, $3, $4)`,
			c.RunID, c.ClusterID, c.Size, c.TopicLabel)
		if err != nil {
			return fmt.Errorf("insert cluster summary: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.ClusteringRun, error) {
	var r models.ClusteringRun
	var paramsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, params, start_date, end_date, entry_count, cluster_count, status, created_at
		 FROM clustering_runs WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&r.ID, &r.UserID, &paramsJSON, &r.StartDate, &r.EndDate,
		&r.EntryCount, &r.ClusterCount, &r.Status, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
		return nil, fmt.Errorf("unmarshal run params: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, userID uuid.UUID, limit int) ([]*models.ClusteringRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, params, start_date, end_date, entry_count, cluster_count, status, created_at
		 FROM clustering_runs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ClusteringRun
	for rows.Next() {
		var r models.ClusteringRun
		var paramsJSON []byte
		if err := rows.Scan(&r.ID, &r.UserID, &paramsJSON, &r.StartDate, &r.EndDate,
			&r.EntryCount, &r.ClusterCount, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
			return nil, fmt.Errorf("unmarshal run params: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// GetVisualizationData loads a run's points (joined with entry titles) and
// cluster summaries. Ownership is checked against the run header first so an
// unowned run id is indistinguishable from a missing one.
func (s *PostgresStore) GetVisualizationData(ctx context.Context, runID uuid.UUID, userID uuid.UUID) ([]models.VisualizationPoint, []models.Cluster, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM clustering_runs WHERE id = $1 AND user_id = $2)`,
		runID, userID).Scan(&exists)
	if err != nil {
		return nil, nil, fmt.Errorf("check run ownership: %w", err)
	}
	if !exists {
		return nil, nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx,
		`SELECT p.run_id, p.entry_id, p.x, p.y, p.cluster_id, p.probability, e.title
		 FROM embedding_points p
		 JOIN journal_entries e ON e.id = p.entry_id
		 WHERE p.run_id = $1
		 ORDER BY p.entry_id`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("load run points: %w", err)
	}
	defer rows.Close()

	var points []models.VisualizationPoint
	for rows.Next() {
		var p models.VisualizationPoint
		if err := rows.Scan(&p.RunID, &p.EntryID, &p.X, &p.Y, &p.ClusterID, &p.Probability, &p.Title); err != nil {
			return nil, nil, fmt.Errorf("scan run point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	crows, err := s.pool.Query(ctx,
		`SELECT run_id, cluster_id, size, topic_label
		 FROM run_clusters WHERE run_id = $1 ORDER BY cluster_id`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("load run clusters: %w", err)
	}
	defer crows.Close()

	var clusters []models.Cluster
	for crows.Next() {
		var c models.Cluster
		if err := crows.Scan(&c.RunID, &c.ClusterID, &c.Size, &c.TopicLabel); err != nil {
			return nil, nil, fmt.Errorf("scan run cluster: %w", err)
		}
		clusters = append(clusters, c)
	}
	return points, clusters, crows.Err()
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal job params: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, status, params, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.UserID, job.Status, paramsJSON, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error) {
	var j models.Job
	var paramsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, status, params, run_id, error_message, started_at, completed_at, created_at, updated_at
		 FROM jobs WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&j.ID, &j.UserID, &j.Status, &paramsJSON, &j.RunID, &j.ErrorMessage,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if err := json.Unmarshal(paramsJSON, &j.Params); err != nil {
		return nil, fmt.Errorf("unmarshal job params: %w", err)
	}
	return &j, nil
}

// validTransitions encodes the one-directional job state machine. Terminal
// states have no successors. failed is reachable straight from pending for
// jobs that never make it to a worker (queue overflow at submission).
var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusFailed, models.JobStatusCancelled},
	models.JobStatusRunning: {models.JobStatusSucceeded, models.JobStatusFailed, models.JobStatusCancelled},
}

// UpdateJobStatus moves a job to a new status as a single atomic update. The
// WHERE clause restricts the update to statuses that may legally precede the
// new one, so concurrent writers cannot race a job out of a terminal state.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &JobUpdate{}
	for _, opt := range opts {
		opt(params)
	}

	var allowedPrev []string
	for prev, nexts := range validTransitions {
		for _, next := range nexts {
			if next == status {
				allowedPrev = append(allowedPrev, prev)
			}
		}
	}
	if len(allowedPrev) == 0 {
		return fmt.Errorf("%w: no state may enter %s", ErrInvalidTransition, status)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if models.JobTerminal(status) {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.RunID != nil {
		query += fmt.Sprintf(", run_id = $%d", argIdx)
		args = append(args, *params.RunID)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE id = $1 AND status = ANY($%d)", argIdx)
	args = append(args, allowedPrev)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get job status: %w", err)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}
	return nil
}

func (s *PostgresStore) CountActiveJobs(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE user_id = $1 AND status IN ($2, $3)`,
		userID, models.JobStatusPending, models.JobStatusRunning).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return count, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
