package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// NoiseClusterID is the sentinel cluster id for points the grouping step did
// not confidently assign. It never appears as a Cluster row.
const NoiseClusterID = -1

// ClusteringRun is one persisted execution of the clustering pipeline.
// Runs are immutable once saved; re-running with different parameters creates
// a new Run.
type ClusteringRun struct {
	ID           uuid.UUID            `db:"id"            json:"id"`
	UserID       uuid.UUID            `db:"user_id"       json:"user_id"`
	Params       ClusteringParameters `db:"params"        json:"params"`
	StartDate    *time.Time           `db:"start_date"    json:"start_date,omitempty"`
	EndDate      *time.Time           `db:"end_date"      json:"end_date,omitempty"`
	EntryCount   int                  `db:"entry_count"   json:"entry_count"`
	ClusterCount int                  `db:"cluster_count" json:"cluster_count"`
	Status       string               `db:"status"        json:"status"`
	CreatedAt    time.Time            `db:"created_at"    json:"created_at"`
}

// EmbeddingPoint is one entry's contribution to a Run: its 2D display
// coordinates, cluster assignment, and membership probability. The
// high-dimensional embedding stays on the entry row and is referenced, not
// copied. An entry appears at most once per Run.
type EmbeddingPoint struct {
	RunID       uuid.UUID `db:"run_id"      json:"run_id"`
	EntryID     uuid.UUID `db:"entry_id"    json:"entry_id"`
	X           float64   `db:"x"           json:"x"`
	Y           float64   `db:"y"           json:"y"`
	ClusterID   int       `db:"cluster_id"  json:"cluster_id"`
	Probability float64   `db:"probability" json:"probability"`
}

// VisualizationPoint is an EmbeddingPoint joined with its entry's title for
// display.
type VisualizationPoint struct {
	EmbeddingPoint
	Title string `db:"title" json:"title"`
}

// Cluster summarizes one named group within a Run. The noise sentinel never
// gets a Cluster row; sum of sizes over a Run is at most the Run's point
// count, with the remainder being noise.
type Cluster struct {
	RunID      uuid.UUID `db:"run_id"      json:"run_id"`
	ClusterID  int       `db:"cluster_id"  json:"cluster_id"`
	Size       int       `db:"size"        json:"size"`
	TopicLabel *string   `db:"topic_label" json:"topic_label,omitempty"`
}
