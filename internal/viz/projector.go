// Package viz turns a persisted clustering run into the payload the scatter
// plot client renders. Pan/zoom/hover math lives entirely in the client; this
// package only guarantees consistent coordinates and cluster membership.
package viz

import (
	"github.com/google/uuid"
	"github.com/reflectai/journal/pkg/models"
)

// Point is one renderable entry. ClusterID -1 means noise; the client infers
// that, no synthetic noise cluster is emitted.
type Point struct {
	EntryID     uuid.UUID `json:"entry_id"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	ClusterID   int       `json:"cluster_id"`
	Probability float64   `json:"probability"`
	Title       string    `json:"title"`
}

// ClusterSummary describes one non-noise cluster.
type ClusterSummary struct {
	ClusterID  int     `json:"cluster_id"`
	Size       int     `json:"size"`
	TopicLabel *string `json:"topic_label,omitempty"`
}

// Payload is the visualization response body.
type Payload struct {
	RunID    uuid.UUID        `json:"run_id"`
	Points   []Point          `json:"points"`
	Clusters []ClusterSummary `json:"clusters"`
}

// Empty reports whether the run has no stored points. Callers treat this as
// a recoverable "no data" condition, not a server error.
func (p Payload) Empty() bool {
	return len(p.Points) == 0
}

// Project maps stored run data onto the client payload. Pure and
// deterministic: projecting the same run twice yields identical output.
func Project(runID uuid.UUID, points []models.VisualizationPoint, clusters []models.Cluster) Payload {
	out := Payload{
		RunID:    runID,
		Points:   make([]Point, 0, len(points)),
		Clusters: make([]ClusterSummary, 0, len(clusters)),
	}
	for _, p := range points {
		out.Points = append(out.Points, Point{
			EntryID:     p.EntryID,
			X:           p.X,
			Y:           p.Y,
			ClusterID:   p.ClusterID,
			Probability: p.Probability,
			Title:       p.Title,
		})
	}
	for _, c := range clusters {
		if c.ClusterID == models.NoiseClusterID {
			continue // stored data never contains it, but never emit it either
		}
		out.Clusters = append(out.Clusters, ClusterSummary{
			ClusterID:  c.ClusterID,
			Size:       c.Size,
			TopicLabel: c.TopicLabel,
		})
	}
	return out
}
