package models

import (
	"fmt"
	"time"
)

// ClusteringParameters is the validated configuration bundle for one
// clustering run. MinClusterSize, MinSamples, and SelectionEpsilon drive the
// density grouping step; TargetDimensions, NeighborhoodSize, and MinSpacing
// drive the dimensionality reduction. MembershipThreshold is applied as a
// post-filter on the grouping output.
type ClusteringParameters struct {
	MinClusterSize      int     `json:"min_cluster_size"`
	MinSamples          int     `json:"min_samples"`
	MembershipThreshold float64 `json:"membership_threshold"`
	SelectionEpsilon    float64 `json:"selection_epsilon"`
	TargetDimensions    int     `json:"target_dimensions"`
	NeighborhoodSize    int     `json:"neighborhood_size"`
	MinSpacing          float64 `json:"min_spacing"`

	// Optional inclusive date-range filter on entry creation time.
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// DefaultClusteringParameters returns the parameter bundle used when a field
// is omitted from a run request.
func DefaultClusteringParameters() ClusteringParameters {
	return ClusteringParameters{
		MinClusterSize:      5,
		MinSamples:          2,
		MembershipThreshold: 0.1,
		SelectionEpsilon:    0.0,
		TargetDimensions:    5,
		NeighborhoodSize:    15,
		MinSpacing:          0.1,
	}
}

// Validate checks every field against its allowed range. An invalid bundle
// never reaches the clustering engine.
func (p ClusteringParameters) Validate() error {
	if p.MinClusterSize < 2 {
		return fmt.Errorf("min_cluster_size must be >= 2, got %d", p.MinClusterSize)
	}
	if p.MinSamples < 1 {
		return fmt.Errorf("min_samples must be >= 1, got %d", p.MinSamples)
	}
	if p.MembershipThreshold < 0 || p.MembershipThreshold > 1 {
		return fmt.Errorf("membership_threshold must be in [0, 1], got %g", p.MembershipThreshold)
	}
	if p.SelectionEpsilon < 0 {
		return fmt.Errorf("selection_epsilon must be >= 0, got %g", p.SelectionEpsilon)
	}
	if p.TargetDimensions < 2 {
		return fmt.Errorf("target_dimensions must be >= 2, got %d", p.TargetDimensions)
	}
	if p.NeighborhoodSize < 1 {
		return fmt.Errorf("neighborhood_size must be >= 1, got %d", p.NeighborhoodSize)
	}
	if p.MinSpacing < 0 {
		return fmt.Errorf("min_spacing must be >= 0, got %g", p.MinSpacing)
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return fmt.Errorf("end_date must not be before start_date")
	}
	return nil
}
