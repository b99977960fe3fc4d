// Package clustering computes topical groupings over entry embeddings. The
// engine is a pure function of its inputs: no storage, no job state.
package clustering

import (
	"errors"
	"fmt"

	"github.com/reflectai/journal/pkg/models"
)

// ErrComputation wraps numeric failures inside the pipeline (degenerate
// input, non-finite values). Callers classify it as an internal computation
// error; the detail never reaches API clients.
var ErrComputation = errors.New("clustering computation failed")

// Result is the engine output: one display coordinate, cluster id, and
// membership probability per input embedding, index-aligned with the input,
// plus member counts per non-noise cluster.
type Result struct {
	Coordinates   [][2]float64
	ClusterIDs    []int
	Probabilities []float64
	ClusterSizes  map[int]int
}

// ReducerFactory builds a Reducer for one run's locality controls. A factory
// rather than a fixed instance because neighborhood size and spacing arrive
// with each request, not at engine construction.
type ReducerFactory func(neighbors int, minSpacing float64) Reducer

// Engine wires a Reducer and a Grouper into the clustering pipeline. Both are
// pluggable; the defaults are the reference implementations in this package.
type Engine struct {
	newReducer ReducerFactory
	grouper    Grouper
}

// NewEngine returns an Engine using the reference reducer and density grouper.
func NewEngine() *Engine {
	return NewEngineWith(func(neighbors int, minSpacing float64) Reducer {
		return NewNeighborhoodReducer(neighbors, minSpacing)
	}, &DensityGrouper{})
}

// NewEngineWith builds an Engine around a custom reducer factory and grouper.
func NewEngineWith(newReducer ReducerFactory, grouper Grouper) *Engine {
	return &Engine{newReducer: newReducer, grouper: grouper}
}

// Cluster runs the full pipeline:
//
//  1. reduce embeddings to params.TargetDimensions for clustering quality
//  2. density grouping over the reduced vectors
//  3. reassign points below the membership threshold to noise
//  4. an independent 2D reduction purely for display
//  5. per-cluster member counts
//
// The display projection is computed from the original embeddings, never from
// the step-1 output; the two reductions serve different purposes and are kept
// separate.
func (e *Engine) Cluster(embeddings [][]float32, params models.ClusteringParameters) (*Result, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings", ErrComputation)
	}

	vectors := toFloat64(embeddings)

	reducer := e.newReducer(params.NeighborhoodSize, params.MinSpacing)
	reduced, err := reducer.Reduce(vectors, params.TargetDimensions)
	if err != nil {
		return nil, err
	}

	grouping, err := e.grouper.Group(reduced, params.MinClusterSize, params.MinSamples, params.SelectionEpsilon)
	if err != nil {
		return nil, err
	}

	// The grouper's native confidence is not the final say: anything below
	// the caller's threshold becomes noise.
	ids := grouping.ClusterIDs
	probs := grouping.Probabilities
	for i := range ids {
		if ids[i] != NoiseID && probs[i] < params.MembershipThreshold {
			ids[i] = NoiseID
			probs[i] = 0
		}
	}

	display := e.newReducer(params.NeighborhoodSize, params.MinSpacing)
	coords2D, err := display.Reduce(vectors, 2)
	if err != nil {
		return nil, err
	}

	coordinates := make([][2]float64, len(coords2D))
	for i, c := range coords2D {
		coordinates[i] = [2]float64{c[0], c[1]}
	}

	sizes := map[int]int{}
	for _, id := range ids {
		if id != NoiseID {
			sizes[id]++
		}
	}

	return &Result{
		Coordinates:   coordinates,
		ClusterIDs:    ids,
		Probabilities: probs,
		ClusterSizes:  sizes,
	}, nil
}

func toFloat64(embeddings [][]float32) [][]float64 {
	out := make([][]float64, len(embeddings))
	for i, v := range embeddings {
		row := make([]float64, len(v))
		for d, x := range v {
			row[d] = float64(x)
		}
		out[i] = row
	}
	return out
}
