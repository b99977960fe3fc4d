package clustering

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Reducer maps high-dimensional vectors to a lower-dimensional space while
// approximately preserving neighborhood structure. Implementations must be
// deterministic for identical input.
type Reducer interface {
	Reduce(vectors [][]float64, outDims int) ([][]float64, error)
}

// NeighborhoodReducer is the reference reduction algorithm: a PCA projection
// refined by pulling each point toward the centroid of its nearest neighbors
// in the original space. Neighbors controls the locality tradeoff (small
// favors local structure, large favors global structure); MinSpacing keeps
// distinct points from collapsing onto each other.
type NeighborhoodReducer struct {
	Neighbors  int
	MinSpacing float64
	Iterations int
	LearnRate  float64
}

// NewNeighborhoodReducer returns a reducer with the given locality controls
// and default refinement settings.
func NewNeighborhoodReducer(neighbors int, minSpacing float64) *NeighborhoodReducer {
	return &NeighborhoodReducer{
		Neighbors:  neighbors,
		MinSpacing: minSpacing,
		Iterations: 50,
		LearnRate:  0.3,
	}
}

func (r *NeighborhoodReducer) Reduce(vectors [][]float64, outDims int) ([][]float64, error) {
	n := len(vectors)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrComputation)
	}
	if outDims < 1 {
		return nil, fmt.Errorf("%w: output dimensionality %d", ErrComputation, outDims)
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrComputation, i, len(v), dim)
		}
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("%w: non-finite value in vector %d", ErrComputation, i)
			}
		}
	}

	reduced := r.projectPCA(vectors, outDims)

	// Neighborhood refinement in the original space: each point drifts toward
	// the low-dimensional centroid of its high-dimensional neighbors.
	k := r.Neighbors
	if k > n-1 {
		k = n - 1
	}
	if k >= 1 {
		neighbors := nearestNeighbors(vectors, k)
		for iter := 0; iter < r.Iterations; iter++ {
			next := make([][]float64, n)
			for i := range reduced {
				centroid := make([]float64, outDims)
				for _, j := range neighbors[i] {
					for d := 0; d < outDims; d++ {
						centroid[d] += reduced[j][d]
					}
				}
				row := make([]float64, outDims)
				for d := 0; d < outDims; d++ {
					centroid[d] /= float64(len(neighbors[i]))
					row[d] = reduced[i][d] + r.LearnRate*(centroid[d]-reduced[i][d])
				}
				next[i] = row
			}
			reduced = next
			if r.MinSpacing > 0 {
				enforceSpacing(reduced, r.MinSpacing)
			}
		}
	}

	return reduced, nil
}

// projectPCA centers the data and projects it onto its leading principal
// components. Columns beyond the matrix rank are zero-padded.
func (r *NeighborhoodReducer) projectPCA(vectors [][]float64, outDims int) [][]float64 {
	n := len(vectors)
	dim := len(vectors[0])

	mean := make([]float64, dim)
	for _, v := range vectors {
		for d, x := range v {
			mean[d] += x
		}
	}
	for d := range mean {
		mean[d] /= float64(n)
	}

	centered := mat.NewDense(n, dim, nil)
	for i, v := range vectors {
		for d, x := range v {
			centered.Set(i, d, x-mean[d])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThinU); !ok {
		// Degenerate matrix; fall back to truncating the centered data.
		out := make([][]float64, n)
		for i := range out {
			row := make([]float64, outDims)
			for d := 0; d < outDims && d < dim; d++ {
				row[d] = centered.At(i, d)
			}
			out[i] = row
		}
		return out
	}

	var u mat.Dense
	svd.UTo(&u)
	values := svd.Values(nil)

	rank := len(values)
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, outDims)
		for d := 0; d < outDims && d < rank; d++ {
			row[d] = u.At(i, d) * values[d]
		}
		out[i] = row
	}
	return out
}

// nearestNeighbors returns the indices of each point's k nearest neighbors by
// Euclidean distance, ties broken by index for determinism.
func nearestNeighbors(vectors [][]float64, k int) [][]int {
	n := len(vectors)
	out := make([][]int, n)
	type cand struct {
		idx  int
		dist float64
	}
	for i := range vectors {
		cands := make([]cand, 0, n-1)
		for j := range vectors {
			if i == j {
				continue
			}
			cands = append(cands, cand{idx: j, dist: euclidean(vectors[i], vectors[j])})
		}
		sort.Slice(cands, func(a, b int) bool {
			if cands[a].dist != cands[b].dist {
				return cands[a].dist < cands[b].dist
			}
			return cands[a].idx < cands[b].idx
		})
		nbrs := make([]int, k)
		for m := 0; m < k; m++ {
			nbrs[m] = cands[m].idx
		}
		out[i] = nbrs
	}
	return out
}

// enforceSpacing pushes point pairs closer than minSpacing apart, splitting
// the correction between them. Coincident points are separated along the
// first axis.
func enforceSpacing(points [][]float64, minSpacing float64) {
	n := len(points)
	dims := len(points[0])
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := euclidean(points[i], points[j])
			if d >= minSpacing {
				continue
			}
			if d == 0 {
				points[i][0] -= minSpacing / 2
				points[j][0] += minSpacing / 2
				continue
			}
			push := (minSpacing - d) / (2 * d)
			for m := 0; m < dims; m++ {
				delta := (points[j][m] - points[i][m]) * push
				points[i][m] -= delta
				points[j][m] += delta
			}
		}
	}
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
