package clustering

import (
	"fmt"
	"math"
	"sort"
)

// Grouping is the raw output of a density grouper: a cluster id per point
// (NoiseID for unassigned points) and a membership probability per point.
type Grouping struct {
	ClusterIDs    []int
	Probabilities []float64
}

// NoiseID marks points the grouper did not confidently assign.
const NoiseID = -1

// Grouper assigns cluster ids by local density. Cluster numbering is not
// guaranteed stable across parameter changes, but the relative grouping of
// points is reproducible for identical input.
type Grouper interface {
	Group(points [][]float64, minClusterSize, minSamples int, epsilon float64) (*Grouping, error)
}

// DensityGrouper is the reference density grouping: DBSCAN-style expansion
// with minSamples as the core-point threshold, followed by dissolving
// clusters smaller than minClusterSize into noise. When epsilon is zero the
// neighborhood radius is estimated from the data.
type DensityGrouper struct{}

func (g *DensityGrouper) Group(points [][]float64, minClusterSize, minSamples int, epsilon float64) (*Grouping, error) {
	n := len(points)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrComputation)
	}

	eps := epsilon
	if eps <= 0 {
		eps = estimateRadius(points, minSamples)
	}
	if eps <= 0 || math.IsNaN(eps) {
		return nil, fmt.Errorf("%w: degenerate point cloud, cannot estimate radius", ErrComputation)
	}

	ids := runDBSCAN(points, eps, minSamples)
	dissolveSmallClusters(ids, minClusterSize)
	renumber(ids)

	return &Grouping{
		ClusterIDs:    ids,
		Probabilities: membershipProbabilities(points, ids),
	}, nil
}

// estimateRadius picks a neighborhood radius as the median distance to each
// point's k-th nearest neighbor. This adapts the grouping to the scale of the
// reduced space when the caller did not fix an epsilon.
func estimateRadius(points [][]float64, k int) float64 {
	n := len(points)
	if k > n-1 {
		k = n - 1
	}
	if k < 1 {
		return 0
	}
	kth := make([]float64, 0, n)
	dists := make([]float64, 0, n-1)
	for i := range points {
		dists = dists[:0]
		for j := range points {
			if i == j {
				continue
			}
			dists = append(dists, euclidean(points[i], points[j]))
		}
		sort.Float64s(dists)
		kth = append(kth, dists[k-1])
	}
	sort.Float64s(kth)
	median := kth[len(kth)/2]
	// Slack so borderline neighbors still connect.
	return median * 1.5
}

func runDBSCAN(points [][]float64, eps float64, minSamples int) []int {
	n := len(points)
	const unvisited = -2
	ids := make([]int, n)
	for i := range ids {
		ids[i] = unvisited
	}

	neighborsOf := func(i int) []int {
		var nbrs []int
		for j := range points {
			if euclidean(points[i], points[j]) <= eps {
				nbrs = append(nbrs, j)
			}
		}
		return nbrs // includes i itself
	}

	next := 0
	for i := 0; i < n; i++ {
		if ids[i] != unvisited {
			continue
		}
		nbrs := neighborsOf(i)
		if len(nbrs) < minSamples {
			ids[i] = NoiseID
			continue
		}
		cluster := next
		next++
		ids[i] = cluster

		// Seed-set expansion in index order for determinism.
		queue := append([]int(nil), nbrs...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if ids[j] == NoiseID {
				ids[j] = cluster // border point
			}
			if ids[j] != unvisited {
				continue
			}
			ids[j] = cluster
			jn := neighborsOf(j)
			if len(jn) >= minSamples {
				queue = append(queue, jn...)
			}
		}
	}
	return ids
}

// dissolveSmallClusters reassigns members of clusters below the size floor to
// noise.
func dissolveSmallClusters(ids []int, minClusterSize int) {
	sizes := map[int]int{}
	for _, id := range ids {
		if id != NoiseID {
			sizes[id]++
		}
	}
	for i, id := range ids {
		if id != NoiseID && sizes[id] < minClusterSize {
			ids[i] = NoiseID
		}
	}
}

// renumber compacts cluster ids to 0..k-1 in order of first appearance.
func renumber(ids []int) {
	mapping := map[int]int{}
	next := 0
	for i, id := range ids {
		if id == NoiseID {
			continue
		}
		m, ok := mapping[id]
		if !ok {
			m = next
			mapping[id] = m
			next++
		}
		ids[i] = m
	}
}

// membershipProbabilities scores each clustered point by its distance to the
// cluster centroid: exp(-d/meanDist), so central points approach 1 and
// outlying members decay toward 0. Noise points get probability 0.
func membershipProbabilities(points [][]float64, ids []int) []float64 {
	n := len(points)
	dims := len(points[0])

	centroids := map[int][]float64{}
	counts := map[int]int{}
	for i, id := range ids {
		if id == NoiseID {
			continue
		}
		c, ok := centroids[id]
		if !ok {
			c = make([]float64, dims)
			centroids[id] = c
		}
		for d := 0; d < dims; d++ {
			c[d] += points[i][d]
		}
		counts[id]++
	}
	for id, c := range centroids {
		for d := range c {
			c[d] /= float64(counts[id])
		}
	}

	meanDist := map[int]float64{}
	for i, id := range ids {
		if id == NoiseID {
			continue
		}
		meanDist[id] += euclidean(points[i], centroids[id])
	}
	for id := range meanDist {
		meanDist[id] /= float64(counts[id])
	}

	probs := make([]float64, n)
	for i, id := range ids {
		if id == NoiseID {
			continue
		}
		scale := meanDist[id]
		if scale == 0 {
			probs[i] = 1.0
			continue
		}
		probs[i] = math.Exp(-euclidean(points[i], centroids[id]) / scale)
	}
	return probs
}
