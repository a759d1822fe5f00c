package embedding

import (
	"math"
	"math/rand"
	"sort"
)

const (
	kmeansSeed          = 17
	kmeansMaxIterations = 25
)

// constrainedKMeans clusters unit vectors into k clusters of exactly size
// members each and returns a cluster label per point. Seeding and
// assignment are deterministic for a given input order.
//
// Assignment is greedy: all (point, cluster) distances are sorted ascending
// and each point takes the nearest cluster that still has capacity.
func constrainedKMeans(points [][]float64, k, size int) []int {
	n := len(points)
	labels := make([]int, n)
	if k <= 1 || n == 0 || k*size != n {
		return labels
	}

	centers := seedCenters(points, k)

	type edge struct {
		point, cluster int
		dist           float64
	}
	edges := make([]edge, 0, n*k)

	for iter := 0; iter < kmeansMaxIterations; iter++ {
		edges = edges[:0]
		for p := range points {
			for c := range centers {
				edges = append(edges, edge{p, c, 1 - cosine(points[p], centers[c])})
			}
		}
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].dist < edges[j].dist })

		next := make([]int, n)
		for i := range next {
			next[i] = -1
		}
		capacity := make([]int, k)
		for i := range capacity {
			capacity[i] = size
		}
		for _, e := range edges {
			if next[e.point] >= 0 || capacity[e.cluster] == 0 {
				continue
			}
			next[e.point] = e.cluster
			capacity[e.cluster]--
		}

		changed := iter == 0
		for i := range next {
			if next[i] != labels[i] {
				changed = true
			}
		}
		labels = next
		if !changed {
			break
		}

		members := make([][][]float64, k)
		for p, c := range labels {
			members[c] = append(members[c], points[p])
		}
		for c := range centers {
			centers[c] = centroid(members[c])
		}
	}
	return labels
}

// seedCenters picks the first center from a fixed seed, then repeatedly
// the point farthest from every chosen center. Ties go to the lower index.
func seedCenters(points [][]float64, k int) [][]float64 {
	rng := rand.New(rand.NewSource(kmeansSeed))
	centers := [][]float64{points[rng.Intn(len(points))]}

	for len(centers) < k {
		chosen, farthest := 0, math.Inf(-1)
		for p := range points {
			nearest := math.Inf(1)
			for _, c := range centers {
				nearest = math.Min(nearest, 1-cosine(points[p], c))
			}
			if nearest > farthest {
				chosen, farthest = p, nearest
			}
		}
		centers = append(centers, points[chosen])
	}

	out := make([][]float64, k)
	for i, c := range centers {
		out[i] = append([]float64(nil), c...)
	}
	return out
}
