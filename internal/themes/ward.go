package themes

import "math"

// merge is one step of the dendrogram: clusters a and b joined at distance.
// Cluster ids below n are original points; step s creates cluster n+s.
type merge struct {
	a, b     int
	distance float64
}

// wardLinkage runs agglomerative clustering with Ward's criterion using the
// Lance-Williams update on squared Euclidean distances. Reported merge
// distances are Euclidean, matching scipy.
func wardLinkage(points [][]float64) []merge {
	n := len(points)
	if n < 2 {
		return nil
	}
	total := 2*n - 1
	d := make([][]float64, total)
	for i := range d {
		d[i] = make([]float64, total)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var sq float64
			for k := range points[i] {
				diff := points[i][k] - points[j][k]
				sq += diff * diff
			}
			d[i][j], d[j][i] = sq, sq
		}
	}

	active := make([]bool, total)
	size := make([]float64, total)
	for i := 0; i < n; i++ {
		active[i] = true
		size[i] = 1
	}

	merges := make([]merge, 0, n-1)
	for step := 0; step < n-1; step++ {
		next := n + step
		best := math.MaxFloat64
		bi, bj := -1, -1
		for i := 0; i < next; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < next; j++ {
				if active[j] && d[i][j] < best {
					best, bi, bj = d[i][j], i, j
				}
			}
		}

		active[bi], active[bj] = false, false
		ni, nj := size[bi], size[bj]
		for k := 0; k < next; k++ {
			if !active[k] {
				continue
			}
			nk := size[k]
			v := ((nk+ni)*d[bi][k] + (nk+nj)*d[bj][k] - nk*best) / (nk + ni + nj)
			d[next][k], d[k][next] = v, v
		}
		active[next] = true
		size[next] = ni + nj
		merges = append(merges, merge{a: bi, b: bj, distance: math.Sqrt(best)})
	}
	return merges
}

// cutDendrogram assigns sequential cluster labels to the n original points,
// keeping only merges at or below threshold. Labels follow first appearance.
func cutDendrogram(merges []merge, n int, threshold float64) []int {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	// rep maps a cluster id to one of its original points.
	rep := make([]int, n+len(merges))
	for i := 0; i < n; i++ {
		rep[i] = i
	}
	for step, m := range merges {
		rep[n+step] = rep[m.a]
		if m.distance <= threshold {
			ra, rb := find(rep[m.a]), find(rep[m.b])
			if ra != rb {
				parent[rb] = ra
			}
		}
	}

	labels := make([]int, n)
	ids := map[int]int{}
	for i := 0; i < n; i++ {
		root := find(i)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}
	return labels
}

func clusterEmbeddings(embeddings [][]float64, threshold float64) []int {
	if len(embeddings) == 1 {
		return []int{0}
	}
	return cutDendrogram(wardLinkage(embeddings), len(embeddings), threshold)
}
