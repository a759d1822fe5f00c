package embedding

import "math"

// normalize returns a float64 copy of v scaled to unit length.
// A zero vector stays zero.
func normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var norm float64
	for i, x := range v {
		out[i] = float64(x)
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out
	}
	for i := range out {
		out[i] /= norm
	}
	return out
}

// cosine returns the cosine similarity of a and b, or 0 if either is zero.
func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func centroid(vs [][]float64) []float64 {
	if len(vs) == 0 {
		return nil
	}
	c := make([]float64, len(vs[0]))
	for _, v := range vs {
		for i, x := range v {
			c[i] += x
		}
	}
	for i := range c {
		c[i] /= float64(len(vs))
	}
	return c
}

// meanPairwise is the average cosine similarity over all unordered pairs
// within vs. A group with fewer than two members is perfectly coherent.
func meanPairwise(vs [][]float64) float64 {
	var sum float64
	n := 0
	for i := 0; i < len(vs); i++ {
		for j := i + 1; j < len(vs); j++ {
			sum += cosine(vs[i], vs[j])
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

// meanCross is the average cosine similarity over every pair drawn one from
// a and one from b.
func meanCross(a, b [][]float64) float64 {
	var sum float64
	n := 0
	for _, x := range a {
		for _, y := range b {
			sum += cosine(x, y)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
