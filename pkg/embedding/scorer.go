package embedding

import (
	"fmt"
	"math"
	"strings"

	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

const (
	// CoherenceFloor is the within-group similarity below which a group is
	// indistinguishable from unrelated words.
	CoherenceFloor = 0.05
	// MaxCrossSimilarity is the highest mean cross-group similarity a pair
	// of groups may have.
	MaxCrossSimilarity = 0.55
	// MinDistinctivenessRatio is the within/cross ratio below which a pair
	// is reported as weakly separated.
	MinDistinctivenessRatio = 1.2
	// BridgeRatio flags a word whose similarity to another group's centroid
	// exceeds this share of its similarity to its own.
	BridgeRatio = 0.8
	// MaxClusteringARI is the clustering agreement above which an
	// all-semantic puzzle is solvable by similarity alone.
	MaxClusteringARI = 0.85

	// ratioCap bounds the distinctiveness ratio when groups are orthogonal.
	ratioCap = 10.0
)

type band struct{ min, max float64 }

var coherenceBands = map[models.DifficultyTier]band{
	models.TierYellow: {0.35, 1.0},
	models.TierGreen:  {0.25, 0.85},
	models.TierBlue:   {0.15, 0.75},
	models.TierPurple: {0.05, 0.65},
}

// Group is one intended group with its word vectors, aligned with Words.
type Group struct {
	Name    string
	Type    models.CategoryType
	Tier    models.DifficultyTier
	Words   []string
	Vectors [][]float32
}

// Score evaluates groups from their vectors. It performs no I/O.
func Score(groups []Group) *models.EmbeddingReport {
	report := &models.EmbeddingReport{
		Coherence:       []models.GroupCoherence{},
		Distinctiveness: []models.PairDistinctiveness{},
		BridgeWords:     []models.BridgeWord{},
		Warnings:        []string{},
		AutoFailReasons: []string{},
	}
	if len(groups) == 0 {
		report.AutoFailReasons = append(report.AutoFailReasons, "puzzle has no groups")
		return report
	}

	report.AutoFailReasons = append(report.AutoFailReasons, duplicateWords(groups)...)

	vecs := make([][][]float64, len(groups))
	for g, grp := range groups {
		vecs[g] = make([][]float64, len(grp.Vectors))
		for w, v := range grp.Vectors {
			vecs[g][w] = normalize(v)
		}
	}

	within := make([]float64, len(groups))
	var coherenceComponent float64
	for g, grp := range groups {
		within[g] = meanPairwise(vecs[g])
		gc, component, warning := evaluateCoherence(g, grp, within[g])
		report.Coherence = append(report.Coherence, gc)
		coherenceComponent += component
		if warning != "" {
			report.Warnings = append(report.Warnings, warning)
		}
		if within[g] < CoherenceFloor {
			report.AutoFailReasons = append(report.AutoFailReasons,
				fmt.Sprintf("group %q coherence %.3f is below the %.2f floor", grp.Name, within[g], CoherenceFloor))
		}
	}
	coherenceComponent /= float64(len(groups))

	var distinctComponent float64
	pairs := 0
	for a := 0; a < len(groups); a++ {
		for b := a + 1; b < len(groups); b++ {
			pd, warning, fail := evaluatePair(a, b, within[a], within[b], meanCross(vecs[a], vecs[b]))
			report.Distinctiveness = append(report.Distinctiveness, pd)
			if warning != "" {
				report.Warnings = append(report.Warnings, fmt.Sprintf("groups %q and %q: %s", groups[a].Name, groups[b].Name, warning))
			}
			if fail != "" {
				report.AutoFailReasons = append(report.AutoFailReasons, fmt.Sprintf("groups %q and %q: %s", groups[a].Name, groups[b].Name, fail))
			}
			distinctComponent += clamp01(pd.Ratio - 1)
			pairs++
		}
	}
	if pairs > 0 {
		distinctComponent /= float64(pairs)
	} else {
		distinctComponent = 1
	}

	report.BridgeWords = findBridgeWords(groups, vecs)

	report.ClusteringARI = clusteringARI(vecs)
	if report.ClusteringARI > MaxClusteringARI && allSemantic(groups) {
		report.AutoFailReasons = append(report.AutoFailReasons,
			fmt.Sprintf("embedding clustering recovers the intended groups (ARI %.3f > %.2f)", report.ClusteringARI, MaxClusteringARI))
	}

	report.Score = clamp01(0.3*coherenceComponent + 0.4*distinctComponent + 0.3*(1-clamp01(report.ClusteringARI)))
	report.Passed = len(report.AutoFailReasons) == 0
	return report
}

// evaluateCoherence compares a group's coherence to the band for its tier.
// The returned component is 1 inside the band and decays with distance
// outside it; non-semantic groups are routed to manual review unpenalized.
func evaluateCoherence(index int, grp Group, score float64) (models.GroupCoherence, float64, string) {
	b, ok := coherenceBands[grp.Tier]
	if !ok {
		b = coherenceBands[models.TierBlue]
	}
	gc := models.GroupCoherence{
		GroupIndex:   index,
		CategoryName: grp.Name,
		Tier:         grp.Tier,
		Score:        score,
		BandMin:      b.min,
		BandMax:      b.max,
		Flag:         models.CoherenceOK,
	}

	var distance float64
	switch {
	case score < b.min:
		gc.Flag = models.CoherenceBelowBand
		distance = b.min - score
	case score > b.max:
		gc.Flag = models.CoherenceAboveBand
		distance = score - b.max
	default:
		return gc, 1, ""
	}

	if !grp.Type.IsSemantic() {
		gc.Flag = models.CoherenceManualReview
		return gc, 1, fmt.Sprintf("group %q (%s) coherence %.3f outside [%.2f, %.2f]; needs manual review",
			grp.Name, grp.Type, score, b.min, b.max)
	}
	return gc, clamp01(1 - distance/0.25), fmt.Sprintf("group %q coherence %.3f outside expected %s band [%.2f, %.2f]",
		grp.Name, score, grp.Tier, b.min, b.max)
}

// evaluatePair returns the distinctiveness of groups a and b plus an
// optional warning and auto-fail reason.
func evaluatePair(a, b int, withinA, withinB, cross float64) (models.PairDistinctiveness, string, string) {
	ratio := ratioCap
	if cross > 0 {
		ratio = math.Min(ratioCap, ((withinA+withinB)/2)/cross)
	}
	pd := models.PairDistinctiveness{GroupA: a, GroupB: b, CrossSimilarity: cross, Ratio: ratio}

	var warning, fail string
	if ratio < MinDistinctivenessRatio {
		warning = fmt.Sprintf("distinctiveness ratio %.2f below %.1f", ratio, MinDistinctivenessRatio)
	}
	if cross > MaxCrossSimilarity {
		fail = fmt.Sprintf("cross-group similarity %.3f exceeds %.2f", cross, MaxCrossSimilarity)
	}
	return pd, warning, fail
}

func findBridgeWords(groups []Group, vecs [][][]float64) []models.BridgeWord {
	centroids := make([][]float64, len(vecs))
	for g := range vecs {
		centroids[g] = centroid(vecs[g])
	}

	bridges := []models.BridgeWord{}
	for g, grp := range groups {
		for w, v := range vecs[g] {
			own := cosine(v, centroids[g])
			best, bestGroup := math.Inf(-1), -1
			for h := range centroids {
				if h == g {
					continue
				}
				if s := cosine(v, centroids[h]); s > best {
					best, bestGroup = s, h
				}
			}
			if bestGroup >= 0 && best > 0 && best > BridgeRatio*own {
				bridges = append(bridges, models.BridgeWord{
					Word:            grp.Words[w],
					OwnGroup:        g,
					OtherGroup:      bestGroup,
					OwnSimilarity:   own,
					OtherSimilarity: best,
				})
			}
		}
	}
	return bridges
}

// clusteringARI runs constrained k-means over every word and compares the
// recovered clusters with the intended grouping.
func clusteringARI(vecs [][][]float64) float64 {
	size := len(vecs[0])
	var points [][]float64
	var truth []int
	for g, vs := range vecs {
		if len(vs) != size {
			return 0
		}
		points = append(points, vs...)
		for range vs {
			truth = append(truth, g)
		}
	}
	return adjustedRandIndex(truth, constrainedKMeans(points, len(vecs), size))
}

func allSemantic(groups []Group) bool {
	for _, g := range groups {
		if !g.Type.IsSemantic() {
			return false
		}
	}
	return true
}

func duplicateWords(groups []Group) []string {
	var reasons []string
	seen := make(map[string]string)
	for _, g := range groups {
		for _, w := range g.Words {
			key := strings.ToLower(strings.TrimSpace(w))
			if prev, ok := seen[key]; ok {
				reasons = append(reasons, fmt.Sprintf("duplicate word %q in groups %q and %q", key, prev, g.Name))
				continue
			}
			seen[key] = g.Name
		}
	}
	return reasons
}

// MaxCross returns the highest mean cross-group similarity over every pair
// of groups. It is the quantity the cross-similarity auto-fail checks.
func MaxCross(groups []Group) float64 {
	vecs := make([][][]float64, len(groups))
	for g, grp := range groups {
		vecs[g] = make([][]float64, len(grp.Vectors))
		for w, v := range grp.Vectors {
			vecs[g][w] = normalize(v)
		}
	}
	highest := math.Inf(-1)
	for a := 0; a < len(vecs); a++ {
		for b := a + 1; b < len(vecs); b++ {
			highest = math.Max(highest, meanCross(vecs[a], vecs[b]))
		}
	}
	if math.IsInf(highest, -1) {
		return 0
	}
	return highest
}
