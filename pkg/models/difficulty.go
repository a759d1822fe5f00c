package models

import "sort"

// DifficultyTier is the color-coded difficulty of a single group.
type DifficultyTier string

const (
	TierYellow DifficultyTier = "yellow"
	TierGreen  DifficultyTier = "green"
	TierBlue   DifficultyTier = "blue"
	TierPurple DifficultyTier = "purple"
)

// TierOrder lists tiers from easiest to hardest.
var TierOrder = []DifficultyTier{TierYellow, TierGreen, TierBlue, TierPurple}

// Index returns the 0-based position of the tier in TierOrder, or -1.
func (t DifficultyTier) Index() int {
	for i, v := range TierOrder {
		if v == t {
			return i
		}
	}
	return -1
}

// IsValid reports whether t is one of the four known tiers.
func (t DifficultyTier) IsValid() bool {
	return t.Index() >= 0
}

// TierForRank maps a 1-based difficulty rank within a puzzle of groupCount
// groups onto the four-color scale.
func TierForRank(rank, groupCount int) DifficultyTier {
	if groupCount <= 0 || rank <= 0 {
		return TierYellow
	}
	if rank > groupCount {
		rank = groupCount
	}
	idx := (rank - 1) * len(TierOrder) / groupCount
	if groupCount < len(TierOrder) && rank == groupCount {
		idx = len(TierOrder) - 1
	}
	return TierOrder[idx]
}

// DifficultyProfile selects the tier sequence a puzzle is built from.
type DifficultyProfile string

const (
	DifficultyProfileEasy     DifficultyProfile = "easy"
	DifficultyProfileStandard DifficultyProfile = "standard"
	DifficultyProfileHard     DifficultyProfile = "hard"
)

var baseProfiles = map[DifficultyProfile][]DifficultyTier{
	DifficultyProfileEasy:     {TierYellow, TierYellow, TierGreen, TierBlue},
	DifficultyProfileStandard: {TierYellow, TierGreen, TierBlue, TierPurple},
	DifficultyProfileHard:     {TierGreen, TierBlue, TierPurple, TierPurple},
}

// IsValidDifficultyProfile checks if the profile is known.
func IsValidDifficultyProfile(p DifficultyProfile) bool {
	_, ok := baseProfiles[p]
	return ok
}

// TierSequence returns the target tiers for groupCount groups, easiest first.
// Four groups use the base profile directly; fewer groups sample it evenly;
// more groups extend it by cycling through TierOrder.
func (p DifficultyProfile) TierSequence(groupCount int) []DifficultyTier {
	base, ok := baseProfiles[p]
	if !ok {
		base = baseProfiles[DifficultyProfileStandard]
	}
	if groupCount <= 0 {
		return nil
	}
	if groupCount == len(base) {
		return append([]DifficultyTier(nil), base...)
	}
	if groupCount < len(base) {
		seq := make([]DifficultyTier, groupCount)
		step := float64(len(base)) / float64(groupCount)
		for i := range seq {
			seq[i] = base[int(float64(i)*step)]
		}
		return seq
	}
	seq := append([]DifficultyTier(nil), base...)
	for i := 0; i < groupCount-len(base); i++ {
		seq = append(seq, TierOrder[i%len(TierOrder)])
	}
	sort.SliceStable(seq, func(i, j int) bool { return seq[i].Index() < seq[j].Index() })
	return seq
}

// TierRange returns the easiest and hardest tier of the profile's sequence.
func (p DifficultyProfile) TierRange(groupCount int) (DifficultyTier, DifficultyTier) {
	seq := p.TierSequence(groupCount)
	if len(seq) == 0 {
		return TierYellow, TierPurple
	}
	return seq[0], seq[len(seq)-1]
}
