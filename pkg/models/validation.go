package models

// CoherenceFlag marks how a group's coherence compares to its expected band.
type CoherenceFlag string

const (
	CoherenceOK           CoherenceFlag = "ok"
	CoherenceBelowBand    CoherenceFlag = "below_band"
	CoherenceAboveBand    CoherenceFlag = "above_band"
	CoherenceManualReview CoherenceFlag = "manual_review"
)

// GroupCoherence is the within-group similarity of one group.
type GroupCoherence struct {
	GroupIndex   int            `json:"group_index"`
	CategoryName string         `json:"category_name"`
	Tier         DifficultyTier `json:"tier"`
	Score        float64        `json:"score"`
	BandMin      float64        `json:"band_min"`
	BandMax      float64        `json:"band_max"`
	Flag         CoherenceFlag  `json:"flag"`
}

// PairDistinctiveness compares two groups.
type PairDistinctiveness struct {
	GroupA          int     `json:"group_a"`
	GroupB          int     `json:"group_b"`
	CrossSimilarity float64 `json:"cross_similarity"`
	Ratio           float64 `json:"ratio"`
}

// BridgeWord is a word that sits close to another group's centroid.
type BridgeWord struct {
	Word            string  `json:"word"`
	OwnGroup        int     `json:"own_group"`
	OtherGroup      int     `json:"other_group"`
	OwnSimilarity   float64 `json:"own_similarity"`
	OtherSimilarity float64 `json:"other_similarity"`
}

// EmbeddingReport is the result of vector-similarity validation.
type EmbeddingReport struct {
	Passed          bool                  `json:"passed"`
	Score           float64               `json:"score"`
	Coherence       []GroupCoherence      `json:"coherence"`
	Distinctiveness []PairDistinctiveness `json:"distinctiveness"`
	BridgeWords     []BridgeWord          `json:"bridge_words"`
	ClusteringARI   float64               `json:"clustering_ari"`
	Warnings        []string              `json:"warnings"`
	AutoFailReasons []string              `json:"auto_fail_reasons"`
}

// CalibrationVerdict classifies a zero-temperature solve.
type CalibrationVerdict string

const (
	CalibrationTooEasy     CalibrationVerdict = "too_easy"
	CalibrationAppropriate CalibrationVerdict = "appropriate"
	CalibrationHard        CalibrationVerdict = "hard"
	CalibrationUnknown     CalibrationVerdict = "unknown"
)

// SelfConsistencyResult summarizes repeated blind solves.
type SelfConsistencyResult struct {
	Attempts             int       `json:"attempts"`
	Succeeded            int       `json:"succeeded"`
	Failed               int       `json:"failed"`
	ExactMatches         int       `json:"exact_matches"`
	AgreementRate        float64   `json:"agreement_rate"`
	PerGroupSolveRate    []float64 `json:"per_group_solve_rate"`
	MostCommonWrongGroup []string  `json:"most_common_wrong_group,omitempty"`
	WrongGroupCount      int       `json:"wrong_group_count,omitempty"`
}

// AdversarialResult is the verdict of the alternative-grouping check.
type AdversarialResult struct {
	Checked          bool       `json:"checked"`
	AlternativeFound bool       `json:"alternative_found"`
	Alternative      [][]string `json:"alternative,omitempty"`
	Reasoning        string     `json:"reasoning,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// CalibrationResult is the zero-temperature solve outcome.
type CalibrationResult struct {
	Checked       bool               `json:"checked"`
	GroupsCorrect int                `json:"groups_correct"`
	Verdict       CalibrationVerdict `json:"verdict"`
	Error         string             `json:"error,omitempty"`
}

// SolverReport is the result of model-based solvability validation.
type SolverReport struct {
	Passed          bool                  `json:"passed"`
	Score           float64               `json:"score"`
	SelfConsistency SelfConsistencyResult `json:"self_consistency"`
	Adversarial     AdversarialResult     `json:"adversarial"`
	Calibration     CalibrationResult     `json:"calibration"`
	Warnings        []string              `json:"warnings"`
	AutoFailReasons []string              `json:"auto_fail_reasons"`
}

// ValidationReport combines every validator's findings. It is attached to
// the puzzle regardless of outcome.
type ValidationReport struct {
	StructuralErrors []string         `json:"structural_errors,omitempty"`
	Embedding        *EmbeddingReport `json:"embedding,omitempty"`
	Solver           *SolverReport    `json:"solver,omitempty"`
	SolverSkipped    bool             `json:"solver_skipped"`
	FinalScore       float64          `json:"final_score"`
	Warnings         []string         `json:"warnings"`
	AutoFailReasons  []string         `json:"auto_fail_reasons"`
}

// Disposition is the orchestrator's verdict.
type Disposition struct {
	Approved        bool              `json:"approved"`
	Status          PuzzleStatus      `json:"status"`
	Score           float64           `json:"score"`
	DifficultyScore *float64          `json:"difficulty_score,omitempty"`
	Report          *ValidationReport `json:"report"`
}
