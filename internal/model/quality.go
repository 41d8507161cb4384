package model

// FaithfulnessScore captures the monotonicity-under-removal evaluation.
// Steps counts the removal steps that produced a measurable output change;
// Excluded counts steps skipped because the model output was constant.
type FaithfulnessScore struct {
	Score    float64 `json:"score"`
	Steps    int     `json:"steps"`
	Excluded int     `json:"excluded"`
}

// RobustnessScore captures explanation stability under input perturbation.
type RobustnessScore struct {
	Score  float64 `json:"score"`
	Std    float64 `json:"std"`
	Rounds int     `json:"rounds"`
}

// ComplexityScore captures how concentrated the attribution mass is.
type ComplexityScore struct {
	Score             float64 `json:"score"`
	Gini              float64 `json:"gini_coefficient"`
	EffectiveFeatures int     `json:"effective_features"`
	Sparsity          float64 `json:"sparsity"`
}

// QualityMetrics is the full quality evaluation of a single explanation.
// Recomputed on demand; cheap relative to attribution, so never cached.
type QualityMetrics struct {
	ExplanationID  string            `json:"explanation_id"`
	Faithfulness   FaithfulnessScore `json:"faithfulness"`
	Robustness     RobustnessScore   `json:"robustness"`
	Complexity     ComplexityScore   `json:"complexity"`
	OverallQuality float64           `json:"overall_quality"`
	SampleSize     int               `json:"sample_size"`
}

// ComparisonResult holds cross-method agreement metrics for two completed
// explanations of the same model and scope.
type ComparisonResult struct {
	ModelID           string             `json:"model_id"`
	Scope             Scope              `json:"scope"`
	MethodA           Method             `json:"method_a"`
	MethodB           Method             `json:"method_b"`
	CommonFeatures    int                `json:"common_features"`
	TopKAgreement     map[string]float64 `json:"top_k_agreement"`
	RankCorrelation   float64            `json:"rank_correlation"`
	PValue            float64            `json:"p_value"`
	SignDisagreements []string           `json:"sign_disagreements"`
}

// LeaderboardEntry joins model performance with best-available explanation
// quality per method. Recomputed on every fetch, never persisted.
type LeaderboardEntry struct {
	Rank          int                `json:"rank"`
	ModelID       string             `json:"model_id"`
	ModelName     string             `json:"model_name"`
	Family        ModelFamily        `json:"family"`
	AUCROC        float64            `json:"auc_roc"`
	F1Score       float64            `json:"f1_score"`
	MethodQuality map[Method]float64 `json:"method_quality"`
	Composite     float64            `json:"composite"`
}
