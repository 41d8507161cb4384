package registry

import "github.com/modelproof/xaibench/internal/model"

// Demo returns the built-in credit-risk fixture: a synthetic sample matrix,
// a logistic scorer and a small gradient-boosted ensemble. Used by the seed
// command when no fixture file is given.
func Demo() *Fixture {
	return &Fixture{
		Dataset: DatasetFixture{
			ID:       "demo-credit",
			Name:     "synthetic credit applications",
			Features: []string{"debt_ratio", "utilization", "late_payments", "log_income", "tenure_years"},
			Synthetic: &SyntheticSpec{
				Rows: 200,
				Seed: 42,
				Ranges: []FeatureRange{
					{Min: 0.0, Max: 1.2},  // debt_ratio
					{Min: 0.0, Max: 1.0},  // utilization
					{Min: 0.0, Max: 8.0},  // late_payments
					{Min: 9.0, Max: 13.0}, // log_income
					{Min: 0.0, Max: 30.0}, // tenure_years
				},
			},
		},
		Models: []ModelFixture{
			{
				ID:     "demo-logistic",
				Name:   "credit-logistic-v1",
				Family: model.FamilyLinear,
				Params: map[string]any{
					"weights": map[string]any{
						"debt_ratio":    2.1,
						"utilization":   1.4,
						"late_payments": 0.6,
						"log_income":    -0.45,
						"tenure_years":  -0.08,
					},
					"bias": 1.9,
				},
				Metrics: &model.PerformanceMetrics{
					AUCROC:    0.87,
					AUCPR:     0.62,
					F1Score:   0.58,
					Precision: 0.61,
					Recall:    0.55,
					Accuracy:  0.83,
				},
			},
			{
				ID:     "demo-gbm",
				Name:   "credit-gbm-v1",
				Family: model.FamilyTree,
				Params: map[string]any{
					"base_score": -1.1,
					"trees": []any{
						map[string]any{
							"nodes": []any{
								map[string]any{"feature": 0, "threshold": 0.55, "left": 1, "right": 2, "value": 0.0},
								map[string]any{"feature": 1, "threshold": 0.6, "left": 3, "right": 4, "value": -0.35},
								map[string]any{"leaf": true, "value": 0.8},
								map[string]any{"leaf": true, "value": -0.6},
								map[string]any{"leaf": true, "value": 0.15},
							},
						},
						map[string]any{
							"nodes": []any{
								map[string]any{"feature": 2, "threshold": 2.0, "left": 1, "right": 2, "value": 0.0},
								map[string]any{"feature": 3, "threshold": 10.5, "left": 3, "right": 4, "value": -0.25},
								map[string]any{"leaf": true, "value": 0.7},
								map[string]any{"leaf": true, "value": 0.1},
								map[string]any{"leaf": true, "value": -0.5},
							},
						},
						map[string]any{
							"nodes": []any{
								map[string]any{"feature": 4, "threshold": 5.0, "left": 1, "right": 2, "value": 0.0},
								map[string]any{"leaf": true, "value": 0.3},
								map[string]any{"leaf": true, "value": -0.2},
							},
						},
					},
				},
				Metrics: &model.PerformanceMetrics{
					AUCROC:    0.91,
					AUCPR:     0.70,
					F1Score:   0.64,
					Precision: 0.66,
					Recall:    0.62,
					Accuracy:  0.86,
				},
			},
		},
	}
}
