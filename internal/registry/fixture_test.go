package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelproof/xaibench/internal/model"
)

const fixtureYAML = `
dataset:
  id: test-credit
  name: test credit sample
  features: [debt_ratio, utilization]
  rows:
    - [0.4, 0.7]
    - [0.1, 0.2]
    - [0.9, 0.95]
models:
  - id: test-logistic
    name: test-logistic-v1
    family: linear
    params:
      weights:
        debt_ratio: 1.5
        utilization: 0.8
      bias: -0.2
    metrics:
      auc_roc: 0.88
      f1_score: 0.6
`

func writeFixture(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	return path
}

func TestLoadFixtureFile(t *testing.T) {
	fix, err := LoadFixtureFile(writeFixture(t, fixtureYAML))
	require.NoError(t, err)

	assert.Equal(t, "test-credit", fix.Dataset.ID)
	assert.Equal(t, []string{"debt_ratio", "utilization"}, fix.Dataset.Features)
	assert.Len(t, fix.Dataset.Rows, 3)

	require.Len(t, fix.Models, 1)
	m := fix.Models[0]
	assert.Equal(t, model.FamilyLinear, m.Family)
	require.NotNil(t, m.Metrics)
	assert.InDelta(t, 0.88, m.Metrics.AUCROC, 1e-9)
}

func TestLoadFixtureFile_MissingFile(t *testing.T) {
	_, err := LoadFixtureFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadFixtureFile_BadYAML(t *testing.T) {
	_, err := LoadFixtureFile(writeFixture(t, "dataset: [not a map"))
	assert.Error(t, err)
}

func TestFixtureValidate_RowWidthMismatch(t *testing.T) {
	fix, err := LoadFixtureFile(writeFixture(t, fixtureYAML))
	require.NoError(t, err)

	fix.Dataset.Rows[1] = []float64{0.1}
	err = fix.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "row 1")
}

func TestFixtureValidate_UnknownFamily(t *testing.T) {
	fix, err := LoadFixtureFile(writeFixture(t, fixtureYAML))
	require.NoError(t, err)

	fix.Models[0].Family = "quantum"
	err = fix.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown family")
}

func TestFixtureValidate_RowsAndSyntheticExclusive(t *testing.T) {
	fix, err := LoadFixtureFile(writeFixture(t, fixtureYAML))
	require.NoError(t, err)

	fix.Dataset.Synthetic = &SyntheticSpec{
		Rows:   10,
		Ranges: []FeatureRange{{Min: 0, Max: 1}, {Min: 0, Max: 1}},
	}
	assert.Error(t, fix.Validate())
}

func TestSyntheticGenerate_Deterministic(t *testing.T) {
	spec := &SyntheticSpec{
		Rows: 20,
		Seed: 7,
		Ranges: []FeatureRange{
			{Min: 0, Max: 1},
			{Min: 10, Max: 20},
		},
	}

	a := spec.generate(2)
	b := spec.generate(2)
	require.Len(t, a, 20)
	assert.Equal(t, a, b)

	for _, row := range a {
		require.Len(t, row, 2)
		assert.GreaterOrEqual(t, row[0], 0.0)
		assert.Less(t, row[0], 1.0)
		assert.GreaterOrEqual(t, row[1], 10.0)
		assert.Less(t, row[1], 20.0)
	}
}

func TestModelFixture_ParamsRoundTrip(t *testing.T) {
	fix, err := LoadFixtureFile(writeFixture(t, fixtureYAML))
	require.NoError(t, err)

	m, err := fix.Models[0].Model("test-credit")
	require.NoError(t, err)
	assert.Equal(t, "test-credit", m.DatasetID)
	assert.Equal(t, model.ModelStatusCompleted, m.Status)
	assert.JSONEq(t,
		`{"weights":{"debt_ratio":1.5,"utilization":0.8},"bias":-0.2}`,
		string(m.Params),
	)
}

func TestDemoFixture_Valid(t *testing.T) {
	fix := Demo()
	require.NoError(t, fix.Validate())

	ds := fix.Dataset.Materialize()
	assert.Len(t, ds.Rows, 200)
	assert.Len(t, ds.Features, 5)

	// Both demo models must decode into working predictors.
	for _, mf := range fix.Models {
		m, err := mf.Model(ds.ID)
		require.NoError(t, err)
		require.NotEmpty(t, m.Params)
	}
}
