package registry

import (
	"encoding/json"
	"math/rand/v2"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/modelproof/xaibench/internal/model"
)

// Fixture is a YAML demo bundle: one dataset plus the models trained on it.
type Fixture struct {
	Dataset DatasetFixture `yaml:"dataset"`
	Models  []ModelFixture `yaml:"models"`
}

// DatasetFixture describes the sample matrix. Rows may be given explicitly
// or generated from a Synthetic spec; exactly one of the two must be set.
type DatasetFixture struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Features  []string       `yaml:"features"`
	Rows      [][]float64    `yaml:"rows,omitempty"`
	Synthetic *SyntheticSpec `yaml:"synthetic,omitempty"`
}

// SyntheticSpec generates rows from per-feature uniform ranges with a fixed
// seed, so repeated seeding produces identical matrices.
type SyntheticSpec struct {
	Rows   int            `yaml:"rows"`
	Seed   uint64         `yaml:"seed"`
	Ranges []FeatureRange `yaml:"ranges"`
}

// FeatureRange bounds one feature column, in dataset feature order.
type FeatureRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// ModelFixture describes one demo model. Params is the family-specific
// parameter document, stored verbatim as the model's params blob.
type ModelFixture struct {
	ID      string                    `yaml:"id"`
	Name    string                    `yaml:"name"`
	Family  model.ModelFamily         `yaml:"family"`
	Params  map[string]any            `yaml:"params"`
	Metrics *model.PerformanceMetrics `yaml:"metrics,omitempty"`
}

// LoadFixtureFile reads and validates a YAML fixture from the given path.
func LoadFixtureFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read fixture")
	}

	var fix Fixture
	if err := yaml.Unmarshal(data, &fix); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal fixture")
	}

	if err := fix.Validate(); err != nil {
		return nil, err
	}
	return &fix, nil
}

// Validate checks structural consistency of the fixture.
func (f *Fixture) Validate() error {
	d := &f.Dataset
	if d.ID == "" {
		return eris.New("registry: dataset id is required")
	}
	if len(d.Features) == 0 {
		return eris.New("registry: dataset has no features")
	}
	if len(d.Rows) == 0 && d.Synthetic == nil {
		return eris.New("registry: dataset needs rows or a synthetic spec")
	}
	if len(d.Rows) > 0 && d.Synthetic != nil {
		return eris.New("registry: dataset rows and synthetic spec are mutually exclusive")
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Features) {
			return eris.Errorf("registry: row %d has %d values, want %d", i, len(row), len(d.Features))
		}
	}
	if s := d.Synthetic; s != nil {
		if s.Rows <= 0 {
			return eris.New("registry: synthetic rows must be > 0")
		}
		if len(s.Ranges) != len(d.Features) {
			return eris.Errorf("registry: synthetic spec has %d ranges, want %d", len(s.Ranges), len(d.Features))
		}
		for i, r := range s.Ranges {
			if r.Max < r.Min {
				return eris.Errorf("registry: range %d has max < min", i)
			}
		}
	}

	if len(f.Models) == 0 {
		return eris.New("registry: fixture has no models")
	}
	for _, m := range f.Models {
		if m.ID == "" {
			return eris.New("registry: model id is required")
		}
		switch m.Family {
		case model.FamilyTree, model.FamilyLinear, model.FamilyBlackbox:
		default:
			return eris.Errorf("registry: model %s has unknown family %q", m.ID, m.Family)
		}
		if len(m.Params) == 0 {
			return eris.Errorf("registry: model %s has no params", m.ID)
		}
	}
	return nil
}

// Materialize builds the domain Dataset, generating synthetic rows when the
// fixture carries a spec instead of explicit data.
func (d *DatasetFixture) Materialize() *model.Dataset {
	ds := &model.Dataset{
		ID:       d.ID,
		Name:     d.Name,
		Features: d.Features,
		Rows:     d.Rows,
	}
	if d.Synthetic != nil {
		ds.Rows = d.Synthetic.generate(len(d.Features))
	}
	return ds
}

func (s *SyntheticSpec) generate(cols int) [][]float64 {
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	rows := make([][]float64, s.Rows)
	for i := range rows {
		row := make([]float64, cols)
		for j := 0; j < cols; j++ {
			r := s.Ranges[j]
			row[j] = r.Min + rng.Float64()*(r.Max-r.Min)
		}
		rows[i] = row
	}
	return rows
}

// Model builds the domain Model with params serialized to JSON.
func (m *ModelFixture) Model(datasetID string) (*model.Model, error) {
	params, err := json.Marshal(m.Params)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: marshal params for model %s", m.ID)
	}
	return &model.Model{
		ID:        m.ID,
		Name:      m.Name,
		Family:    m.Family,
		DatasetID: datasetID,
		Status:    model.ModelStatusCompleted,
		Params:    params,
		Metrics:   m.Metrics,
	}, nil
}
