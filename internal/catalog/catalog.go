package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/protomodels/pkg/protomodel"
)

// Analysis is one experimental result of the catalog. Yields are in events.
type Analysis struct {
	ID         string              `yaml:"id"`
	Dataset    string              `yaml:"dataset,omitempty"`
	Kind       protomodel.DataKind `yaml:"kind"`
	Particles  []int               `yaml:"particles"`
	FinalState int                 `yaml:"final_state,omitempty"`
	MinMass    float64             `yaml:"min_mass"`
	MaxMass    float64             `yaml:"max_mass"`
	Efficiency float64             `yaml:"efficiency"`

	// Likelihood results: observed excess over background and its uncertainty.
	ObservedExcess float64 `yaml:"observed_excess,omitempty"`
	Uncertainty    float64 `yaml:"uncertainty,omitempty"`

	// Upper-limit results.
	UpperLimit float64 `yaml:"upper_limit,omitempty"`

	// Unavailable marks a result whose data cannot be used; predicting it fails.
	Unavailable bool `yaml:"unavailable,omitempty"`
}

// Sensitive reports whether the analysis sees particle pid at the given mass.
func (a *Analysis) Sensitive(pid int, mass float64) bool {
	if mass < a.MinMass || mass > a.MaxMass {
		return false
	}
	for _, p := range a.Particles {
		if p == pid {
			return true
		}
	}
	return false
}

// Catalog is the read-only set of experimental results.
type Catalog struct {
	Analyses []Analysis `yaml:"analyses"`

	byID map[string]*Analysis
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("catalog validation failed: %w", err)
	}
	return &c, nil
}

// New builds a catalog from analyses, validating them.
func New(analyses []Analysis) (*Catalog, error) {
	c := &Catalog{Analyses: analyses}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every analysis, applies defaults and builds the id index.
func (c *Catalog) Validate() error {
	if len(c.Analyses) == 0 {
		return fmt.Errorf("catalog must contain at least one analysis")
	}
	c.byID = make(map[string]*Analysis, len(c.Analyses))
	for i := range c.Analyses {
		a := &c.Analyses[i]
		if a.ID == "" {
			return fmt.Errorf("analysis %d: id is required", i)
		}
		if _, dup := c.byID[a.ID]; dup {
			return fmt.Errorf("analysis '%s': duplicate id", a.ID)
		}
		if len(a.Particles) == 0 {
			return fmt.Errorf("analysis '%s': particles list cannot be empty", a.ID)
		}
		if a.MaxMass == 0 {
			a.MaxMass = protomodel.DecoupledMass
		}
		if a.MinMass < 0 || a.MaxMass < a.MinMass {
			return fmt.Errorf("analysis '%s': invalid mass window [%v, %v]", a.ID, a.MinMass, a.MaxMass)
		}
		if a.Efficiency == 0 {
			a.Efficiency = 1.0
		}
		if a.Efficiency < 0 || a.Efficiency > 1 {
			return fmt.Errorf("analysis '%s': efficiency must be in (0, 1], got %v", a.ID, a.Efficiency)
		}

		switch a.Kind {
		case protomodel.DataKindLikelihood:
			if a.Uncertainty <= 0 {
				return fmt.Errorf("analysis '%s': likelihood results need a positive uncertainty", a.ID)
			}
		case protomodel.DataKindUpperLimit:
			if a.UpperLimit <= 0 {
				return fmt.Errorf("analysis '%s': upper-limit results need a positive upper_limit", a.ID)
			}
		default:
			return fmt.Errorf("analysis '%s': invalid kind '%s' (must be '%s' or '%s')",
				a.ID, a.Kind, protomodel.DataKindLikelihood, protomodel.DataKindUpperLimit)
		}
		c.byID[a.ID] = a
	}
	return nil
}

// Lookup returns the analysis with the given id.
func (c *Catalog) Lookup(id string) (*Analysis, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// IDs returns all analysis ids, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.Analyses))
	for _, a := range c.Analyses {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids
}
