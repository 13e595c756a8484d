package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Policy is the static combinability relation between analyses. It is
// symmetric: declaring a→b also allows b→a. Unknown ids never combine.
type Policy struct {
	allowed map[string]map[string]bool
}

type policyFile struct {
	Combinations map[string][]string `yaml:"combinations"`
}

// NewPolicy builds a policy from an adjacency list.
func NewPolicy(combinations map[string][]string) *Policy {
	p := &Policy{allowed: make(map[string]map[string]bool)}
	for a, others := range combinations {
		for _, b := range others {
			p.allow(a, b)
		}
	}
	return p
}

func (p *Policy) allow(a, b string) {
	if a == b {
		return
	}
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if p.allowed[pair[0]] == nil {
			p.allowed[pair[0]] = make(map[string]bool)
		}
		p.allowed[pair[0]][pair[1]] = true
	}
}

// LoadPolicy reads a combinability policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes policy YAML of the form
//
//	combinations:
//	  ANALYSIS-A: [ANALYSIS-B, ANALYSIS-C]
func ParsePolicy(data []byte) (*Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	return NewPolicy(f.Combinations), nil
}

// MayCombine reports whether two analyses use disjoint data.
func (p *Policy) MayCombine(a, b string) bool {
	if p == nil || a == b {
		return false
	}
	return p.allowed[a][b]
}

// Check returns an error naming any policy id missing from the catalog.
func (p *Policy) Check(c *Catalog) error {
	var unknown []string
	for id := range p.allowed {
		if _, ok := c.Lookup(id); !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("policy references unknown analyses: %v", unknown)
	}
	return nil
}
