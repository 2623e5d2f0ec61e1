package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogFile is the top-level YAML structure of a tier catalog.
type CatalogFile struct {
	Tiers []RuleSet `yaml:"tiers"`
}

// Catalog resolves rule sets by tier name.
type Catalog struct {
	tiers map[string]RuleSet
}

// NewCatalog builds a catalog from explicit rule sets.
func NewCatalog(sets ...RuleSet) *Catalog {
	c := &Catalog{tiers: make(map[string]RuleSet, len(sets))}
	for _, rs := range sets {
		c.tiers[rs.Tier] = rs
	}
	return c
}

// LoadCatalog reads tier rule sets from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tier catalog: %w", err)
	}
	if len(file.Tiers) == 0 {
		return nil, fmt.Errorf("tier catalog %s contains no tiers", path)
	}

	c := &Catalog{tiers: make(map[string]RuleSet, len(file.Tiers))}
	for i := range file.Tiers {
		rs := file.Tiers[i]
		if rs.Tier == "" {
			return nil, fmt.Errorf("tier catalog %s: entry %d has no tier name", path, i)
		}
		if rs.DrawdownBasis == "" {
			rs.DrawdownBasis = BasisHigherOfBoth
		}
		if (rs.WeekendWindow == WeekendWindow{}) {
			rs.WeekendWindow = DefaultWeekendWindow()
		}
		c.tiers[rs.Tier] = rs
	}
	return c, nil
}

// Get returns the rule set for a tier name, falling back to Default when the
// tier is unknown.
func (c *Catalog) Get(tier string) RuleSet {
	if rs, ok := c.tiers[tier]; ok {
		return rs
	}
	return Default()
}

// Has reports whether the tier exists in the catalog.
func (c *Catalog) Has(tier string) bool {
	_, ok := c.tiers[tier]
	return ok
}

// Tiers returns the tier names in the catalog.
func (c *Catalog) Tiers() []string {
	out := make([]string, 0, len(c.tiers))
	for name := range c.tiers {
		out = append(out, name)
	}
	return out
}
