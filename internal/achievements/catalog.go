// Package achievements exposes the static achievement reference data.
package achievements

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed achievements.yaml
var embeddedDefinitions []byte

// ErrUnknownAchievement reports a lookup for an id outside the catalog.
var ErrUnknownAchievement = errors.New("achievements: unknown achievement")

// Achievement is an immutable achievement definition.
type Achievement struct {
	ID          int    `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Difficulty  string `yaml:"difficulty" json:"difficulty"`
}

// Catalog is a read-only index of achievement definitions.
type Catalog struct {
	ordered []Achievement
	byID    map[int]Achievement
}

// Default loads the definitions compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(embeddedDefinitions)
}

// Parse builds a catalog from a YAML list of definitions.
func Parse(document []byte) (*Catalog, error) {
	var definitions []Achievement
	if err := yaml.Unmarshal(document, &definitions); err != nil {
		return nil, fmt.Errorf("achievements: decode definitions: %w", err)
	}
	catalog := &Catalog{
		ordered: make([]Achievement, 0, len(definitions)),
		byID:    make(map[int]Achievement, len(definitions)),
	}
	for _, definition := range definitions {
		if definition.ID <= 0 {
			return nil, fmt.Errorf("achievements: invalid id %d", definition.ID)
		}
		if strings.TrimSpace(definition.Name) == "" {
			return nil, fmt.Errorf("achievements: achievement %d has no name", definition.ID)
		}
		if _, exists := catalog.byID[definition.ID]; exists {
			return nil, fmt.Errorf("achievements: duplicate id %d", definition.ID)
		}
		catalog.byID[definition.ID] = definition
		catalog.ordered = append(catalog.ordered, definition)
	}
	sort.Slice(catalog.ordered, func(i, j int) bool {
		return catalog.ordered[i].ID < catalog.ordered[j].ID
	})
	return catalog, nil
}

// All returns the definitions ordered by id.
func (c *Catalog) All() []Achievement {
	out := make([]Achievement, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Lookup returns the definition for id.
func (c *Catalog) Lookup(id int) (Achievement, error) {
	achievement, ok := c.byID[id]
	if !ok {
		return Achievement{}, fmt.Errorf("%w: %d", ErrUnknownAchievement, id)
	}
	return achievement, nil
}
