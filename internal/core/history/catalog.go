package history

import (
	"crypto/sha256"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// ParameterInfo describes one upstream trip parameter.
type ParameterInfo struct {
	APIName     string `yaml:"api_name" json:"api_name"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Unit        string `yaml:"unit,omitempty" json:"unit,omitempty"`
	Group       string `yaml:"-" json:"group,omitempty"` // id of the first group listing it
}

// ParameterGroup is a named set of parameters requested together.
type ParameterGroup struct {
	ID         string          `yaml:"id" json:"id"`
	Name       string          `yaml:"name" json:"name"`
	Parameters []ParameterInfo `yaml:"parameters" json:"parameters"`
}

// Catalog is the loaded parameter catalog. It is read-only after load.
type Catalog struct {
	Groups      []ParameterGroup `yaml:"groups" json:"groups"`
	Fallback    []string         `yaml:"fallback" json:"fallback"`
	Fingerprint string           `yaml:"-" json:"fingerprint"` // SHA-256 of the raw YAML

	byName map[string]ParameterInfo
}

// LoadCatalog reads a catalog from path. An empty path returns the embedded
// default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalogYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading parameter catalog %s: %w", path, err)
	}
	cat, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("parameter catalog %s: %w", path, err)
	}
	return cat, nil
}

// DefaultCatalog returns the embedded catalog. It panics if the embedded file
// is invalid, which only a broken build can cause.
func DefaultCatalog() *Catalog {
	cat, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded parameter catalog: %v", err))
	}
	return cat
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parsing parameter catalog: %w", err)
	}
	if err := cat.validate(); err != nil {
		return nil, err
	}
	cat.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))
	return &cat, nil
}

func (c *Catalog) validate() error {
	if len(c.Groups) == 0 {
		return fmt.Errorf("catalog has no parameter groups")
	}

	c.byName = make(map[string]ParameterInfo)
	groupIDs := make(map[string]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		if strings.TrimSpace(g.ID) == "" {
			return fmt.Errorf("parameter group %q: id must not be empty", g.Name)
		}
		if _, dup := groupIDs[g.ID]; dup {
			return fmt.Errorf("parameter group %q: duplicate id", g.ID)
		}
		groupIDs[g.ID] = struct{}{}

		for _, p := range g.Parameters {
			if strings.TrimSpace(p.APIName) == "" {
				return fmt.Errorf("parameter group %q: api_name must not be empty", g.ID)
			}
			if _, seen := c.byName[p.APIName]; !seen {
				p.Group = g.ID
				c.byName[p.APIName] = p
			}
		}
	}

	if len(c.Fallback) == 0 {
		return fmt.Errorf("catalog fallback list must not be empty")
	}
	if len(c.Fallback) > DefaultBatchSize {
		return fmt.Errorf("catalog fallback list has %d parameters, at most %d fit one request", len(c.Fallback), DefaultBatchSize)
	}
	for _, name := range c.Fallback {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("catalog fallback list contains an empty name")
		}
	}
	return nil
}

// ExtendedParameters returns the union of every group's parameters in file
// order, each name once.
func (c *Catalog) ExtendedParameters() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, g := range c.Groups {
		for _, p := range g.Parameters {
			if _, ok := seen[p.APIName]; ok {
				continue
			}
			seen[p.APIName] = struct{}{}
			out = append(out, p.APIName)
		}
	}
	return out
}

// FallbackParameters returns a copy of the fallback list.
func (c *Catalog) FallbackParameters() []string {
	return append([]string(nil), c.Fallback...)
}

// Lookup returns the display name, unit and group for an upstream parameter name.
func (c *Catalog) Lookup(apiName string) (ParameterInfo, bool) {
	p, ok := c.byName[apiName]
	return p, ok
}

// Describe returns metadata for each name in order. Names the catalog does
// not know, such as fallback-only parameters, are described by name alone.
func (c *Catalog) Describe(names []string) []ParameterInfo {
	out := make([]ParameterInfo, 0, len(names))
	for _, name := range names {
		info, ok := c.Lookup(name)
		if !ok {
			info = ParameterInfo{APIName: name, DisplayName: name}
		}
		out = append(out, info)
	}
	return out
}
