// Package catalog maps friendly statistic names to ACS variable codes.
package catalog

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog resolves friendly group names to ACS variable codes.
type Catalog struct {
	Groups map[string]Group `yaml:"groups"`
}

// Group is one named set of ACS variables.
type Group struct {
	Description string   `yaml:"description"`
	Variables   []string `yaml:"variables"`
}

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(defaultCatalog, &c); err != nil {
		return nil, eris.Wrap(err, "catalog: parse embedded defaults")
	}
	return &c, nil
}

// Load reads a user catalog file and overlays it on the embedded defaults.
// User groups win on name collision.
func Load(path string) (*Catalog, error) {
	base, err := Default()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}

	var user Catalog
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}

	for name, group := range user.Groups {
		base.Groups[strings.ToLower(name)] = group
	}
	return base, nil
}

// Expand resolves each name to ACS variable codes: known group names expand
// to their members, raw variable codes pass through unchanged. Order is
// preserved and duplicates collapse.
func (c *Catalog) Expand(names []string) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	add := func(v string) {
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if group, ok := c.Groups[strings.ToLower(name)]; ok {
			for _, v := range group.Variables {
				add(v)
			}
			continue
		}
		if looksLikeVariable(name) {
			add(name)
			continue
		}
		return nil, eris.Errorf("catalog: unknown variable group %q", name)
	}

	if len(out) == 0 {
		return nil, eris.New("catalog: no variables resolved")
	}
	return out, nil
}

// Names returns the group names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Groups))
	for name := range c.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// looksLikeVariable reports whether name is shaped like a raw API variable
// code (B01003_001E, DP03_0062E, NAME, GEO_ID): only uppercase letters,
// digits and underscores. Group names are lowercase, so the two can never
// collide.
func looksLikeVariable(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
