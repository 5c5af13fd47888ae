package extranet

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/dalemusser/collectives/internal/domain/models"
	"gopkg.in/yaml.v3"
)

//go:embed fonctions.yaml
var defaultFonctions []byte

// RoleGrant is a role to create for a member holding a fonction. Activity
// names an activity type and is empty for club-wide roles.
type RoleGrant struct {
	Kind     models.RoleKind
	Activity string
}

// RoleMap maps fonction codes to role grants.
type RoleMap struct {
	grants map[string][]RoleGrant
}

type fonctionEntry struct {
	Code     string `yaml:"code"`
	Role     string `yaml:"role"`
	Activity string `yaml:"activity"`
}

// DefaultRoleMap returns the embedded mapping.
func DefaultRoleMap() (*RoleMap, error) {
	return ParseRoleMap(defaultFonctions)
}

// ParseRoleMap reads a YAML list of {code, role, activity} entries.
func ParseRoleMap(data []byte) (*RoleMap, error) {
	var entries []fonctionEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse fonctions: %w", err)
	}
	m := &RoleMap{grants: make(map[string][]RoleGrant, len(entries))}
	for i, e := range entries {
		code := strings.ToUpper(strings.TrimSpace(e.Code))
		if code == "" {
			return nil, fmt.Errorf("fonctions entry %d: empty code", i)
		}
		kind, ok := models.ParseRoleKind(e.Role)
		if !ok {
			return nil, fmt.Errorf("fonctions entry %s: unknown role %q", code, e.Role)
		}
		if kind.RelatesToActivity() != (e.Activity != "") {
			return nil, fmt.Errorf("fonctions entry %s: role %s and activity %q do not match", code, e.Role, e.Activity)
		}
		m.grants[code] = append(m.grants[code], RoleGrant{Kind: kind, Activity: e.Activity})
	}
	return m, nil
}

// Grants returns the roles earned by the fonctions, without duplicates.
func (m *RoleMap) Grants(fonctions []Fonction) []RoleGrant {
	if m == nil {
		return nil
	}
	seen := map[RoleGrant]bool{}
	var out []RoleGrant
	for _, f := range fonctions {
		for _, g := range m.grants[strings.ToUpper(strings.TrimSpace(f.Code))] {
			if !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
	}
	return out
}
