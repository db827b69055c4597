package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"peoplegate.org/internal/authz"
)

type catalogFile struct {
	Roles map[string]authz.Permissions `yaml:"roles"`
}

// LoadRoleCatalog reads well-known role statements from a YAML file. Roles
// missing from the file keep their built-in statements; an empty path
// returns the built-in catalog.
func LoadRoleCatalog(path string) (authz.RoleCatalog, error) {
	catalog := authz.DefaultRoleCatalog()
	if path == "" {
		return catalog, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode role catalog %s: %w", path, err)
	}
	for name, perms := range file.Roles {
		k, ok := authz.ParseRoleRef(name).Known()
		if !ok {
			return nil, fmt.Errorf("role catalog %s: %q is not a well-known role", path, name)
		}
		catalog[k] = perms.Normalize()
	}
	return catalog, nil
}

type policiesFile struct {
	Organizations map[string][]authz.AbacPolicy `yaml:"organizations"`
}

// LoadPolicies reads bootstrap ABAC policies keyed by organization id.
func LoadPolicies(path string) (map[string][]authz.AbacPolicy, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policies: %w", err)
	}
	var file policiesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode policies %s: %w", path, err)
	}
	for orgID, policies := range file.Organizations {
		for i := range policies {
			policies[i].OrgID = orgID
			if err := policies[i].Validate(); err != nil {
				return nil, fmt.Errorf("policies %s, org %s: %w", path, orgID, err)
			}
		}
	}
	return file.Organizations, nil
}
