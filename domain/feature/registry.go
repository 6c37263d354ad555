package feature

import (
	"fmt"

	"fairlens/domain/core"
)

// Registry holds the features of one investigation in declaration order.
// Order is part of the contract: deterministic split tie-breaking falls back
// to the position a feature was declared at.
type Registry struct {
	features []Feature
	byName   map[string]int
	target   Target
}

// NewRegistry creates a registry from a target and its input features.
// Duplicate names, empty feature lists, and name collisions with the target
// columns are rejected.
func NewRegistry(target Target, features ...Feature) (*Registry, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: no features declared", core.ErrInvalidRegistry)
	}

	reserved := make(map[string]bool, len(target.Names))
	for _, n := range target.Names {
		reserved[n] = true
	}

	byName := make(map[string]int, len(features))
	protected := 0
	for i, f := range features {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: feature %d has no name", core.ErrInvalidRegistry, i)
		}
		if !f.Role.IsValid() {
			return nil, fmt.Errorf("%w: feature %q has unknown role %q", core.ErrInvalidRegistry, f.Name, f.Role)
		}
		if _, dup := byName[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate feature %q", core.ErrInvalidRegistry, f.Name)
		}
		if reserved[f.Name] {
			return nil, fmt.Errorf("%w: feature %q collides with an output column", core.ErrInvalidRegistry, f.Name)
		}
		byName[f.Name] = i
		if f.Role == RoleProtected {
			protected++
		}
	}
	if protected == 0 {
		return nil, fmt.Errorf("%w: at least one protected feature required", core.ErrInvalidRegistry)
	}

	owned := make([]Feature, len(features))
	copy(owned, features)
	return &Registry{features: owned, byName: byName, target: target}, nil
}

// Lookup returns the feature with the given name.
func (r *Registry) Lookup(name string) (Feature, error) {
	i, ok := r.byName[name]
	if !ok {
		return Feature{}, core.NewFeatureError(name)
	}
	return r.features[i], nil
}

// Has reports whether a feature with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Position returns the declaration index of a feature, or -1 if absent.
// Lower positions win deterministic tie-breaks.
func (r *Registry) Position(name string) int {
	i, ok := r.byName[name]
	if !ok {
		return -1
	}
	return i
}

// Len returns the number of registered features.
func (r *Registry) Len() int {
	return len(r.features)
}

// Features returns all features in declaration order.
func (r *Registry) Features() []Feature {
	out := make([]Feature, len(r.features))
	copy(out, r.features)
	return out
}

// Target returns the registered output target.
func (r *Registry) Target() Target {
	return r.target
}

func (r *Registry) withRole(role Role) []Feature {
	var out []Feature
	for _, f := range r.features {
		if f.Role == role {
			out = append(out, f)
		}
	}
	return out
}

// ContextFeatures returns the candidate splitting attributes in declaration order.
func (r *Registry) ContextFeatures() []Feature {
	return r.withRole(RoleContext)
}

// ProtectedFeatures returns the audited sensitive attributes in declaration order.
func (r *Registry) ProtectedFeatures() []Feature {
	return r.withRole(RoleProtected)
}

// Explanatory returns the stratification attributes in declaration order.
func (r *Registry) Explanatory() []Feature {
	return r.withRole(RoleExplanatory)
}
