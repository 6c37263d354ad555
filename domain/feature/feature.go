// Package feature defines the typed feature model of an audit: which columns
// are candidate context attributes, which are protected, and which explain
// away apparent associations.
package feature

import (
	"fmt"

	"fairlens/domain/core"
)

// Role classifies how a feature participates in an investigation.
type Role string

const (
	// RoleContext marks a candidate splitting attribute for context discovery.
	RoleContext Role = "context"
	// RoleProtected marks a sensitive attribute whose association with the
	// output is under audit.
	RoleProtected Role = "protected"
	// RoleExplanatory marks a stratification attribute for conditional metrics.
	RoleExplanatory Role = "explanatory"
)

// IsValid reports whether the role is a member of the closed role set.
func (r Role) IsValid() bool {
	switch r {
	case RoleContext, RoleProtected, RoleExplanatory:
		return true
	}
	return false
}

// Feature describes one input column: its name, its investigative role, and
// its arity. Arity 0 marks a continuous feature; arity >= 2 marks a
// categorical feature with that many categories.
type Feature struct {
	Name  string `json:"name"`
	Role  Role   `json:"role"`
	Arity int    `json:"arity"`
}

// New creates a validated feature.
func New(name string, role Role, arity int) (Feature, error) {
	if name == "" {
		return Feature{}, core.NewConfigError("feature name", "cannot be empty")
	}
	if !role.IsValid() {
		return Feature{}, core.NewConfigError("feature role", fmt.Sprintf("unknown role %q", role))
	}
	if arity == 1 || arity < 0 {
		return Feature{}, core.NewConfigError("feature arity", "must be 0 (continuous) or >= 2 (categorical)")
	}
	return Feature{Name: name, Role: role, Arity: arity}, nil
}

// Continuous creates a continuous feature.
func Continuous(name string, role Role) (Feature, error) {
	return New(name, role, 0)
}

// Categorical creates a categorical feature with the given number of categories.
func Categorical(name string, role Role, arity int) (Feature, error) {
	return New(name, role, arity)
}

func (f Feature) IsContinuous() bool {
	return f.Arity == 0
}

func (f Feature) IsCategorical() bool {
	return f.Arity >= 2
}

func (f Feature) IsBinary() bool {
	return f.Arity == 2
}

func (f Feature) String() string {
	kind := "continuous"
	if f.IsCategorical() {
		kind = fmt.Sprintf("categorical(%d)", f.Arity)
	}
	return fmt.Sprintf("%s [%s, %s]", f.Name, f.Role, kind)
}

// Target identifies the output column or columns of the audited decision.
// Multiple names describe a multi-label output that metrics treat jointly.
// Arity 0 marks a continuous output.
type Target struct {
	Names []string `json:"names"`
	Arity int      `json:"arity"`
}

// NewTarget creates a validated target over one or more output columns.
func NewTarget(arity int, names ...string) (Target, error) {
	if len(names) == 0 {
		return Target{}, core.NewConfigError("target", "needs at least one output column")
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return Target{}, core.NewConfigError("target name", "cannot be empty")
		}
		if seen[n] {
			return Target{}, core.NewConfigError("target", fmt.Sprintf("duplicate output column %q", n))
		}
		seen[n] = true
	}
	if arity == 1 || arity < 0 {
		return Target{}, core.NewConfigError("target arity", "must be 0 (continuous) or >= 2 (categorical)")
	}
	if len(names) > 1 && arity == 0 {
		return Target{}, core.NewConfigError("target", "multi-label outputs must be categorical")
	}
	out := Target{Names: make([]string, len(names)), Arity: arity}
	copy(out.Names, names)
	return out, nil
}

func (t Target) IsContinuous() bool {
	return t.Arity == 0
}

func (t Target) IsBinary() bool {
	return t.Arity == 2 && len(t.Names) == 1
}

func (t Target) IsMultiLabel() bool {
	return len(t.Names) > 1
}

// Primary returns the first output column name.
func (t Target) Primary() string {
	return t.Names[0]
}
