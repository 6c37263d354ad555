package excel

import (
	"fmt"
	"strconv"

	"fairlens/domain/feature"
	"fairlens/domain/population"
	"fairlens/internal"
	"fairlens/internal/errors"
)

// roleTarget tags target columns during load; it never reaches the registry.
const roleTarget = feature.Role("target")

// maxClasses is the cardinality above which an all-numeric protected or
// single-target column is treated as continuous instead of label-encoded.
const maxClasses = 10

// Roles assigns dataset columns to audit roles. An empty Context means every
// column without another role.
type Roles struct {
	Context     []string
	Protected   []string
	Explanatory string
	Target      []string
}

// Loader turns a dataset file into an encoded population and its feature
// registry. Column typing follows the roles: context columns are continuous
// when fully numeric and label-encoded otherwise, protected and single-target
// columns additionally stay categorical up to maxClasses distinct numeric
// values, explanatory columns are always label-encoded, and every column of a
// multi-label target must be binary.
type Loader struct {
	reader *Reader
	roles  Roles
	logger *internal.Logger
}

// NewLoader creates a loader for the file. Format and sheet follow NewReader.
func NewLoader(path, format, sheet string, roles Roles) (*Loader, error) {
	if len(roles.Protected) == 0 {
		return nil, errors.ConfigInvalid("at least one protected column is required")
	}
	if len(roles.Target) == 0 {
		return nil, errors.ConfigInvalid("a target column is required")
	}
	reader, err := NewReader(path, format, sheet)
	if err != nil {
		return nil, err
	}
	return &Loader{
		reader: reader,
		roles:  roles,
		logger: internal.NewDefaultLogger().With("excel"),
	}, nil
}

// column is one dataset column selected by a role, with incomplete rows
// already dropped.
type column struct {
	name   string
	role   feature.Role
	values []string
}

// Load reads the file and encodes it.
func (l *Loader) Load() (*population.Population, *feature.Registry, error) {
	table, err := l.reader.ReadTable()
	if err != nil {
		return nil, nil, err
	}

	roleOf, err := l.assignRoles(table.Headers)
	if err != nil {
		return nil, nil, err
	}

	cols, dropped := completeRows(table, roleOf)
	if len(cols) == 0 || len(cols[0].values) == 0 {
		return nil, nil, errors.DataFormat(l.reader.path, fmt.Errorf("no complete rows"))
	}
	if dropped > 0 {
		l.logger.Warn("dropped %d rows with missing values in %s", dropped, l.reader.path)
	}

	pop := population.New()
	var feats []feature.Feature
	var targetArity int
	var targetNames []string

	for _, col := range cols {
		values, numeric := numericColumn(col.values)
		if l.continuous(col.role, numeric, col.values) {
			if col.role == roleTarget {
				targetArity = 0
				targetNames = append(targetNames, col.name)
			} else {
				f, err := feature.New(col.name, col.role, 0)
				if err != nil {
					return nil, nil, errors.Wrapf(err, "column %q", col.name)
				}
				feats = append(feats, f)
			}
			if err := pop.AddColumn(col.name, values); err != nil {
				return nil, nil, errors.Wrapf(err, "column %q", col.name)
			}
			continue
		}

		codes, enc, err := encodeColumn(col)
		if err != nil {
			return nil, nil, err
		}
		switch col.role {
		case roleTarget:
			if len(l.roles.Target) > 1 && enc.Arity() != 2 {
				return nil, nil, errors.ConfigInvalid(
					fmt.Sprintf("multi-label target column %q must be binary, has %d classes", col.name, enc.Arity()))
			}
			targetArity = enc.Arity()
			targetNames = append(targetNames, col.name)
		default:
			f, err := feature.New(col.name, col.role, enc.Arity())
			if err != nil {
				return nil, nil, errors.Wrapf(err, "column %q", col.name)
			}
			feats = append(feats, f)
		}
		if err := pop.AddCategoricalColumn(col.name, codes, enc); err != nil {
			return nil, nil, errors.Wrapf(err, "column %q", col.name)
		}
	}

	target, err := feature.NewTarget(targetArity, targetNames...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "target")
	}
	registry, err := feature.NewRegistry(target, feats...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "feature registry")
	}

	l.logger.Info("loaded %s: %d rows, %d features, target %s",
		l.reader.path, pop.Rows(), len(feats), target.Primary())
	return pop, registry, nil
}

// assignRoles maps every used column to its role, rejecting unknown and
// doubly assigned columns.
func (l *Loader) assignRoles(headers []string) (map[string]feature.Role, error) {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := idx[h]; dup {
			return nil, errors.DataFormat(l.reader.path, fmt.Errorf("duplicate column %q", h))
		}
		idx[h] = i
	}

	roleOf := make(map[string]feature.Role)
	assign := func(name string, role feature.Role) error {
		if _, ok := idx[name]; !ok {
			return errors.ConfigInvalid(fmt.Sprintf("%s column %q is not in the dataset", role, name))
		}
		if prev, taken := roleOf[name]; taken {
			return errors.ConfigInvalid(fmt.Sprintf("column %q assigned to both %s and %s", name, prev, role))
		}
		roleOf[name] = role
		return nil
	}

	for _, name := range l.roles.Protected {
		if err := assign(name, feature.RoleProtected); err != nil {
			return nil, err
		}
	}
	if l.roles.Explanatory != "" {
		if err := assign(l.roles.Explanatory, feature.RoleExplanatory); err != nil {
			return nil, err
		}
	}
	for _, name := range l.roles.Target {
		if err := assign(name, roleTarget); err != nil {
			return nil, err
		}
	}

	ctx := l.roles.Context
	if len(ctx) == 0 {
		for _, h := range headers {
			if _, taken := roleOf[h]; !taken {
				ctx = append(ctx, h)
			}
		}
	}
	for _, name := range ctx {
		if err := assign(name, feature.RoleContext); err != nil {
			return nil, err
		}
	}
	return roleOf, nil
}

// completeRows extracts the used columns in header order, dropping every row
// with a missing value in any of them.
func completeRows(table *Table, roleOf map[string]feature.Role) ([]column, int) {
	var cols []column
	var used []int
	for i, h := range table.Headers {
		if role, ok := roleOf[h]; ok {
			cols = append(cols, column{name: h, role: role})
			used = append(used, i)
		}
	}

	dropped := 0
	for _, row := range table.Rows {
		complete := true
		for _, i := range used {
			if row[i] == "" {
				complete = false
				break
			}
		}
		if !complete {
			dropped++
			continue
		}
		for c, i := range used {
			cols[c].values = append(cols[c].values, row[i])
		}
	}
	return cols, dropped
}

func (l *Loader) continuous(role feature.Role, numeric bool, values []string) bool {
	if !numeric {
		return false
	}
	switch role {
	case feature.RoleContext:
		return true
	case feature.RoleProtected:
		return cardinality(values) > maxClasses
	case roleTarget:
		return len(l.roles.Target) == 1 && cardinality(values) > maxClasses
	default:
		return false
	}
}

func numericColumn(values []string) ([]float64, bool) {
	out := make([]float64, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func encodeColumn(col column) ([]float64, *population.CategoryEncoder, error) {
	enc, err := population.EncoderFromValues(col.values)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "column %q", col.name)
	}
	codes := make([]float64, len(col.values))
	for i, v := range col.values {
		code, ok := enc.Encode(v)
		if !ok {
			return nil, nil, errors.InternalError(fmt.Sprintf("column %q: label %q missing from its own encoder", col.name, v))
		}
		codes[i] = code
	}
	return codes, enc, nil
}

func cardinality(values []string) int {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		seen[v] = true
	}
	return len(seen)
}
