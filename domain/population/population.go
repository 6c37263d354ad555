package population

import (
	"fmt"
	"strconv"
	"strings"

	"fairlens/domain/core"
)

// Population is a column-major table of float64 columns. Categorical columns
// additionally carry a CategoryEncoder mapping codes back to labels. Filtering
// and splitting return new handles; a Population is never mutated after
// construction, so handles can be shared freely across goroutines.
type Population struct {
	order    []string
	columns  map[string][]float64
	encoders map[string]*CategoryEncoder
	rows     int
}

// New creates an empty population. Columns are added with AddColumn /
// AddCategoricalColumn; the first column fixes the row count.
func New() *Population {
	return &Population{
		columns:  make(map[string][]float64),
		encoders: make(map[string]*CategoryEncoder),
	}
}

// AddColumn adds a continuous column. All columns must have the same length.
func (p *Population) AddColumn(name string, values []float64) error {
	return p.addColumn(name, values, nil)
}

// AddCategoricalColumn adds an encoded categorical column. Codes must lie in
// [0, enc.Arity()).
func (p *Population) AddCategoricalColumn(name string, values []float64, enc *CategoryEncoder) error {
	if enc == nil {
		return core.NewConfigError("column "+name, "categorical column needs an encoder")
	}
	for i, v := range values {
		if v != float64(int(v)) || v < 0 || int(v) >= enc.Arity() {
			return core.NewConfigError("column "+name,
				fmt.Sprintf("row %d holds code %v outside [0, %d)", i, v, enc.Arity()))
		}
	}
	return p.addColumn(name, values, enc)
}

func (p *Population) addColumn(name string, values []float64, enc *CategoryEncoder) error {
	if name == "" {
		return core.NewConfigError("column", "name cannot be empty")
	}
	if _, dup := p.columns[name]; dup {
		return core.NewConfigError("column "+name, "already present")
	}
	if len(p.order) == 0 {
		p.rows = len(values)
	} else if len(values) != p.rows {
		return core.NewConfigError("column "+name,
			fmt.Sprintf("has %d rows, population has %d", len(values), p.rows))
	}
	owned := make([]float64, len(values))
	copy(owned, values)
	p.order = append(p.order, name)
	p.columns[name] = owned
	if enc != nil {
		p.encoders[name] = enc
	}
	return nil
}

// Rows returns the number of rows.
func (p *Population) Rows() int {
	return p.rows
}

// Columns returns the column names in declaration order.
func (p *Population) Columns() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Has reports whether a column exists.
func (p *Population) Has(name string) bool {
	_, ok := p.columns[name]
	return ok
}

// Column returns the values of a column. The returned slice is the live
// backing store; callers must not modify it.
func (p *Population) Column(name string) ([]float64, error) {
	col, ok := p.columns[name]
	if !ok {
		return nil, core.NewFeatureError(name)
	}
	return col, nil
}

// Encoder returns the category encoder of a column, if it is categorical.
func (p *Population) Encoder(name string) (*CategoryEncoder, bool) {
	enc, ok := p.encoders[name]
	return enc, ok
}

// Select returns a new population holding only the given rows, in the given
// order. Encoders are shared; column data is copied.
func (p *Population) Select(rows []int) *Population {
	out := &Population{
		order:    append([]string(nil), p.order...),
		columns:  make(map[string][]float64, len(p.order)),
		encoders: p.encoders,
		rows:     len(rows),
	}
	for _, name := range p.order {
		src := p.columns[name]
		dst := make([]float64, len(rows))
		for i, r := range rows {
			dst[i] = src[r]
		}
		out.columns[name] = dst
	}
	return out
}

// Filter returns a new population holding the rows that match the predicate.
// The original is untouched.
func (p *Population) Filter(pred Predicate) (*Population, error) {
	col, err := p.Column(pred.Feature)
	if err != nil {
		return nil, err
	}
	var rows []int
	for i, v := range col {
		if pred.Matches(v) {
			rows = append(rows, i)
		}
	}
	return p.Select(rows), nil
}

// FilterChain applies a conjunction of predicates.
func (p *Population) FilterChain(preds []Predicate) (*Population, error) {
	out := p
	for _, pred := range preds {
		var err error
		out, err = out.Filter(pred)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Fingerprint returns a stable hash of the population's shape and contents.
func (p *Population) Fingerprint() core.Hash {
	var b strings.Builder
	b.WriteString(strconv.Itoa(p.rows))
	for _, name := range p.order {
		b.WriteByte(';')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(core.NewHashFromFloats(p.columns[name]).String())
	}
	return core.NewHashFromString(b.String())
}
