package excel

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"fairlens/domain/population"
	"fairlens/internal/errors"
	"fairlens/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func auditRoles() Roles {
	return Roles{
		Context:   []string{"city", "age", "income"},
		Protected: []string{"gender"},
		Target:    []string{"approved"},
	}
}

func loadFile(t *testing.T, path string, roles Roles) (*population.Population, error) {
	t.Helper()
	loader, err := NewLoader(path, FormatAuto, "", roles)
	require.NoError(t, err)
	pop, _, err := loader.Load()
	return pop, err
}

func TestLoaderRoundTripsGeneratedCSV(t *testing.T) {
	ds, err := testkit.Generate(testkit.DefaultConfig())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "loans.csv")
	require.NoError(t, testkit.WriteCSV(path, ds))

	loader, err := NewLoader(path, FormatAuto, "", auditRoles())
	require.NoError(t, err)
	pop, reg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 1200, pop.Rows())
	assert.Equal(t, "approved", reg.Target().Primary())
	assert.Equal(t, 2, reg.Target().Arity)

	protected := reg.ProtectedFeatures()
	require.Len(t, protected, 1)
	assert.Equal(t, "gender", protected[0].Name)
	assert.Equal(t, 2, protected[0].Arity)

	byName := map[string]int{}
	for _, f := range reg.ContextFeatures() {
		byName[f.Name] = f.Arity
	}
	assert.Equal(t, map[string]int{"city": 3, "age": 0, "income": 0}, byName,
		"string-labeled city is encoded, numeric age and income load as continuous")

	// Labels are encoded in sorted order regardless of row order.
	enc, ok := pop.Encoder("gender")
	require.True(t, ok)
	assert.Equal(t, []string{"female", "male"}, enc.Categories())
}

func TestLoaderReadsXLSXIdentically(t *testing.T) {
	ds, err := testkit.Generate(testkit.DefaultConfig())
	require.NoError(t, err)
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "loans.csv")
	xlsxPath := filepath.Join(dir, "loans.xlsx")
	require.NoError(t, testkit.WriteCSV(csvPath, ds))
	require.NoError(t, testkit.WriteXLSX(xlsxPath, ds))

	fromCSV, err := loadFile(t, csvPath, auditRoles())
	require.NoError(t, err)
	fromXLSX, err := loadFile(t, xlsxPath, auditRoles())
	require.NoError(t, err)

	assert.Equal(t, fromCSV.Rows(), fromXLSX.Rows())
	for _, col := range []string{"gender", "approved", "income"} {
		csvCol, err := fromCSV.Column(col)
		require.NoError(t, err)
		xlsxCol, err := fromXLSX.Column(col)
		require.NoError(t, err)
		assert.Equal(t, csvCol, xlsxCol, col)
	}
}

func TestLoaderDefaultsContextToRemainingColumns(t *testing.T) {
	path := writeCSV(t, "city,gender,age,approved\na,male,30,yes\nb,female,40,no\na,female,35,yes\n")
	loader, err := NewLoader(path, FormatCSV, "", Roles{
		Protected: []string{"gender"},
		Target:    []string{"approved"},
	})
	require.NoError(t, err)

	_, reg, err := loader.Load()
	require.NoError(t, err)
	var names []string
	for _, f := range reg.ContextFeatures() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"city", "age"}, names)
}

func TestLoaderDropsIncompleteRows(t *testing.T) {
	path := writeCSV(t, "city,gender,approved\na,male,yes\nb,,yes\na,female,no\nb,male,no\n")
	pop, err := loadFile(t, path, Roles{
		Context:   []string{"city"},
		Protected: []string{"gender"},
		Target:    []string{"approved"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, pop.Rows())
}

func TestLoaderColumnTyping(t *testing.T) {
	// Twelve distinct numeric outcomes push the single target continuous;
	// the two-valued numeric protected column stays categorical.
	lines := "x,prot,y\n"
	for i := 0; i < 12; i++ {
		lines += fmt.Sprintf("%d,%d,%d.5\n", i, i%2, 100+i)
	}
	path := writeCSV(t, lines)

	loader, err := NewLoader(path, FormatCSV, "", Roles{
		Context:   []string{"x"},
		Protected: []string{"prot"},
		Target:    []string{"y"},
	})
	require.NoError(t, err)
	_, reg, err := loader.Load()
	require.NoError(t, err)

	assert.True(t, reg.Target().IsContinuous())
	assert.Equal(t, 2, reg.ProtectedFeatures()[0].Arity)
	assert.True(t, reg.ContextFeatures()[0].IsContinuous())
}

func TestLoaderMultiLabelTargetMustBeBinary(t *testing.T) {
	good := writeCSV(t, "c,p,l1,l2\na,x,0,1\nb,y,1,0\na,x,0,0\nb,y,1,1\n")
	loader, err := NewLoader(good, FormatCSV, "", Roles{
		Context:   []string{"c"},
		Protected: []string{"p"},
		Target:    []string{"l1", "l2"},
	})
	require.NoError(t, err)
	_, reg, err := loader.Load()
	require.NoError(t, err)
	assert.True(t, reg.Target().IsMultiLabel())
	assert.Equal(t, 2, reg.Target().Arity)

	bad := writeCSV(t, "c,p,l1,l2\na,x,0,2\nb,y,1,0\na,x,0,1\n")
	loader, err = NewLoader(bad, FormatCSV, "", Roles{
		Context:   []string{"c"},
		Protected: []string{"p"},
		Target:    []string{"l1", "l2"},
	})
	require.NoError(t, err)
	_, _, err = loader.Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestLoaderValidatesRolesAndFiles(t *testing.T) {
	path := writeCSV(t, "city,gender,approved\na,male,yes\nb,female,no\n")

	_, err := NewLoader(path, FormatCSV, "", Roles{Target: []string{"approved"}})
	require.Error(t, err, "protected is required")

	_, err = NewLoader(path, FormatCSV, "", Roles{Protected: []string{"gender"}})
	require.Error(t, err, "target is required")

	_, err = loadFile(t, path, Roles{
		Protected: []string{"ethnicity"},
		Target:    []string{"approved"},
	})
	require.Error(t, err, "unknown protected column")
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	_, err = loadFile(t, path, Roles{
		Protected: []string{"gender"},
		Target:    []string{"gender"},
	})
	require.Error(t, err, "one column cannot hold two roles")

	_, err = loadFile(t, filepath.Join(t.TempDir(), "nope.csv"), auditRoles())
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	_, err = NewReader("data.parquet", FormatAuto, "")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}
