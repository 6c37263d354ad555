// Package testkit generates deterministic synthetic audit datasets with a
// planted discrimination context, used across the test suite and by the demo
// data command.
package testkit

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"fairlens/domain/feature"
	"fairlens/domain/population"

	"github.com/xuri/excelize/v2"
)

// Dataset is the in-memory synthetic audit set: a loan-style decision table
// where one city approves applicants along gender lines while every other
// city decides independently of gender.
//
// Columns:
// - city (categorical)
// - gender (categorical, protected)
// - age (continuous)
// - income (continuous)
// - approved (binary output)
type Dataset struct {
	Headers []string
	Rows    [][]string // formatted strings for file export

	// Numeric series for assertions
	City     []float64
	Gender   []float64
	Age      []float64
	Income   []float64
	Approved []float64

	cities int
	biased int
}

// Config shapes the generated dataset.
type Config struct {
	Rows int
	Seed int64

	// Cities is the arity of the contextual city column; BiasedCity is the
	// one whose approvals track gender.
	Cities     int
	BiasedCity int

	// BaseRate is the gender-blind approval probability outside the biased
	// city. Inside it, approvals split to BaseRate +/- BiasStrength/2 by
	// gender.
	BaseRate     float64
	BiasStrength float64
}

func DefaultConfig() Config {
	return Config{
		Rows:         1200,
		Seed:         42,
		Cities:       3,
		BiasedCity:   2,
		BaseRate:     0.5,
		BiasStrength: 0.8,
	}
}

// Generate builds the dataset. The same config always produces the same
// rows.
func Generate(cfg Config) (*Dataset, error) {
	if cfg.Rows <= 0 {
		return nil, fmt.Errorf("rows must be > 0")
	}
	if cfg.Cities < 2 {
		return nil, fmt.Errorf("need at least 2 cities")
	}
	if cfg.BiasedCity < 0 || cfg.BiasedCity >= cfg.Cities {
		return nil, fmt.Errorf("biased city %d out of range [0, %d)", cfg.BiasedCity, cfg.Cities)
	}
	lo := cfg.BaseRate - cfg.BiasStrength/2
	hi := cfg.BaseRate + cfg.BiasStrength/2
	if lo < 0 || hi > 1 {
		return nil, fmt.Errorf("base rate %g with bias %g leaves [0,1]", cfg.BaseRate, cfg.BiasStrength)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	ds := &Dataset{
		Headers:  []string{"city", "gender", "age", "income", "approved"},
		City:     make([]float64, cfg.Rows),
		Gender:   make([]float64, cfg.Rows),
		Age:      make([]float64, cfg.Rows),
		Income:   make([]float64, cfg.Rows),
		Approved: make([]float64, cfg.Rows),
		cities:   cfg.Cities,
		biased:   cfg.BiasedCity,
	}

	for i := 0; i < cfg.Rows; i++ {
		city := rng.Intn(cfg.Cities)
		gender := rng.Intn(2)
		ds.City[i] = float64(city)
		ds.Gender[i] = float64(gender)
		ds.Age[i] = float64(20 + rng.Intn(45))
		ds.Income[i] = 20000 + rng.Float64()*80000

		rate := cfg.BaseRate
		if city == cfg.BiasedCity {
			if gender == 1 {
				rate = hi
			} else {
				rate = lo
			}
		}
		if rng.Float64() < rate {
			ds.Approved[i] = 1
		}
	}

	ds.Rows = make([][]string, cfg.Rows)
	for i := 0; i < cfg.Rows; i++ {
		ds.Rows[i] = []string{
			cityLabel(int(ds.City[i])),
			genderLabel(int(ds.Gender[i])),
			strconv.Itoa(int(ds.Age[i])),
			strconv.FormatFloat(ds.Income[i], 'f', 2, 64),
			strconv.Itoa(int(ds.Approved[i])),
		}
	}
	return ds, nil
}

func cityLabel(code int) string { return fmt.Sprintf("city_%d", code) }

func genderLabel(code int) string {
	if code == 1 {
		return "female"
	}
	return "male"
}

// Population converts the dataset into an encoded population.
func (ds *Dataset) Population() (*population.Population, error) {
	cityLabels := make([]string, ds.cities)
	for i := range cityLabels {
		cityLabels[i] = cityLabel(i)
	}
	cityEnc, err := population.NewCategoryEncoder(cityLabels...)
	if err != nil {
		return nil, err
	}
	genderEnc, err := population.NewCategoryEncoder(genderLabel(0), genderLabel(1))
	if err != nil {
		return nil, err
	}
	approvedEnc, err := population.NewCategoryEncoder("denied", "approved")
	if err != nil {
		return nil, err
	}

	pop := population.New()
	if err := pop.AddCategoricalColumn("city", ds.City, cityEnc); err != nil {
		return nil, err
	}
	if err := pop.AddCategoricalColumn("gender", ds.Gender, genderEnc); err != nil {
		return nil, err
	}
	if err := pop.AddColumn("age", ds.Age); err != nil {
		return nil, err
	}
	if err := pop.AddColumn("income", ds.Income); err != nil {
		return nil, err
	}
	if err := pop.AddCategoricalColumn("approved", ds.Approved, approvedEnc); err != nil {
		return nil, err
	}
	return pop, nil
}

// Registry builds the matching feature registry: city, age, and income as
// context features, gender protected, approved as the binary target.
func (ds *Dataset) Registry() (*feature.Registry, error) {
	city, err := feature.New("city", feature.RoleContext, ds.cities)
	if err != nil {
		return nil, err
	}
	age, err := feature.New("age", feature.RoleContext, 0)
	if err != nil {
		return nil, err
	}
	income, err := feature.New("income", feature.RoleContext, 0)
	if err != nil {
		return nil, err
	}
	gender, err := feature.New("gender", feature.RoleProtected, 2)
	if err != nil {
		return nil, err
	}
	target, err := feature.NewTarget(2, "approved")
	if err != nil {
		return nil, err
	}
	return feature.NewRegistry(target, city, age, income, gender)
}

// Source encodes the dataset and splits it into a budgeted data source.
func (ds *Dataset) Source(name string, trainFrac float64, seed int64, conf float64, budget int) (*population.DataSource, error) {
	pop, err := ds.Population()
	if err != nil {
		return nil, err
	}
	return population.NewDataSource(name, pop, trainFrac, seed, conf, budget)
}

// WriteCSV exports the formatted rows with a header line.
func WriteCSV(path string, ds *Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(ds.Headers); err != nil {
		return err
	}
	for _, row := range ds.Rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// WriteXLSX exports the dataset to Sheet1 of an xlsx workbook.
func WriteXLSX(path string, ds *Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	for i, h := range ds.Headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range ds.Rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(path)
}
