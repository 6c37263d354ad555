// Package excel loads audit datasets from CSV and XLSX files and encodes
// them into populations ready for investigation.
package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fairlens/internal"
	"fairlens/internal/errors"

	"github.com/xuri/excelize/v2"
)

// Dataset file formats.
const (
	FormatAuto = "auto"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Table is a dataset file reduced to trimmed strings: one header row and the
// data rows, all padded to the header width.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Reader reads CSV and XLSX dataset files.
type Reader struct {
	path     string
	fileType string
	sheet    string
	logger   *internal.Logger
}

// NewReader creates a reader for the file. Format auto resolves by file
// extension; sheet selects the worksheet for xlsx files, empty meaning the
// first one.
func NewReader(path, format, sheet string) (*Reader, error) {
	fileType := format
	if fileType == "" || fileType == FormatAuto {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			fileType = FormatCSV
		case ".xlsx", ".xlsm":
			fileType = FormatXLSX
		default:
			return nil, errors.InvalidInput(fmt.Sprintf("cannot infer format of %s; name it explicitly", path))
		}
	}
	if fileType != FormatCSV && fileType != FormatXLSX {
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported data format %q", format))
	}
	return &Reader{
		path:     path,
		fileType: fileType,
		sheet:    sheet,
		logger:   internal.NewDefaultLogger().With("excel"),
	}, nil
}

// ReadTable reads the whole file into memory.
func (r *Reader) ReadTable() (*Table, error) {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return nil, errors.NotFound(fmt.Sprintf("dataset file %s", r.path))
	}

	var (
		rows [][]string
		err  error
	)
	switch r.fileType {
	case FormatCSV:
		rows, err = r.readCSV()
	default:
		rows, err = r.readXLSX()
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.DataFormat(r.path, fmt.Errorf("need a header row and at least one data row"))
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}
	data := make([][]string, 0, len(rows)-1)
	for _, raw := range rows[1:] {
		row := make([]string, len(headers))
		for j := range headers {
			if j < len(raw) {
				row[j] = strings.TrimSpace(raw[j])
			}
		}
		data = append(data, row)
	}

	r.logger.Debug("read %s: %d columns, %d rows", r.path, len(headers), len(data))
	return &Table{Headers: headers, Rows: data}, nil
}

func (r *Reader) readCSV() ([][]string, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, errors.DataFormat(r.path, err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.DataFormat(r.path, err)
	}
	return rows, nil
}

func (r *Reader) readXLSX() ([][]string, error) {
	f, err := excelize.OpenFile(r.path)
	if err != nil {
		return nil, errors.DataFormat(r.path, err)
	}
	defer f.Close()

	sheet := r.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.DataFormat(r.path, fmt.Errorf("worksheet %s: %w", sheet, err))
	}
	return rows, nil
}
