package mapping

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// Row is one mapping-table entry: a canonical code and the inclusive range
// of raw values it covers. Single-value entries have Start == End.
type Row struct {
	Code  string
	Label string
	Start string
	End   string
}

// Table is one loaded mapping table, named after its file stem. Attribute
// specs select tables by substring match on the name.
type Table struct {
	Name string
	Rows []Row
}

// loadDir reads every .csv and .xlsx file in dir into tables. Files that do
// not follow the code/label/start/end header convention are skipped with a
// warning rather than failing the load.
func loadDir(dir string) ([]Table, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: read table dir %s", dir)
	}

	var tables []Table
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))

		var rows []Row
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".csv":
			rows, err = loadCSV(path)
		case ".xlsx":
			rows, err = loadXLSX(path)
		default:
			continue
		}
		if err != nil {
			zap.L().Warn("mapping: skipping unreadable table",
				zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		if len(rows) == 0 {
			zap.L().Warn("mapping: table has no usable rows", zap.String("file", e.Name()))
			continue
		}

		tables = append(tables, Table{Name: name, Rows: rows})
	}
	return tables, nil
}

func loadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "mapping: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "mapping: parse csv")
	}
	if len(records) < 2 {
		return nil, eris.New("mapping: csv has no data rows")
	}

	cols, err := headerIndex(records[0])
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if row, ok := cols.row(rec); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func loadXLSX(path string) ([]Row, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "mapping: open xlsx")
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.New("mapping: workbook has no sheets")
	}
	sheet := wb.Sheets[0]

	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rec := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			rec[j] = strings.TrimSpace(cell.String())
		}
		records = append(records, rec)
	}
	if len(records) < 2 {
		return nil, eris.New("mapping: sheet has no data rows")
	}

	cols, err := headerIndex(records[0])
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if row, ok := cols.row(rec); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// columnIndex locates the code/label/start/end columns from a header row.
// Header names are matched loosely so hand-maintained spreadsheets with
// slightly different wording still load.
type columnIndex struct {
	code, label, start, end, value int
}

func headerIndex(header []string) (*columnIndex, error) {
	idx := &columnIndex{code: -1, label: -1, start: -1, end: -1, value: -1}
	for i, h := range header {
		switch key := strings.ToLower(strings.TrimSpace(h)); {
		case key == "code" || strings.HasSuffix(key, "_code"):
			if idx.code < 0 {
				idx.code = i
			}
		case key == "label" || key == "name" || key == "description":
			if idx.label < 0 {
				idx.label = i
			}
		case key == "start" || key == "from" || key == "range_from" || strings.HasPrefix(key, "range_start"):
			idx.start = i
		case key == "end" || key == "to" || key == "range_to" || strings.HasPrefix(key, "range_end"):
			idx.end = i
		case key == "value":
			idx.value = i
		}
	}
	if idx.code < 0 {
		return nil, eris.New("mapping: header has no code column")
	}
	if idx.start < 0 && idx.value < 0 {
		return nil, eris.New("mapping: header has neither range nor value columns")
	}
	return idx, nil
}

func (c *columnIndex) row(rec []string) (Row, bool) {
	at := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	row := Row{Code: at(c.code), Label: at(c.label)}
	if row.Code == "" {
		return Row{}, false
	}

	switch {
	case c.value >= 0 && at(c.value) != "":
		row.Start, row.End = at(c.value), at(c.value)
	case at(c.start) != "":
		row.Start = at(c.start)
		row.End = at(c.end)
		if row.End == "" {
			row.End = row.Start
		}
	default:
		return Row{}, false
	}
	return row, true
}
