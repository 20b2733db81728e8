// Package source reads hypothesis records from spreadsheets and fills in
// missing sentences from the papers they cite.
package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/hyperjump/causa/internal/errors"
	"github.com/hyperjump/causa/internal/models"
)

// TableReader reads record tables. The zero value reads the first sheet.
type TableReader struct {
	// Sheet names the spreadsheet sheet to read; empty means the first sheet.
	Sheet string
}

// NewTableReader returns a TableReader for the given sheet.
func NewTableReader(sheet string) *TableReader {
	return &TableReader{Sheet: sheet}
}

// ReadFile reads records from an .xlsx or .csv file.
func (r *TableReader) ReadFile(path string) ([]models.Record, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return r.ReadBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ReadBytes reads records from content based on ext (".xlsx" or ".csv").
// The first row is the header; it must name every required column, in any
// order and case. Blank cells become empty fields.
func (r *TableReader) ReadBytes(content []byte, ext string) ([]models.Record, error) {
	var rows [][]string
	var err error
	switch ext {
	case ".xlsx":
		rows, err = r.excelRows(content)
	case ".csv":
		rows, err = csvRows(content)
	default:
		return nil, apperrors.NewInvalidInputError("path", fmt.Sprintf("unsupported table format %q", ext))
	}
	if err != nil {
		return nil, err
	}
	return recordsFromRows(rows)
}

func (r *TableReader) excelRows(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheet := r.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("open Excel: no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func csvRows(content []byte) ([][]string, error) {
	cr := csv.NewReader(bytes.NewReader(content))
	cr.FieldsPerRecord = -1
	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func recordsFromRows(rows [][]string) ([]models.Record, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("table is empty")
	}
	cols := make(map[string]int)
	for i, name := range rows[0] {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, req := range models.RequiredColumns {
		if _, ok := cols[req]; !ok {
			return nil, fmt.Errorf("missing column %q", req)
		}
	}
	cell := func(row []string, name string) string {
		i := cols[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	recs := make([]models.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		recs = append(recs, models.Record{
			Sentence:      cell(row, models.ColSentence),
			Node1:         cell(row, models.ColNode1),
			Node2:         cell(row, models.ColNode2),
			FileName:      cell(row, models.ColFileName),
			HypothesisNum: cell(row, models.ColHypothesisNum),
		})
	}
	return recs, nil
}

// ReadAll reads and concatenates the records of every path in order.
func (r *TableReader) ReadAll(paths []string) ([]models.Record, error) {
	var all []models.Record
	for _, p := range paths {
		recs, err := r.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		all = append(all, recs...)
	}
	return all, nil
}
