package source

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	apperrors "github.com/hyperjump/causa/internal/errors"
	"github.com/hyperjump/causa/internal/models"
)

func buildXLSX(t *testing.T, sheet string, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if sheet != "Sheet1" {
		if _, err := f.NewSheet(sheet); err != nil {
			t.Fatal(err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadBytes_xlsx(t *testing.T) {
	content := buildXLSX(t, "Sheet1", [][]any{
		{"Sentence", "Node_1", "Node_2", "File_Name", "Hypothesis_Num"},
		{"Trust increases loyalty.", "trust", "loyalty", "paper1.pdf", 1},
		{"", "price", "demand", "paper2.pdf", 2},
	})
	got, err := NewTableReader("").ReadBytes(content, ".xlsx")
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	want := []models.Record{
		{Sentence: "Trust increases loyalty.", Node1: "trust", Node2: "loyalty", FileName: "paper1.pdf", HypothesisNum: "1"},
		{Sentence: "", Node1: "price", Node2: "demand", FileName: "paper2.pdf", HypothesisNum: "2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBytes_xlsxNamedSheet(t *testing.T) {
	content := buildXLSX(t, "Hypotheses", [][]any{
		{"hypothesis_num", "file_name", "node_2", "node_1", "sentence"},
		{"3", "p.pdf", "b", "a", "a causes b"},
	})
	got, err := NewTableReader("Hypotheses").ReadBytes(content, ".xlsx")
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if len(got) != 1 || got[0].Node1 != "a" || got[0].Node2 != "b" || got[0].HypothesisNum != "3" {
		t.Errorf("got %+v", got)
	}

	if _, err := NewTableReader("Missing").ReadBytes(content, ".xlsx"); err == nil {
		t.Error("expected error for missing sheet")
	}
}

func TestReadBytes_csv(t *testing.T) {
	content := "\ufeffsentence,node_1,node_2,file_name,hypothesis_num,extra\n" +
		"\"Price, not quality, drives demand.\",price,demand,p.pdf,1,x\n" +
		"short row,a\n"
	got, err := NewTableReader("").ReadBytes([]byte(content), ".csv")
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	want := []models.Record{
		{Sentence: "Price, not quality, drives demand.", Node1: "price", Node2: "demand", FileName: "p.pdf", HypothesisNum: "1"},
		{Sentence: "short row", Node1: "a"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if got[1].Complete() {
		t.Error("short row should be incomplete")
	}
}

func TestReadBytes_errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
		want    string
	}{
		{"missing column", "sentence,node_1,node_2,file_name\na,b,c,d\n", ".csv", `missing column "hypothesis_num"`},
		{"empty", "", ".csv", "table is empty"},
		{"unsupported", "x", ".json", "unsupported table format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTableReader("").ReadBytes([]byte(tt.content), tt.ext)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}

	_, err := NewTableReader("").ReadBytes([]byte("x"), ".json")
	if !apperrors.IsInvalidInput(err) {
		t.Errorf("unsupported format should be invalid input, got %v", err)
	}
}

func TestReadAll(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.xlsx")
	header := "sentence,node_1,node_2,file_name,hypothesis_num\n"
	if err := os.WriteFile(a, []byte(header+"s1,x,y,f,1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	xlsx := buildXLSX(t, "Sheet1", [][]any{
		{"sentence", "node_1", "node_2", "file_name", "hypothesis_num"},
		{"s2", "x", "y", "f", "2"},
	})
	if err := os.WriteFile(b, xlsx, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := NewTableReader("").ReadAll([]string{a, b})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 || got[0].Sentence != "s1" || got[1].Sentence != "s2" {
		t.Errorf("got %+v", got)
	}

	if _, err := NewTableReader("").ReadAll([]string{filepath.Join(dir, "missing.csv")}); err == nil {
		t.Error("expected error for missing file")
	}
}
