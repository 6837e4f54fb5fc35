package services

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"campus-utilities/internal/models"
)

const templateSheet = "Lecturas"

// WriteCSV writes one row per readable point: id, display name and value.
// Absent values are written as empty cells.
func WriteCSV(w io.Writer, cat *models.Catalog, rs *models.ReadingSet) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"punto", "nombre", "lectura"}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, p := range cat.ReadablePoints() {
		value := ""
		if v, ok := rs.Get(p.ID); ok {
			value = models.FormatValue(v)
		}
		if err := cw.Write([]string{p.ID, p.DisplayName, value}); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// BuildTemplate returns an xlsx workbook listing the entry points of a
// catalog with an empty value column, ready to be filled and imported.
func BuildTemplate(cat *models.Catalog) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := []interface{}{"Punto", "ID", "Lectura"}
	if err := f.SetSheetRow(templateSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}
	if err := f.SetCellStyle(templateSheet, "A1", "C1", bold); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, p := range cat.EntryPoints() {
		row := []interface{}{p.DisplayName, p.ID, ""}
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(templateSheet, axis, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(templateSheet, "A", "A", 32); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(templateSheet, "B", "C", 16); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
