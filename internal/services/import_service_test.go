package services

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"campus-utilities/internal/catalog"
	"campus-utilities/internal/models"
)

func TestMatchRows(t *testing.T) {
	agua, err := catalog.MustDefault().Get("agua")
	require.NoError(t, err)

	tests := []struct {
		name          string
		rows          [][]string
		wantErr       bool
		wantValues    map[string]float64
		wantUnmatched []string
		checkValues   func(*testing.T, *ImportResult)
	}{
		{
			name: "exact id and display name substring",
			rows: [][]string{
				{"Medidor", "Lectura (m3)"},
				{"POZO_11", "120"},
				{"comedor central", "45,5"},
				{"Caldera norte", "9"},
			},
			wantValues:    map[string]float64{"pozo_11": 120, "comedor": 45.5},
			wantUnmatched: []string{"Caldera norte"},
		},
		{
			name: "longest overlap wins",
			rows: [][]string{
				{"Nombre", "Valor"},
				{"Pozo 12", "30"},
				{"Pozo 1", "10"},
			},
			wantValues: map[string]float64{"pozo_12": 30, "pozo_1": 10},
		},
		{
			name: "header below a title row and extra columns",
			rows: [][]string{
				{"Reporte semanal"},
				{},
				{"Fecha", "Punto", "ID", "Lectura"},
				{"2025-01-27", "Pozo 3", "", "7"},
				{"2025-01-27", "", "pozo_4", "8"},
			},
			wantValues: map[string]float64{"pozo_3": 7, "pozo_4": 8},
		},
		{
			name: "blank and invalid values",
			rows: [][]string{
				{"punto", "lectura"},
				{"pozo_1", ""},
				{"pozo_3", "n/a"},
				{"pozo_4", "-2"},
				{"pozo_7", "1"},
			},
			wantValues: map[string]float64{"pozo_7": 1},
			checkValues: func(t *testing.T, r *ImportResult) {
				assert.Equal(t, 1, r.BlankRows)
				assert.Len(t, r.InvalidRows, 2)
				assert.Equal(t, 1, r.Matched)
			},
		},
		{
			name: "similar meter numbers do not match",
			rows: [][]string{
				{"Punto", "Lectura"},
				{"Pozo 11", "120"},
				{"Pozo 13", "999"},
				{"Pozo 1A", "5"},
				{"Pozo 11 norte", "7"},
			},
			wantValues:    map[string]float64{"pozo_11": 7},
			wantUnmatched: []string{"Pozo 13", "Pozo 1A"},
		},
		{
			name:    "unidad is not an id column",
			rows:    [][]string{{"Unidad", "Lectura"}, {"pozo_1", "5"}},
			wantErr: true,
		},
		{
			name:    "missing value column",
			rows:    [][]string{{"punto", "fecha"}, {"pozo_1", "2025-01-01"}},
			wantErr: true,
		},
		{
			name:    "missing name column",
			rows:    [][]string{{"lectura"}, {"12"}},
			wantErr: true,
		},
		{
			name: "nothing matched",
			rows: [][]string{
				{"name", "reading"},
				{"boiler", "1"},
				{"chiller", "2"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MatchRows(agua, "2025-W05", tt.rows)
			if tt.wantErr {
				require.Error(t, err)
				var perr *models.ParseError
				assert.True(t, errors.As(err, &perr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValues, result.ReadingSet.Values())
			assert.Equal(t, "2025-W05", result.ReadingSet.PeriodKey)
			if tt.wantUnmatched != nil {
				assert.Equal(t, tt.wantUnmatched, result.UnmatchedNames)
			}
			if tt.checkValues != nil {
				tt.checkValues(t, result)
			}
		})
	}
}

func TestMatchRows_NothingMatchedReportsSample(t *testing.T) {
	agua, _ := catalog.MustDefault().Get("agua")

	_, err := MatchRows(agua, "2025-W05", [][]string{
		{"name", "value"},
		{"qq1", "1"}, {"qq2", "1"}, {"qq3", "1"}, {"qq4", "1"}, {"qq5", "1"}, {"qq6", "1"},
	})

	var perr *models.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 6, perr.UnmatchedCount)
	assert.Equal(t, []string{"qq1", "qq2", "qq3", "qq4", "qq5"}, perr.Sample)
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		s, needle string
		want      bool
	}{
		{"pozo 13", "pozo 1", false},
		{"pozo 1", "pozo 1", true},
		{"pozo 12 (medidor x10)", "pozo 12", true},
		{"medidor comedor central", "comedor central", true},
		{"unidad", "id", false},
		{"id punto", "id", true},
		{"pozo 1 pozo 11", "pozo 11", true},
		{"pozo 11 y pozo 1", "pozo 1", true},
		{"", "id", false},
	}

	for _, tt := range tests {
		t.Run(tt.s+"/"+tt.needle, func(t *testing.T) {
			assert.Equal(t, tt.want, containsWord(tt.s, tt.needle))
		})
	}
}

func TestCSVRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ptar, _ := catalog.MustDefault().Get("ptar")

	original := models.NewReadingSet("2025-03-01")
	require.NoError(t, original.Set("entrada", 1234.5))
	require.NoError(t, original.Set("riego_1", 10))
	require.NoError(t, original.Set("riego_2", 0.25))
	_, err := ApplyEdits(ptar, original, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, ptar, original))
	assert.Contains(t, buf.String(), "punto,nombre,lectura\n")
	assert.Contains(t, buf.String(), "entrada,Influente,1234.5\n")

	result, err := env.imports.Parse(context.Background(), ptar, "2025-03-01", "export.csv", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "csv", result.Format)
	assert.Equal(t, original.Values(), result.ReadingSet.Values())
	assert.Empty(t, result.UnmatchedNames)
	assert.Equal(t, 1, result.DerivedRows)
}

func TestImport_SemicolonCSVWithBOM(t *testing.T) {
	env := newTestEnv(t)
	gas, _ := catalog.MustDefault().Get("gas")

	data := []byte("\xef\xbb\xbfNombre;Lectura\nAlberca;12,5\nComedor Central;3\n")
	result, err := env.imports.Parse(context.Background(), gas, "2025-W05", "gas.csv", data)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"gas_alberca": 12.5, "gas_comedor": 3}, result.ReadingSet.Values())
}

func TestImport_WorkbookFromTemplate(t *testing.T) {
	env := newTestEnv(t)
	agua, _ := catalog.MustDefault().Get("agua")

	tmpl, err := BuildTemplate(agua)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(tmpl))
	require.NoError(t, err)
	rows, err := f.GetRows(templateSheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Punto", "ID", "Lectura"}, rows[0])
	assert.Len(t, rows, len(agua.EntryPoints())+1)

	// fill two readings the way a user would
	require.NoError(t, f.SetCellValue(templateSheet, "C2", 120))
	require.NoError(t, f.SetCellValue(templateSheet, "C3", "35,25"))
	filled, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	result, err := env.imports.Parse(context.Background(), agua, "2025-W05", "upload.bin", filled.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "xlsx", result.Format)

	entry := agua.EntryPoints()
	assert.Equal(t, map[string]float64{entry[0].ID: 120, entry[1].ID: 35.25}, result.ReadingSet.Values())
	assert.Equal(t, len(entry)-2, result.BlankRows)
}

func TestImport_UnreadableWorkbook(t *testing.T) {
	env := newTestEnv(t)
	agua, _ := catalog.MustDefault().Get("agua")

	_, err := env.imports.Parse(context.Background(), agua, "2025-W05", "broken.xlsx", []byte("PK\x03\x04garbage"))
	var perr *models.ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestImportDirectory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025-W05.csv"), []byte("punto,lectura\npozo_11,120\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025-W06.csv"), []byte("punto,lectura\npozo_11,150\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "semana.csv"), []byte("punto,lectura\npozo_11,1\n"), 0o644))

	reports, errs, err := env.imports.ImportDirectory(ctx, "agua", dir, "importer")
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.Len(t, errs, 1, "file name that is not a period key")

	res, err := env.periods.Resolve(ctx, "agua", "2025-W06")
	require.NoError(t, err)
	assert.Equal(t, ptr(150), res.Current.Value("pozo_11"))
	require.NotNil(t, res.Previous)
	assert.Equal(t, ptr(120), res.Previous.Value("pozo_11"))

	_, _, err = env.imports.ImportDirectory(ctx, "agua", t.TempDir(), "importer")
	assert.Error(t, err)
}
