package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"campus-utilities/internal/derive"
	"campus-utilities/internal/models"
	"campus-utilities/internal/repository"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

// header vocabularies, matched case-insensitively. Entries of two characters
// or fewer must be whole words, longer ones may be part of a word.
var (
	nameHeaders  = []string{"punto", "nombre", "name", "id", "medidor"}
	valueHeaders = []string{"lectura", "valor", "value", "m3", "reading"}
)

// headerScanRows bounds how far down a sheet the header row is searched for
const headerScanRows = 10

// ImportService parses spreadsheets into reading sets
type ImportService struct {
	readings *ReadingService
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// ImportResult is the outcome of parsing one file
type ImportResult struct {
	Format         string             `json:"format"`
	ReadingSet     *models.ReadingSet `json:"readings"`
	Matched        int                `json:"matched"`
	UnmatchedNames []string           `json:"unmatched_names"`
	InvalidRows    []string           `json:"invalid_rows,omitempty"`
	BlankRows      int                `json:"blank_rows"`
	DerivedRows    int                `json:"derived_rows"`
}

// ImportReport summarises a file import that was saved
type ImportReport struct {
	File     string                 `json:"file"`
	Period   string                 `json:"period"`
	Result   *ImportResult          `json:"result"`
	Save     *repository.SaveResult `json:"save"`
	Duration time.Duration          `json:"duration"`
}

// NewImportService creates a new import service
func NewImportService(readings *ReadingService, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ImportService {
	return &ImportService{
		readings: readings,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Parse reads an xlsx workbook or a CSV file and matches its rows against
// the catalog. The format is sniffed from the content, falling back to the
// file extension.
func (s *ImportService) Parse(ctx context.Context, cat *models.Catalog, periodKey, filename string, data []byte) (*ImportResult, error) {
	format := detectFormat(filename, data)

	var (
		rows [][]string
		err  error
	)
	switch format {
	case "xlsx":
		rows, err = readWorkbook(data)
	default:
		rows, err = readCSV(data)
	}
	if err != nil {
		s.metrics.RecordImportError("read_error")
		return nil, models.NewParseError(fmt.Sprintf("cannot read %s file: %v", format, err), nil)
	}

	result, err := MatchRows(cat, periodKey, rows)
	if err != nil {
		if _, ok := err.(*models.ParseError); ok {
			s.metrics.RecordImportError("parse_error")
		}
		return nil, err
	}
	result.Format = format

	s.metrics.RecordImportRows("matched", result.Matched)
	s.metrics.RecordImportRows("unmatched", len(result.UnmatchedNames))
	s.metrics.RecordImportRows("invalid", len(result.InvalidRows))

	s.logger.Info(ctx, "[IMPORT_PARSED] Import file parsed", logging.Fields{
		"catalog":   cat.ID,
		"period":    periodKey,
		"format":    format,
		"file":      filename,
		"matched":   result.Matched,
		"unmatched": len(result.UnmatchedNames),
		"invalid":   len(result.InvalidRows),
	})

	return result, nil
}

func detectFormat(filename string, data []byte) string {
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return "xlsx"
	}
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		return "xlsx"
	}
	return "csv"
}

func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	return f.GetRows(sheet)
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	firstLine := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		firstLine = data[:i]
	}
	if bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		r.Comma = ';'
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// MatchRows locates the name and value columns and matches each data row to
// a catalog point. Rows naming no point are reported in UnmatchedNames; rows
// naming a derived total are skipped and the totals recomputed. A missing
// column fails the whole parse, as does a file where no row matched.
func MatchRows(cat *models.Catalog, periodKey string, rows [][]string) (*ImportResult, error) {
	headerRow, nameCols, valueCol := locateHeader(rows)
	if headerRow < 0 {
		return nil, models.NewParseError(
			"could not find a name column (punto, nombre, name, id, medidor) and a value column (lectura, valor, value, m3, reading)",
			nil,
		)
	}

	result := &ImportResult{
		ReadingSet:     models.NewReadingSet(periodKey),
		UnmatchedNames: []string{},
	}
	candidates := cat.ReadablePoints()

	for _, row := range rows[headerRow+1:] {
		raw := cell(row, valueCol)

		var names []string
		for _, c := range nameCols {
			if n := strings.TrimSpace(cell(row, c)); n != "" {
				names = append(names, n)
			}
		}
		if len(names) == 0 {
			if strings.TrimSpace(raw) != "" {
				result.UnmatchedNames = append(result.UnmatchedNames, "(sin nombre)")
			}
			continue
		}

		point, ok := matchPoint(candidates, names)
		if !ok {
			result.UnmatchedNames = append(result.UnmatchedNames, names[0])
			continue
		}

		if point.IsDerived() {
			result.DerivedRows++
			continue
		}

		value, blank, err := models.ParseValue(point.ID, raw)
		if err != nil {
			result.InvalidRows = append(result.InvalidRows, fmt.Sprintf("%s: %v", names[0], err))
			continue
		}
		if blank {
			result.BlankRows++
			continue
		}

		if _, dup := result.ReadingSet.Get(point.ID); !dup {
			result.Matched++
		}
		_ = result.ReadingSet.Set(point.ID, value)
	}

	if result.Matched == 0 && len(result.UnmatchedNames) > 0 {
		return nil, models.NewParseError("no row matched a measurement point", result.UnmatchedNames)
	}

	derive.Totals(cat, result.ReadingSet)

	return result, nil
}

// locateHeader returns the header row index, every name-like column in
// order, and the first value-like column. The row index is -1 when no row
// has both.
func locateHeader(rows [][]string) (int, []int, int) {
	for i, row := range rows {
		if i >= headerScanRows {
			break
		}
		var nameCols []int
		valueCol := -1
		for c, h := range row {
			h = normalizeName(h)
			if h == "" {
				continue
			}
			switch {
			case containsAny(h, valueHeaders):
				if valueCol < 0 {
					valueCol = c
				}
			case containsAny(h, nameHeaders):
				nameCols = append(nameCols, c)
			}
		}
		if valueCol >= 0 && len(nameCols) > 0 {
			return i, nameCols, valueCol
		}
	}
	return -1, nil, -1
}

// matchPoint tries each name cell in column order: exact match on id or
// display name first, then the longest substring overlap.
func matchPoint(candidates []models.MeasurementPoint, names []string) (models.MeasurementPoint, bool) {
	for _, raw := range names {
		name := normalizeName(raw)
		for _, p := range candidates {
			if name == normalizeName(p.ID) || name == normalizeName(p.DisplayName) {
				return p, true
			}
		}
	}

	type hit struct {
		point models.MeasurementPoint
		score int
		order int
	}
	var hits []hit

	for _, raw := range names {
		name := normalizeName(raw)
		for i, p := range candidates {
			best := 0
			for _, key := range []string{normalizeName(p.ID), normalizeName(p.DisplayName)} {
				if key == "" {
					continue
				}
				switch {
				case containsWord(key, name):
					best = max(best, len(name))
				case containsWord(name, key):
					best = max(best, len(key))
				}
			}
			if best > 0 {
				hits = append(hits, hit{point: p, score: best, order: i})
			}
		}
		if len(hits) > 0 {
			break
		}
	}

	if len(hits) == 0 {
		return models.MeasurementPoint{}, false
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return hits[a].order < hits[b].order
	})
	return hits[0].point, true
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if len(w) <= 2 {
			if containsWord(s, w) {
				return true
			}
		} else if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// containsWord reports whether needle occurs in s without a letter or digit
// directly before or after it, so "pozo 1" is not found in "pozo 13".
func containsWord(s, needle string) bool {
	if needle == "" {
		return false
	}
	for from := 0; from <= len(s)-len(needle); {
		i := strings.Index(s[from:], needle)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(needle)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(s) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		from = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// ImportFile parses a file from disk and saves it into a period
func (s *ImportService) ImportFile(ctx context.Context, catalogID, periodKey, path, userID string) (*ImportReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	report, err := s.ImportData(ctx, catalogID, periodKey, filepath.Base(path), data, userID)
	if err != nil {
		return nil, err
	}
	report.File = path
	return report, nil
}

// ImportData parses an uploaded file and saves its values into a period.
// Values already stored for points the file does not mention are kept.
func (s *ImportService) ImportData(ctx context.Context, catalogID, periodKey, filename string, data []byte, userID string) (*ImportReport, error) {
	start := time.Now()

	cat, period, err := s.readings.periods.ParsePeriod(catalogID, periodKey)
	if err != nil {
		return nil, err
	}

	result, err := s.Parse(ctx, cat, period.Key(), filename, data)
	if err != nil {
		return nil, err
	}

	saved, err := s.readings.Save(ctx, cat.ID, period.Key(), result.ReadingSet, userID)
	if err != nil {
		return nil, err
	}

	return &ImportReport{
		File:     filename,
		Period:   period.Key(),
		Result:   result,
		Save:     saved,
		Duration: time.Since(start),
	}, nil
}

// ImportDirectory imports every .xlsx and .csv file of dir. Each file name
// (without extension) is the period key, e.g. "2025-W05.xlsx". Files that
// fail are reported and skipped.
func (s *ImportService) ImportDirectory(ctx context.Context, catalogID, dir, userID string) ([]*ImportReport, []string, error) {
	startTime := time.Now()

	var files []string
	for _, pattern := range []string{"*.xlsx", "*.csv"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read directory: %w", err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no import files found in %s", dir)
	}
	sort.Strings(files)

	s.logger.Info(ctx, "[IMPORT_START] Starting directory import", logging.Fields{
		"catalog":    catalogID,
		"dir":        dir,
		"file_count": len(files),
	})

	var (
		reports []*ImportReport
		errs    []string
	)
	for _, path := range files {
		key := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		report, err := s.ImportFile(ctx, catalogID, key, path, userID)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			s.logger.Error(ctx, "[IMPORT_FILE_ERROR] File import failed", logging.Fields{
				"file_path": path,
			}, err)
			continue
		}
		reports = append(reports, report)
	}

	s.logger.Info(ctx, "[IMPORT_COMPLETE] Directory import completed", logging.Fields{
		"imported":         len(reports),
		"failed":           len(errs),
		"duration_seconds": time.Since(startTime).Seconds(),
	})

	return reports, errs, nil
}
