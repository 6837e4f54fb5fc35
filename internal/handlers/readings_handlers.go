package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"campus-utilities/internal/models"
	"campus-utilities/internal/services"
	"campus-utilities/pkg/logging"
)

// maxUploadBytes bounds multipart import uploads
const maxUploadBytes = 10 << 20

// CatalogSummary is the list form of a catalog
type CatalogSummary struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Granularity models.Granularity `json:"granularity"`
	EntryPoints int                `json:"entry_points"`
}

// UpdateReadingsRequest carries raw values keyed by point id. Values may be
// JSON numbers or strings such as "120,5".
type UpdateReadingsRequest struct {
	Values map[string]json.RawMessage `json:"values"`
}

// CreatePeriodRequest names the period to create
type CreatePeriodRequest struct {
	Period string `json:"period"`
}

// ListCatalogs handles GET /api/catalogs
func (h *Handler) ListCatalogs(w http.ResponseWriter, r *http.Request) {
	catalogs := h.periods.Catalogs().List()
	out := make([]CatalogSummary, 0, len(catalogs))
	for _, c := range catalogs {
		out = append(out, CatalogSummary{
			ID:          c.ID,
			Name:        c.Name,
			Granularity: c.Granularity,
			EntryPoints: len(c.EntryPoints()),
		})
	}
	h.respond(w, r, out, http.StatusOK)
}

// GetCatalog handles GET /api/catalogs/{catalog}
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := h.periods.Catalogs().Get(mux.Vars(r)["catalog"])
	if err != nil {
		h.sendServiceError(w, r, "get catalog", err)
		return
	}
	h.respond(w, r, cat, http.StatusOK)
}

// ListPeriods handles GET /api/catalogs/{catalog}/periods
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, limit, offset := pagination(r)

	var year *int
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil || y < 2000 || y > 2100 {
			h.sendError(w, r, "invalid year, expected integer between 2000 and 2100", http.StatusBadRequest)
			return
		}
		year = &y
	}

	periods, err := h.periods.ListPeriods(ctx, mux.Vars(r)["catalog"], year, limit, offset)
	if err != nil {
		h.sendServiceError(w, r, "list periods", err)
		return
	}

	h.respond(w, r, PaginatedResponse{Data: periods, Page: page, Limit: limit}, http.StatusOK)
}

// CreatePeriod handles POST /api/catalogs/{catalog}/periods
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, created, err := h.periods.CreatePeriod(ctx, mux.Vars(r)["catalog"], req.Period, requestUser(r))
	if err != nil {
		h.sendServiceError(w, r, "create period", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.respond(w, r, rec, status)
}

// GetPeriod handles GET /api/catalogs/{catalog}/periods/{period}
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	res, err := h.periods.Resolve(r.Context(), vars["catalog"], vars["period"])
	if err != nil {
		h.sendServiceError(w, r, "load period", err)
		return
	}

	view := services.BuildComparison(res.Catalog, res.Period, res.Exists, res.Current, res.Previous)
	h.respond(w, r, view, http.StatusOK)
}

// UpdateReadings handles PUT /api/catalogs/{catalog}/periods/{period}/readings
func (h *Handler) UpdateReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	var req UpdateReadingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Values) == 0 {
		h.sendError(w, r, "values is required", http.StatusBadRequest)
		return
	}

	edits, err := rawValues(req.Values)
	if err != nil {
		h.sendServiceError(w, r, "update readings", err)
		return
	}

	view, result, err := h.readings.Update(ctx, vars["catalog"], vars["period"], edits, requestUser(r))
	if err != nil {
		h.sendServiceError(w, r, "update readings", err)
		return
	}

	h.logger.Info(ctx, "[API_READINGS_UPDATED] Readings updated", logging.Fields{
		"catalog": vars["catalog"],
		"period":  vars["period"],
		"written": result.Written,
	})

	h.respond(w, r, map[string]interface{}{
		"view": view,
		"save": result,
	}, http.StatusOK)
}

// ImportReadings handles POST /api/catalogs/{catalog}/periods/{period}/import
func (h *Handler) ImportReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.sendError(w, r, "invalid upload, expected multipart form with a file field", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.sendError(w, r, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, r, "failed to read upload", http.StatusBadRequest)
		return
	}

	report, err := h.imports.ImportData(ctx, vars["catalog"], vars["period"], header.Filename, data, requestUser(r))
	if err != nil {
		h.metrics.RecordAPIError("import_failed", endpoint(r))
		h.sendServiceError(w, r, "import readings", err)
		return
	}

	h.respond(w, r, report, http.StatusOK)
}

// ExportCSV handles GET /api/catalogs/{catalog}/periods/{period}/export.csv
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	res, err := h.periods.Resolve(r.Context(), vars["catalog"], vars["period"])
	if err != nil {
		h.sendServiceError(w, r, "export readings", err)
		return
	}

	var buf bytes.Buffer
	if err := services.WriteCSV(&buf, res.Catalog, res.Current); err != nil {
		h.sendServiceError(w, r, "export readings", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint(r), r.Method, "200")
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Dataset+"_"+res.Period.Key()+".csv"))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// DownloadTemplate handles GET /api/catalogs/{catalog}/template.xlsx
func (h *Handler) DownloadTemplate(w http.ResponseWriter, r *http.Request) {
	cat, err := h.periods.Catalogs().Get(mux.Vars(r)["catalog"])
	if err != nil {
		h.sendServiceError(w, r, "build template", err)
		return
	}

	data, err := services.BuildTemplate(cat)
	if err != nil {
		h.sendServiceError(w, r, "build template", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint(r), r.Method, "200")
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cat.ID+"_plantilla.xlsx"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetSummary handles GET /api/catalogs/{catalog}/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	year := h.now().Year()
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil || y < 2000 || y > 2100 {
			h.sendError(w, r, "invalid year, expected integer between 2000 and 2100", http.StatusBadRequest)
			return
		}
		year = y
	}

	summary, err := h.summary.Summarize(r.Context(), mux.Vars(r)["catalog"], year)
	if err != nil {
		h.sendServiceError(w, r, "summarize", err)
		return
	}

	h.respond(w, r, summary, http.StatusOK)
}

// rawValues converts JSON numbers, strings and nulls into raw edit strings
func rawValues(values map[string]json.RawMessage) (map[string]string, error) {
	edits := make(map[string]string, len(values))
	for id, raw := range values {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, &models.ValidationError{Field: id, Message: "value is not valid JSON"}
		}
		switch t := v.(type) {
		case nil:
			edits[id] = ""
		case string:
			edits[id] = t
		case float64:
			edits[id] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			return nil, &models.ValidationError{Field: id, Message: "value must be a number or a string"}
		}
	}
	return edits, nil
}
