package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-utilities/internal/diagnostics"
	"campus-utilities/internal/models"
	"campus-utilities/internal/services"
)

const testSecret = "test-secret"

type testServer struct {
	harness *diagnostics.Harness
	auth    *Authenticator
	handler *Handler
	router  *mux.Router
	token   string
}

func newTestServer(t *testing.T, autosaveDelay time.Duration) *testServer {
	t.Helper()
	h, err := diagnostics.New()
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	auth := NewAuthenticator(testSecret, h.Logger, h.Metrics)
	handler := NewHandler(Services{
		Periods:  h.Periods,
		Readings: h.Entry,
		Imports:  h.Imports,
		Summary:  h.Summary,
		Accounts: h.Accounts,
		Health:   h.Readings.HealthCheck,
	}, auth, autosaveDelay, h.Logger, h.Metrics)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	token, err := auth.Issue("u-1", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)

	return &testServer{harness: h, auth: auth, handler: handler, router: router, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(t *testing.T, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return s.do(t, method, path, body, "application/json")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, time.Hour)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	require.NoError(t, s.harness.Close())
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t, time.Hour)

	expired, err := s.auth.Issue("u-1", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
	require.NoError(t, err)
	otherKey, err := NewAuthenticator("other", s.harness.Logger, s.harness.Metrics).Issue("u-1", jwt.RegisteredClaims{})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "malformed", header: "Bearer abc", want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + otherKey, want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + s.token, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/catalogs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	subject, err := s.auth.Verify(s.token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", subject)
}

func TestAuthenticationDisabled(t *testing.T) {
	auth := NewAuthenticator("", nil, nil)
	assert.False(t, auth.Enabled())

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Empty(t, requestUser(r))
	})
	auth.Middleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/catalogs", nil))
	assert.True(t, called)
}

func TestCatalogs(t *testing.T) {
	s := newTestServer(t, time.Hour)

	rec := s.do(t, "GET", "/api/catalogs", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []CatalogSummary
	decode(t, rec, &list)
	ids := []string{}
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, "agua")
	assert.Contains(t, ids, "ptar")

	rec = s.do(t, "GET", "/api/catalogs/ptar", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_riego"`)

	rec = s.do(t, "GET", "/api/catalogs/luz", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWeeklyReadingsOverREST(t *testing.T) {
	s := newTestServer(t, time.Hour)

	rec := s.doJSON(t, "PUT", "/api/catalogs/agua/periods/2025-W05/readings", map[string]interface{}{
		"values": map[string]interface{}{"pozo_11": 120, "pozo_12": "120"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.doJSON(t, "PUT", "/api/catalogs/agua/periods/2025-W06/readings", map[string]interface{}{
		"values": map[string]interface{}{"pozo_11": "150", "pozo_12": 150, "pozo_1": nil},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		View *services.ComparisonView `json:"view"`
		Save struct {
			Created bool `json:"created"`
			Written int  `json:"written"`
		} `json:"save"`
	}
	decode(t, rec, &body)
	assert.True(t, body.Save.Created)
	assert.Equal(t, 2, body.Save.Written)

	rec = s.do(t, "GET", "/api/catalogs/agua/periods/2025-W06", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view services.ComparisonView
	decode(t, rec, &view)
	assert.Equal(t, "2025-W05", view.PreviousPeriod)
	for _, p := range view.Points {
		switch p.PointID {
		case "pozo_11":
			assert.Equal(t, 30.0, *p.Consumption)
		case "pozo_12":
			assert.Equal(t, 300.0, *p.Consumption)
		}
	}
	require.NotNil(t, view.TotalConsumption)
	assert.Equal(t, 330.0, *view.TotalConsumption)

	rec = s.do(t, "GET", "/api/catalogs/agua/summary?year=2025", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary services.Summary
	decode(t, rec, &summary)
	require.Len(t, summary.Periods, 2)
	assert.Equal(t, 330.0, *summary.Periods[1].Total)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, time.Hour)

	tests := []struct {
		name    string
		method  string
		path    string
		payload interface{}
		want    int
		field   string
	}{
		{name: "unknown catalog", method: "GET", path: "/api/catalogs/luz/periods/2025-W01", want: http.StatusNotFound},
		{name: "bad period key", method: "GET", path: "/api/catalogs/agua/periods/2025-03-01", want: http.StatusBadRequest},
		{
			name:    "derived total",
			method:  "PUT",
			path:    "/api/catalogs/ptar/periods/2025-03-01/readings",
			payload: map[string]interface{}{"values": map[string]interface{}{"total_riego": 9}},
			want:    http.StatusBadRequest,
			field:   "total_riego",
		},
		{
			name:    "negative value",
			method:  "PUT",
			path:    "/api/catalogs/agua/periods/2025-W05/readings",
			payload: map[string]interface{}{"values": map[string]interface{}{"pozo_1": -1}},
			want:    http.StatusBadRequest,
			field:   "pozo_1",
		},
		{
			name:    "boolean value",
			method:  "PUT",
			path:    "/api/catalogs/agua/periods/2025-W05/readings",
			payload: map[string]interface{}{"values": map[string]interface{}{"pozo_1": true}},
			want:    http.StatusBadRequest,
			field:   "pozo_1",
		},
		{
			name:    "empty values",
			method:  "PUT",
			path:    "/api/catalogs/agua/periods/2025-W05/readings",
			payload: map[string]interface{}{},
			want:    http.StatusBadRequest,
		},
		{name: "bad year", method: "GET", path: "/api/catalogs/agua/summary?year=abc", want: http.StatusBadRequest},
		{name: "bad period year", method: "GET", path: "/api/catalogs/agua/periods?year=1850", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.doJSON(t, tt.method, tt.path, tt.payload)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			var resp struct {
				Code    int               `json:"code"`
				Details map[string]string `json:"details"`
			}
			decode(t, rec, &resp)
			assert.Equal(t, tt.want, resp.Code)
			if tt.field != "" {
				assert.Equal(t, tt.field, resp.Details["field"])
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: &models.ValidationError{Field: "x"}, want: http.StatusBadRequest},
		{err: &models.NotFoundError{Resource: "catalog", ID: "luz"}, want: http.StatusNotFound},
		{err: models.NewParseError("no rows", []string{"a"}), want: http.StatusUnprocessableEntity},
		{err: &models.PersistenceError{Op: "save", Err: errors.New("down")}, want: http.StatusServiceUnavailable},
		{err: services.ErrNoPeriod, want: http.StatusConflict},
		{err: errNoSession, want: http.StatusUnauthorized},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got, _ := classify(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestImportAndExport(t *testing.T) {
	s := newTestServer(t, time.Hour)

	body, contentType := multipartUpload(t, "ptar.csv", []byte("Punto;Lectura\nInfluente;1234,5\nriego_1;10\nRiego Línea 2;0,25\n"))
	rec := s.do(t, "POST", "/api/catalogs/ptar/periods/2025-03-01/import", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report services.ImportReport
	decode(t, rec, &report)
	assert.Equal(t, 3, report.Result.Matched)
	assert.True(t, report.Save.Created)

	rec = s.do(t, "GET", "/api/catalogs/ptar/periods/2025-03-01/export.csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ptar_2025-03-01.csv")
	csv := rec.Body.String()
	assert.True(t, strings.HasPrefix(csv, "punto,nombre,lectura\n"))
	assert.Contains(t, csv, "entrada,Influente,1234.5\n")
	assert.Contains(t, csv, "total_riego,Total riego,10.25\n")

	body, contentType = multipartUpload(t, "otro.csv", []byte("name,value\nboiler,1\n"))
	rec = s.do(t, "POST", "/api/catalogs/ptar/periods/2025-03-02/import", body, contentType)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp struct {
		Details struct {
			UnmatchedCount int      `json:"unmatched_count"`
			Sample         []string `json:"sample"`
		} `json:"details"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Details.UnmatchedCount)
	assert.Equal(t, []string{"boiler"}, resp.Details.Sample)

	rec = s.do(t, "POST", "/api/catalogs/ptar/periods/2025-03-02/import", strings.NewReader("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadTemplate(t *testing.T) {
	s := newTestServer(t, time.Hour)

	rec := s.do(t, "GET", "/api/catalogs/gas/template.xlsx", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "gas_plantilla.xlsx")
}

func TestPeriods(t *testing.T) {
	s := newTestServer(t, time.Hour)

	rec := s.doJSON(t, "POST", "/api/catalogs/gas/periods", CreatePeriodRequest{Period: "2025-W10"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.doJSON(t, "POST", "/api/catalogs/gas/periods", CreatePeriodRequest{Period: "2025-W10"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.doJSON(t, "POST", "/api/catalogs/gas/periods", CreatePeriodRequest{Period: "2025-W99"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, "GET", "/api/catalogs/gas/periods?year=2025&limit=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data  []models.PeriodRecord `json:"data"`
		Limit int                   `json:"limit"`
	}
	decode(t, rec, &page)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "u-1", page.Data[0].CreatedBy)
	assert.Equal(t, 5, page.Limit)
}

func TestSessionAndContact(t *testing.T) {
	s := newTestServer(t, time.Hour)

	rec := s.doJSON(t, "POST", "/api/session", LoginRequest{DisplayName: "Ana"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, "POST", "/api/session", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, "GET", "/api/me", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var session services.Session
	decode(t, rec, &session)
	assert.Equal(t, models.RoleUser, session.Profile.Role)
	assert.Equal(t, "Ana", session.Profile.DisplayName)
	assert.NotContains(t, session.Sections, models.SectionEntry)

	rec = s.do(t, "GET", "/api/users", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// the contact form is public
	req := httptest.NewRequest("POST", "/api/contact", strings.NewReader(`{"name":"Luis","email":"luis@example.com","message":"Fuga en pozo 3"}`))
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	req = httptest.NewRequest("POST", "/api/contact", strings.NewReader(`{"name":"Luis","email":"nope","message":"x"}`))
	resp = httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	rec = s.do(t, "GET", "/api/contact", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var messages struct {
		Data []models.ContactMessage `json:"data"`
	}
	decode(t, rec, &messages)
	require.Len(t, messages.Data, 1)
	assert.Equal(t, "Fuga en pozo 3", messages.Data[0].Body)

	req = httptest.NewRequest("GET", "/api/contact", nil)
	resp = httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code, "listing messages requires a session")
}

func TestDocs(t *testing.T) {
	s := newTestServer(t, time.Hour)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/docs/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var spec map[string]interface{}
	decode(t, rec, &spec)
	paths := spec["paths"].(map[string]interface{})
	assert.Contains(t, paths, "/api/catalogs/{catalog}/periods/{period}/readings")
	assert.Contains(t, paths, "/ws/editor")

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/docs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "swagger-ui")
}

func TestRawValues(t *testing.T) {
	edits, err := rawValues(map[string]json.RawMessage{
		"a": json.RawMessage(`12.5`),
		"b": json.RawMessage(`"7,25"`),
		"c": json.RawMessage(`null`),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "12.5", "b": "7,25", "c": ""}, edits)

	_, err = rawValues(map[string]json.RawMessage{"a": json.RawMessage(`[1]`)})
	assert.True(t, models.IsValidation(err))
}
