package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sessiond/internal/audit"
	"sessiond/internal/auth"
	"sessiond/internal/config"
	"sessiond/internal/models"
	"sessiond/internal/session"
	"sessiond/internal/storage"
)

type testServer struct {
	router    *gin.Engine
	db        *sql.DB
	authCalls *atomic.Int64
	accessLog *bytes.Buffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		BasicConfig: config.BasicConfig{AuthServiceURL: "unused"},
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	seed := []string{
		`INSERT INTO practitioners (id, name) VALUES (7, 'Dr. Alves'), (9, 'Dr. Costa')`,
		`INSERT INTO patients (id, name) VALUES (5, 'Maria'), (6, 'Joao')`,
	}
	for _, stmt := range seed {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	// Fake identity service: token-<id> resolves to practitioner <id>.
	var authCalls atomic.Int64
	identity := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCalls.Add(1)
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		var id int64
		if _, err := fmt.Sscanf(token, "token-%d", &id); err != nil || id <= 0 {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"invalid token"}`))
			return
		}
		fmt.Fprintf(w, `{"user":{"id":%d}}`, id)
	}))
	t.Cleanup(identity.Close)

	accessBuf := &bytes.Buffer{}
	verifier := auth.NewVerifier(identity.URL, zerolog.Nop())
	access := audit.NewLogger(zerolog.New(accessBuf))
	handler := NewHandler(session.NewRepository(db), zerolog.Nop())

	router := gin.New()
	handler.RegisterRoutes(router, verifier, access)

	return &testServer{
		router:    router,
		db:        db,
		authCalls: &authCalls,
		accessLog: accessBuf,
	}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d (want %d), body: %s", rec.Code, want, rec.Body.String())
	}
}

func bearerFor(id int64) map[string]string {
	return map[string]string{"Authorization": fmt.Sprintf("Bearer token-%d", id)}
}

func TestStatusProbeRequiresNoAuth(t *testing.T) {
	ts := newTestServer(t)
	defer ts.db.Close()

	rec := doJSONRequest(t, ts.router, http.MethodGet, "/api/status", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Status string `json:"status"`
		Module string `json:"module"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Status != "online" || body.Module != "session" {
		t.Fatalf("unexpected status payload: %s", rec.Body.String())
	}
	if ts.authCalls.Load() != 0 {
		t.Fatalf("status probe must not contact the identity service")
	}
}

func TestMissingBearerRejectedWithoutUpstreamOrStore(t *testing.T) {
	ts := newTestServer(t)
	defer ts.db.Close()

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/sessions"},
		{http.MethodGet, "/api/sessions"},
		{http.MethodGet, "/api/sessions/patient/5"},
		{http.MethodGet, "/api/sessions/1"},
		{http.MethodPut, "/api/sessions/1"},
		{http.MethodDelete, "/api/sessions/1"},
		{http.MethodPost, "/api/sessions/1/progress-note"},
	} {
		rec := doJSONRequest(t, ts.router, route.method, route.path, nil, nil)
		assertStatus(t, rec, http.StatusUnauthorized)
	}
	if ts.authCalls.Load() != 0 {
		t.Fatalf("identity service contacted %d times without a bearer", ts.authCalls.Load())
	}
}

func TestUpstreamVerdictPropagated(t *testing.T) {
	ts := newTestServer(t)
	defer ts.db.Close()

	rec := doJSONRequest(t, ts.router, http.MethodGet, "/api/sessions", nil,
		map[string]string{"Authorization": "Bearer bogus"})
	assertStatus(t, rec, http.StatusUnauthorized)
	if !strings.Contains(rec.Body.String(), "invalid token") {
		t.Fatalf("upstream message not propagated: %s", rec.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	defer ts.db.Close()

	// Create as practitioner 7.
	createResp := doJSONRequest(t, ts.router, http.MethodPost, "/api/sessions", map[string]any{
		"patient_id":   5,
		"session_date": "2024-03-01",
		"start_time":   "10:00",
		"session_type": "Therapy",
	}, bearerFor(7))
	assertStatus(t, createResp, http.StatusCreated)
	var createBody struct {
		Session models.Session `json:"session"`
	}
	decodeJSON(t, createResp.Body.Bytes(), &createBody)
	if createBody.Session.ID <= 0 {
		t.Fatalf("expected assigned session id")
	}
	if createBody.Session.PractitionerID != 7 {
		t.Fatalf("practitioner_id not taken from principal: %d", createBody.Session.PractitionerID)
	}
	id := createBody.Session.ID

	// Practitioner 9 cannot see it.
	foreignResp := doJSONRequest(t, ts.router, http.MethodGet, fmt.Sprintf("/api/sessions/%d", id), nil, bearerFor(9))
	assertStatus(t, foreignResp, http.StatusNotFound)

	// The owner can.
	ownResp := doJSONRequest(t, ts.router, http.MethodGet, fmt.Sprintf("/api/sessions/%d", id), nil, bearerFor(7))
	assertStatus(t, ownResp, http.StatusOK)
	var fetched models.Session
	decodeJSON(t, ownResp.Body.Bytes(), &fetched)
	if fetched.SessionDate != "2024-03-01" || fetched.StartTime != "10:00" || fetched.SessionType != "Therapy" {
		t.Fatalf("fetched session mismatch: %+v", fetched)
	}
	if fetched.PatientName != "Maria" {
		t.Fatalf("expected joined patient name, got %q", fetched.PatientName)
	}

	// Sparse update.
	updateResp := doJSONRequest(t, ts.router, http.MethodPut, fmt.Sprintf("/api/sessions/%d", id), map[string]any{
		"summary": "went well",
	}, bearerFor(7))
	assertStatus(t, updateResp, http.StatusOK)
	var updateBody struct {
		Session models.Session `json:"session"`
	}
	decodeJSON(t, updateResp.Body.Bytes(), &updateBody)
	if updateBody.Session.Summary == nil || *updateBody.Session.Summary != "went well" {
		t.Fatalf("summary not updated: %s", updateResp.Body.String())
	}
	if updateBody.Session.SessionDate != "2024-03-01" {
		t.Fatalf("sparse update touched session_date: %s", updateResp.Body.String())
	}

	// Progress note.
	noteResp := doJSONRequest(t, ts.router, http.MethodPost, fmt.Sprintf("/api/sessions/%d/progress-note", id), map[string]any{
		"progress_note": "responding to treatment",
	}, bearerFor(7))
	assertStatus(t, noteResp, http.StatusOK)

	// Foreign practitioner cannot mutate.
	foreignUpdate := doJSONRequest(t, ts.router, http.MethodPut, fmt.Sprintf("/api/sessions/%d", id), map[string]any{
		"summary": "hijacked",
	}, bearerFor(9))
	assertStatus(t, foreignUpdate, http.StatusNotFound)
	foreignDelete := doJSONRequest(t, ts.router, http.MethodDelete, fmt.Sprintf("/api/sessions/%d", id), nil, bearerFor(9))
	assertStatus(t, foreignDelete, http.StatusNotFound)

	// Delete, then the row is gone.
	deleteResp := doJSONRequest(t, ts.router, http.MethodDelete, fmt.Sprintf("/api/sessions/%d", id), nil, bearerFor(7))
	assertStatus(t, deleteResp, http.StatusOK)
	goneResp := doJSONRequest(t, ts.router, http.MethodGet, fmt.Sprintf("/api/sessions/%d", id), nil, bearerFor(7))
	assertStatus(t, goneResp, http.StatusNotFound)
}

func TestCreateSessionValidation(t *testing.T) {
	ts := newTestServer(t)
	defer ts.db.Close()

	for name, body := range map[string]map[string]any{
		"missing patient_id":   {"session_date": "2024-03-01", "start_time": "10:00", "session_type": "Therapy"},
		"missing session_date": {"patient_id": 5, "start_time": "10:00", "session_type": "Therapy"},
		"missing start_time":   {"patient_id": 5, "session_date": "2024-03-01", "session_type": "Therapy"},
		"missing session_type": {"patient_id": 5, "session_date": "2024-03-01", "start_time": "10:00"},
	} {
		rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/sessions", body, bearerFor(7))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", name, rec.Code, rec.Body.String())
		}
	}
}

func TestProgressNoteRequiresBody(t *testing.T) {
	ts := newTestServer(t)
	defer ts.db.Close()

	createResp := doJSONRequest(t, ts.router, http.MethodPost, "/api/sessions", map[string]any{
		"patient_id":   5,
		"session_date": "2024-03-01",
		"start_time":   "10:00",
		"session_type": "Therapy",
	}, bearerFor(7))
	assertStatus(t, createResp, http.StatusCreated)
	var createBody struct {
		Session models.Session `json:"session"`
	}
	decodeJSON(t, createResp.Body.Bytes(), &createBody)

	rec := doJSONRequest(t, ts.router, http.MethodPost,
		fmt.Sprintf("/api/sessions/%d/progress-note", createBody.Session.ID),
		map[string]any{}, bearerFor(7))
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestListPaginationAndFilters(t *testing.T) {
	ts := newTestServer(t)
	defer ts.db.Close()

	create := func(patientID int, date string) {
		rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/sessions", map[string]any{
			"patient_id":   patientID,
			"session_date": date,
			"start_time":   "10:00",
			"session_type": "Therapy",
		}, bearerFor(7))
		assertStatus(t, rec, http.StatusCreated)
	}
	create(5, "2024-03-01")
	create(5, "2024-03-10")
	create(5, "2024-04-02")
	create(6, "2024-03-05")

	// One session owned by practitioner 9 must never show up.
	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/sessions", map[string]any{
		"patient_id":   5,
		"session_date": "2024-03-15",
		"start_time":   "10:00",
		"session_type": "Therapy",
	}, bearerFor(9))
	assertStatus(t, rec, http.StatusCreated)

	listResp := doJSONRequest(t, ts.router, http.MethodGet, "/api/sessions?page=1&limit=2", nil, bearerFor(7))
	assertStatus(t, listResp, http.StatusOK)
	var page models.SessionPage
	decodeJSON(t, listResp.Body.Bytes(), &page)
	if len(page.Data) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page.Data))
	}
	if page.Pagination.Total != 4 || page.Pagination.TotalPages != 2 {
		t.Fatalf("unexpected pagination: %+v", page.Pagination)
	}

	filtered := doJSONRequest(t, ts.router, http.MethodGet,
		"/api/sessions?patient_id=5&date_from=2024-03-01&date_to=2024-03-31", nil, bearerFor(7))
	assertStatus(t, filtered, http.StatusOK)
	decodeJSON(t, filtered.Body.Bytes(), &page)
	if page.Pagination.Total != 2 {
		t.Fatalf("expected 2 filtered rows, got %d", page.Pagination.Total)
	}
	for _, s := range page.Data {
		if s.PatientID != 5 || s.PractitionerID != 7 {
			t.Fatalf("filter leaked row: %+v", s)
		}
	}

	badLimit := doJSONRequest(t, ts.router, http.MethodGet, "/api/sessions?limit=abc", nil, bearerFor(7))
	assertStatus(t, badLimit, http.StatusBadRequest)

	byPatient := doJSONRequest(t, ts.router, http.MethodGet, "/api/sessions/patient/5", nil, bearerFor(7))
	assertStatus(t, byPatient, http.StatusOK)
	var sessions []models.Session
	decodeJSON(t, byPatient.Body.Bytes(), &sessions)
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions for patient 5, got %d", len(sessions))
	}
	if sessions[0].SessionDate != "2024-04-02" {
		t.Fatalf("expected newest first, got %s", sessions[0].SessionDate)
	}
}

func TestAccessLogRecordsActions(t *testing.T) {
	ts := newTestServer(t)
	defer ts.db.Close()

	rec := doJSONRequest(t, ts.router, http.MethodGet, "/api/sessions", nil, bearerFor(7))
	assertStatus(t, rec, http.StatusOK)

	entry := ts.accessLog.String()
	if !strings.Contains(entry, `"action":"list_sessions"`) {
		t.Fatalf("access log missing action: %s", entry)
	}
	if !strings.Contains(entry, `"actor_id":7`) {
		t.Fatalf("access log missing actor: %s", entry)
	}
}
