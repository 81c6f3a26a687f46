package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fidde/herd_weight_dashboard/internal/query"
	"github.com/fidde/herd_weight_dashboard/internal/records"
	"github.com/fidde/herd_weight_dashboard/internal/storage/memory"
	"github.com/fidde/herd_weight_dashboard/internal/suggest"
	"github.com/fidde/herd_weight_dashboard/internal/users"
	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

type testEnv struct {
	server  *Server
	records *records.Store
	users   *users.Store
}

func newTestEnv(t *testing.T, client *suggest.Client) *testEnv {
	t.Helper()
	ctx := context.Background()

	recs, err := records.Open(ctx, memory.New(), nil)
	if err != nil {
		t.Fatalf("records.Open failed: %v", err)
	}
	t.Cleanup(func() { recs.Close() })

	us, err := users.Open(ctx, memory.New(), nil, users.WithHashCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("users.Open failed: %v", err)
	}
	t.Cleanup(func() { us.Close() })

	if _, err := us.EnsureAdmin(ctx, "admin", "admin-pw"); err != nil {
		t.Fatalf("EnsureAdmin failed: %v", err)
	}

	return &testEnv{
		server: NewServer(Config{
			Records:     recs,
			Users:       us,
			Suggestions: client,
		}),
		records: recs,
		users:   us,
	}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(CallerHeader, user)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func (e *testEnv) seed(t *testing.T, recs ...models.TelemetryRecord) {
	t.Helper()
	if _, err := e.records.AppendBatch(context.Background(), recs); err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}
}

func reading(device, animal string, weight float64) models.TelemetryRecord {
	return models.TelemetryRecord{
		Timestamp:    "2024-01-01T00:00:00Z",
		DeviceID:     device,
		SourceUnit:   "Unit-A",
		AnimalID:     animal,
		AnimalWeight: weight,
	}
}

func TestRecordLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/data", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /data: expected 200, got %d", w.Code)
	}
	if got := decode[[]models.TelemetryRecord](t, w); len(got) != 0 {
		t.Fatalf("expected empty store, got %v", got)
	}

	input := models.TelemetryRecord{
		Timestamp:    "2024-01-01T00:00:00Z",
		DeviceID:     "DEV-001",
		SourceUnit:   "Unit-A",
		AnimalID:     "ANI-0001",
		AnimalWeight: 42.5,
	}
	w = env.do(t, http.MethodPost, "/data", "", input)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /data: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[models.TelemetryRecord](t, w)
	if created.ID == "" {
		t.Fatal("expected an assigned id")
	}

	w = env.do(t, http.MethodGet, "/data", "", nil)
	list := decode[[]models.TelemetryRecord](t, w)
	want := input
	want.ID = created.ID
	if len(list) != 1 || list[0] != want {
		t.Fatalf("expected [%+v], got %+v", want, list)
	}

	w = env.do(t, http.MethodDelete, "/data", "", map[string][]string{"ids": {created.ID}})
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE /data: expected 200, got %d", w.Code)
	}
	if got := decode[deleteDataResponse](t, w); got.Deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", got.Deleted)
	}

	w = env.do(t, http.MethodGet, "/data", "", nil)
	if got := decode[[]models.TelemetryRecord](t, w); len(got) != 0 {
		t.Errorf("expected empty list after delete, got %v", got)
	}
}

func TestCreateDataValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing timestamp", map[string]any{"deviceId": "DEV-001", "animalId": "ANI-0001"}},
		{"missing deviceId", map[string]any{"timestamp": "2024-01-01T00:00:00Z", "animalId": "ANI-0001"}},
		{"missing animalId", map[string]any{"timestamp": "2024-01-01T00:00:00Z", "deviceId": "DEV-001"}},
		{"empty body", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/data", "", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if got := decode[ErrorResponse](t, w); got.Kind != models.KindValidation || got.Error == "" {
				t.Errorf("unexpected error body %+v", got)
			}
		})
	}

	if len(env.records.ListAll()) != 0 {
		t.Error("rejected requests must not write records")
	}
}

func TestUpdateData(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, reading("DEV-001", "ANI-0001", 10))
	rec := env.records.ListAll()[0]

	rec.AnimalWeight = 11.5
	w := env.do(t, http.MethodPut, "/data", "", rec)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /data: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := env.records.ListAll()[0]; got.AnimalWeight != 11.5 || got.ID != rec.ID {
		t.Errorf("update not applied: %+v", got)
	}

	rec.ID = "missing"
	w = env.do(t, http.MethodPut, "/data", "", rec)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", w.Code)
	}
}

func TestDeleteDataRequiresIDs(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, body := range []any{map[string]any{}, map[string][]string{"ids": {}}} {
		w := env.do(t, http.MethodDelete, "/data", "", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for %v, got %d", body, w.Code)
		}
	}

	w := env.do(t, http.MethodDelete, "/data", "", map[string][]string{"ids": {"nope"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown id, got %d", w.Code)
	}
	if got := decode[deleteDataResponse](t, w); got.Deleted != 0 {
		t.Errorf("expected 0 deleted, got %d", got.Deleted)
	}
}

func TestDevices(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seed(t,
		reading("DEV-002", "ANI-0001", 10),
		reading("DEV-001", "ANI-0002", 20),
		reading("DEV-002", "ANI-0003", 30),
	)
	if _, err := env.users.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	w := env.do(t, http.MethodPut, "/users/permissions", "", map[string]any{
		"username":    "alice",
		"permissions": map[string]any{"devices": []string{"DEV-001", "DEV-002"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /users/permissions: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/devices", "", nil)
	if got := decode[[]string](t, w); !slices.Equal(got, []string{"DEV-001", "DEV-002"}) {
		t.Errorf("unexpected devices %v", got)
	}

	w = env.do(t, http.MethodDelete, "/devices", "", map[string]string{"deviceId": "DEV-002"})
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE /devices: expected 200, got %d", w.Code)
	}
	result := decode[struct {
		UsersUpdated   int `json:"usersUpdated"`
		RecordsRemoved int `json:"recordsRemoved"`
	}](t, w)
	if result.UsersUpdated != 1 || result.RecordsRemoved != 2 {
		t.Errorf("unexpected removal result %+v", result)
	}

	w = env.do(t, http.MethodGet, "/devices", "", nil)
	if got := decode[[]string](t, w); !slices.Equal(got, []string{"DEV-001"}) {
		t.Errorf("unexpected devices after removal %v", got)
	}
	alice, _ := env.users.Get("alice")
	if alice.Permissions.Contains("DEV-002") {
		t.Error("DEV-002 still in alice's permissions")
	}

	w = env.do(t, http.MethodDelete, "/devices", "", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without deviceId, got %d", w.Code)
	}
}

func TestSetPermissionsErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.users.Register(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	w := env.do(t, http.MethodPut, "/users/permissions", "", map[string]any{
		"username":    "alice",
		"permissions": map[string]any{"devices": []string{"DEV-001"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("granting DEV-001: expected 200, got %d", w.Code)
	}

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"unknown user", map[string]any{"username": "bob", "permissions": map[string]any{"devices": []string{}}}, http.StatusNotFound},
		{"admin target", map[string]any{"username": "admin", "permissions": map[string]any{"devices": []string{"DEV-001"}}}, http.StatusForbidden},
		{"all sentinel for user", map[string]any{"username": "alice", "permissions": map[string]any{"devices": "all"}}, http.StatusBadRequest},
		{"bad devices value", map[string]any{"username": "alice", "permissions": map[string]any{"devices": 7}}, http.StatusBadRequest},
		{"missing permissions", map[string]any{"username": "alice"}, http.StatusBadRequest},
		{"null permissions", map[string]any{"username": "alice", "permissions": nil}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, "/users/permissions", "", tt.body)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}

	// None of the rejected requests may touch alice's allow-list
	alice, err := env.users.Get("alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !alice.Permissions.Contains("DEV-001") || len(alice.Permissions.Devices()) != 1 {
		t.Errorf("rejected requests changed permissions: %+v", alice.Permissions.Devices())
	}
}

func TestUsersEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/users/register", "", map[string]string{"username": "alice", "password": "pw"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Error("register response leaks the credential")
	}

	w = env.do(t, http.MethodPost, "/users/register", "", map[string]string{"username": "alice", "password": "pw"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register: expected 409, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/users/login", "", map[string]string{"username": "alice", "password": "pw"})
	if w.Code != http.StatusOK {
		t.Errorf("login: expected 200, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/users/login", "", map[string]string{"username": "alice", "password": "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login: expected 401, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/users", "", nil)
	if bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Error("user list leaks credentials")
	}
	if got := decode[[]models.PublicUser](t, w); len(got) != 2 {
		t.Errorf("expected 2 users, got %d", len(got))
	}
}

func TestScopedData(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seed(t, reading("DEV-001", "ANI-0001", 10), reading("DEV-002", "ANI-0002", 20))
	env.users.Register(ctx, "alice", "pw")
	env.do(t, http.MethodPut, "/users/permissions", "", map[string]any{
		"username":    "alice",
		"permissions": map[string]any{"devices": []string{"DEV-001"}},
	})

	w := env.do(t, http.MethodGet, "/data", "alice", nil)
	got := decode[[]models.TelemetryRecord](t, w)
	if len(got) != 1 || got[0].DeviceID != "DEV-001" {
		t.Errorf("expected only DEV-001 for alice, got %+v", got)
	}

	w = env.do(t, http.MethodGet, "/data", "admin", nil)
	if got := decode[[]models.TelemetryRecord](t, w); len(got) != 2 {
		t.Errorf("expected all records for admin, got %d", len(got))
	}

	w = env.do(t, http.MethodGet, "/data", "mallory", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown caller: expected 401, got %d", w.Code)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t,
		reading("DEV-001", "ANI-0001", 10),
		reading("DEV-001", "ANI-0002", 15),
		reading("DEV-002", "ANI-0003", 18),
		reading("DEV-003", "ANI-0004", 50),
	)

	w := env.do(t, http.MethodGet, "/search?weightMin=10&weightMax=20&pageSize=2", "admin", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	page := decode[query.Page[models.TelemetryRecord]](t, w)
	if page.Total != 3 || page.TotalPages != 2 || len(page.Data) != 2 || page.PageSize != 2 {
		t.Errorf("unexpected page %+v", page)
	}

	w = env.do(t, http.MethodGet, "/search?q=dev-002", "admin", nil)
	page = decode[query.Page[models.TelemetryRecord]](t, w)
	if page.Total != 1 || page.Data[0].DeviceID != "DEV-002" {
		t.Errorf("unexpected free-text result %+v", page)
	}

	w = env.do(t, http.MethodGet, "/search?weightMin=abc", "admin", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad weightMin: expected 400, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/search", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous search: expected 401, got %d", w.Code)
	}
}

func TestSearchRespectsPermissions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, reading("DEV-001", "ANI-0001", 10), reading("DEV-002", "ANI-0002", 20))
	env.users.Register(context.Background(), "alice", "pw")

	w := env.do(t, http.MethodGet, "/search", "alice", nil)
	page := decode[query.Page[models.TelemetryRecord]](t, w)
	if page.Total != 0 || page.TotalPages != 1 {
		t.Errorf("user without devices should see nothing, got %+v", page)
	}
}

func TestSuggestions(t *testing.T) {
	generator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req suggest.Request
		json.NewDecoder(r.Body).Decode(&req)
		if req.SearchHistory != "calf, cow" {
			http.Error(w, "unexpected history "+req.SearchHistory, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(suggest.Reply{SuggestedTerms: "heifer, steer"})
	}))
	defer generator.Close()

	client := suggest.NewClient(suggest.Config{Endpoint: generator.URL, Timeout: time.Second}, nil)
	env := newTestEnv(t, client)

	env.do(t, http.MethodGet, "/search?q=cow", "admin", nil)
	env.do(t, http.MethodGet, "/search?q=calf", "admin", nil)

	w := env.do(t, http.MethodGet, "/suggestions", "admin", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("suggestions: expected 200, got %d", w.Code)
	}
	got := decode[SuggestionsResponse](t, w)
	if !slices.Equal(got.History, []string{"calf", "cow"}) {
		t.Errorf("unexpected history %v", got.History)
	}
	if !slices.Equal(got.Suggestions, []string{"heifer", "steer"}) {
		t.Errorf("unexpected suggestions %v", got.Suggestions)
	}
}

func TestSuggestionsDegradeWithoutGenerator(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/suggestions", "admin", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got := decode[SuggestionsResponse](t, w)
	if got.Suggestions == nil || len(got.Suggestions) != 0 {
		t.Errorf("expected empty suggestions, got %v", got.Suggestions)
	}

	w = env.do(t, http.MethodGet, "/suggestions", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous suggestions: expected 401, got %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", w.Code)
	}
	health := decode[HealthResponse](t, w)
	if health.Status != "ok" || health.Users != 1 || health.Memory == nil {
		t.Errorf("unexpected health %+v", health)
	}

	w = env.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("metrics: expected 200, got %d", w.Code)
	}
}

func TestRegisterDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, reading("DEV-001", "ANI-0001", 10))
	env.users.Register(context.Background(), "alice", "pw")

	w := env.do(t, http.MethodPost, "/devices", "", map[string]string{"deviceId": "DEV-007"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[registerDeviceResponse](t, w); got.DeviceID != "DEV-007" || got.Listed {
		t.Errorf("unexpected response %+v", got)
	}

	// Nothing is stored until a reading arrives
	w = env.do(t, http.MethodGet, "/devices", "", nil)
	if got := decode[[]string](t, w); !slices.Equal(got, []string{"DEV-001"}) {
		t.Errorf("unexpected devices %v", got)
	}

	// The id can be granted before any reading exists
	w = env.do(t, http.MethodPut, "/users/permissions", "", map[string]any{
		"username":    "alice",
		"permissions": map[string]any{"devices": []string{"DEV-007"}},
	})
	if w.Code != http.StatusOK {
		t.Errorf("granting unseen device: expected 200, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/devices", "", map[string]string{"deviceId": "DEV-001"})
	if got := decode[registerDeviceResponse](t, w); !got.Listed {
		t.Errorf("DEV-001 has readings, got %+v", got)
	}

	w = env.do(t, http.MethodPost, "/devices", "", map[string]string{"deviceId": "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank deviceId: expected 400, got %d", w.Code)
	}
}
