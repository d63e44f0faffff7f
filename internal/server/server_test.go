package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"shelfscan/internal/app"
	"shelfscan/internal/devicetoken"
	"shelfscan/internal/ratelimit"
	"shelfscan/internal/scan"
	"shelfscan/pkg/domain"
	"shelfscan/pkg/openlibrary"
	"shelfscan/pkg/store"
)

type fakeResolver struct {
	records map[string]domain.BookRecord
	browse  []domain.BookRecord
}

func (r *fakeResolver) ResolveByCode(_ context.Context, code string) (domain.BookRecord, error) {
	rec, ok := r.records[code]
	if !ok {
		return domain.BookRecord{}, &openlibrary.NotFoundError{Key: code}
	}
	if rec.ISBN == "" {
		rec.ISBN = code
	}
	return rec, nil
}

func (r *fakeResolver) ResolveByQuery(ctx context.Context, query string) (domain.BookRecord, error) {
	return r.ResolveByCode(ctx, query)
}

func (r *fakeResolver) BrowseBySubject(context.Context, string, string) ([]domain.BookRecord, error) {
	return r.browse, nil
}

type testEnv struct {
	server *httptest.Server
	token  string
	app    *app.App
	scans  *scan.Manager
}

func newTestEnv(t *testing.T, limiter *ratelimit.FixedWindowLimiter) *testEnv {
	t.Helper()
	resolver := &fakeResolver{
		records: map[string]domain.BookRecord{
			"9780441013593": {Title: "Dune", Authors: "Frank Herbert"},
		},
		browse: []domain.BookRecord{{Title: "Neuromancer", Authors: "William Gibson"}},
	}
	a, err := app.New(app.Config{Store: store.NewMemoryStore(), Resolver: resolver})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	var scans *scan.Manager
	scans = scan.NewManager(scan.ManagerConfig{
		OnCode: func(ctx context.Context, sessionID, code string) {
			outcome, err := a.LookupAndAdd(ctx, code)
			if err != nil {
				scans.SetResult(sessionID, map[string]string{"error": err.Error()})
				return
			}
			scans.SetResult(sessionID, outcome)
		},
	})
	t.Cleanup(scans.Stop)

	hash, err := devicetoken.HashPairingCode("123456")
	if err != nil {
		t.Fatalf("hash pairing code: %v", err)
	}
	tokens, err := devicetoken.New(devicetoken.Config{Secret: "test-secret", PairingCodeHash: hash})
	if err != nil {
		t.Fatalf("new token authority: %v", err)
	}

	srv, err := New(Config{App: a, Scans: scans, Tokens: tokens, LookupLimiter: limiter})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	env := &testEnv{server: ts, app: a, scans: scans}
	env.token = env.pair(t)
	return env
}

func (e *testEnv) pair(t *testing.T) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/devices/pair", `{"code":"123456"}`, "")
	if status != http.StatusCreated {
		t.Fatalf("pair status = %d body=%s", status, body)
	}
	var pairing devicetoken.Pairing
	if err := json.Unmarshal(body, &pairing); err != nil {
		t.Fatalf("decode pairing: %v", err)
	}
	return pairing.Token
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) (int, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, buf.Bytes()
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	status, _ := env.do(t, http.MethodGet, "/healthz", "", "")
	if status != http.StatusOK {
		t.Fatalf("healthz status = %d", status)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, http.MethodGet, "/catalog", "", "")
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "AUTH_INVALID_TOKEN" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestPairRejectsWrongCode(t *testing.T) {
	env := newTestEnv(t, nil)
	status, _ := env.do(t, http.MethodPost, "/devices/pair", `{"code":"999999"}`, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestLookupAddsThenReportsExisting(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodPost, "/catalog/lookup", `{"code":"9780441013593"}`, env.token)
	if status != http.StatusCreated {
		t.Fatalf("first lookup status = %d body=%s", status, body)
	}
	var outcome domain.Outcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Kind != domain.OutcomeAdded || outcome.Entry == nil {
		t.Fatalf("outcome = %+v", outcome)
	}

	status, body = env.do(t, http.MethodPost, "/catalog/lookup", `{"code":"9780441013593"}`, env.token)
	if status != http.StatusOK {
		t.Fatalf("second lookup status = %d body=%s", status, body)
	}
	if err := json.Unmarshal(body, &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Kind != domain.OutcomeAlreadyExists {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestLookupNotFoundSurfacesExactMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, http.MethodPost, "/catalog/lookup", `{"code":"0000000000"}`, env.token)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	var resp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error != "No books found for ISBN 0000000000" {
		t.Fatalf("error = %q", resp.Error)
	}
	if resp.Code != "LOOKUP_NOT_FOUND" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestLookupRequiresCodeOrQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	status, _ := env.do(t, http.MethodPost, "/catalog/lookup", `{}`, env.token)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestCatalogCRUD(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, http.MethodPost, "/catalog/lookup", `{"code":"9780441013593"}`, env.token)
	if status != http.StatusCreated {
		t.Fatalf("lookup status = %d", status)
	}
	var outcome domain.Outcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	id := outcome.Entry.ID

	status, body = env.do(t, http.MethodPatch, "/catalog/"+id, `{"favorite":true,"notes":"great"}`, env.token)
	if status != http.StatusOK {
		t.Fatalf("patch status = %d body=%s", status, body)
	}
	var entry domain.CatalogEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if !entry.Favorite || entry.Notes != "great" {
		t.Fatalf("entry = %+v", entry)
	}

	status, body = env.do(t, http.MethodGet, "/catalog?favorites=true", "", env.token)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("favorites count = %d, want 1", list.Count)
	}

	status, _ = env.do(t, http.MethodDelete, "/catalog/"+id, "", env.token)
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	status, _ = env.do(t, http.MethodGet, "/catalog/"+id, "", env.token)
	if status != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", status)
	}
}

func TestBrowseSubjects(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, http.MethodGet, "/browse/subjects/science_fiction", "", env.token)
	if status != http.StatusOK {
		t.Fatalf("browse status = %d body=%s", status, body)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode browse: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
}

func TestScanSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodPost, "/scan/sessions", "", env.token)
	if status != http.StatusCreated {
		t.Fatalf("start session status = %d body=%s", status, body)
	}
	var snapshot scan.Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.State != scan.StateArmed {
		t.Fatalf("state = %q, want armed", snapshot.State)
	}

	frame := `{"symbols":[{"type":"ean13","value":"9780441013593"}]}`
	status, _ = env.do(t, http.MethodPost, "/scan/sessions/"+snapshot.ID+"/frames", frame, env.token)
	if status != http.StatusAccepted {
		t.Fatalf("push frame status = %d", status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, body = env.do(t, http.MethodGet, "/scan/sessions/"+snapshot.ID, "", env.token)
		if status != http.StatusOK {
			t.Fatalf("get session status = %d", status)
		}
		if err := json.Unmarshal(body, &snapshot); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snapshot.Result != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scan result never arrived: %+v", snapshot)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snapshot.State != scan.StateFired {
		t.Fatalf("state = %q, want fired", snapshot.State)
	}
	if snapshot.LastCode != "9780441013593" {
		t.Fatalf("lastCode = %q", snapshot.LastCode)
	}

	status, body = env.do(t, http.MethodPost, "/scan/sessions/"+snapshot.ID+"/reset", "", env.token)
	if status != http.StatusOK {
		t.Fatalf("reset status = %d", status)
	}
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.State != scan.StateArmed {
		t.Fatalf("state after reset = %q, want armed", snapshot.State)
	}

	status, _ = env.do(t, http.MethodDelete, "/scan/sessions/"+snapshot.ID, "", env.token)
	if status != http.StatusOK {
		t.Fatalf("end session status = %d", status)
	}
	status, _ = env.do(t, http.MethodGet, "/scan/sessions/"+snapshot.ID, "", env.token)
	if status != http.StatusNotFound {
		t.Fatalf("get ended session status = %d", status)
	}
}

func TestScanSessionDeniedCamera(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, http.MethodPost, "/scan/sessions", `{"cameraAuthorized":false}`, env.token)
	if status != http.StatusCreated {
		t.Fatalf("start session status = %d body=%s", status, body)
	}
	var snapshot scan.Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.State != scan.StateDenied {
		t.Fatalf("state = %q, want denied", snapshot.State)
	}
}

func TestLookupRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	env := newTestEnv(t, limiter)

	status, _ := env.do(t, http.MethodPost, "/catalog/lookup", `{"code":"9780441013593"}`, env.token)
	if status != http.StatusCreated {
		t.Fatalf("first lookup status = %d", status)
	}
	status, body := env.do(t, http.MethodPost, "/catalog/lookup", `{"code":"9780441013593"}`, env.token)
	if status != http.StatusTooManyRequests {
		t.Fatalf("second lookup status = %d body=%s", status, body)
	}
}

func TestExportText(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.app.LookupAndAdd(context.Background(), "9780441013593"); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	status, body := env.do(t, http.MethodGet, "/catalog/export.txt", "", env.token)
	if status != http.StatusOK {
		t.Fatalf("export status = %d", status)
	}
	if !bytes.Contains(body, []byte("Dune\nby Frank Herbert")) {
		t.Fatalf("export body missing entry:\n%s", body)
	}
}

func TestImportWithoutQueue(t *testing.T) {
	env := newTestEnv(t, nil)
	status, _ := env.do(t, http.MethodPost, "/catalog/imports", `{"isbns":["1"]}`, env.token)
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 without queue", status)
	}
}
