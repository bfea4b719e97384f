package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/classify"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/config"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/db"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/graph"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRepo struct {
	conns  map[uuid.UUID]*db.Connection
	jobs   map[uuid.UUID]*db.SyncJob
	states []*db.FileState
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		conns: map[uuid.UUID]*db.Connection{},
		jobs:  map[uuid.UUID]*db.SyncJob{},
	}
}

func (f *fakeRepo) Ping(context.Context) error { return nil }

func (f *fakeRepo) GetConnection(_ context.Context, id uuid.UUID) (*db.Connection, error) {
	return f.conns[id], nil
}

func (f *fakeRepo) GetActiveConnection(_ context.Context, yachtID string) (*db.Connection, error) {
	for _, c := range f.conns {
		if c.YachtID == yachtID && c.SyncEnabled {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) UpdateSelectedFolders(_ context.Context, id uuid.UUID, folders []string) error {
	f.conns[id].SelectedFolders = folders
	return nil
}

func (f *fakeRepo) GetSyncJob(_ context.Context, id uuid.UUID) (*db.SyncJob, error) {
	return f.jobs[id], nil
}

func (f *fakeRepo) ListSyncJobs(_ context.Context, connectionID uuid.UUID, limit int) ([]*db.SyncJob, error) {
	var out []*db.SyncJob
	for _, j := range f.jobs {
		if j.ConnectionID == connectionID && len(out) < limit {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListFileStates(_ context.Context, connectionID uuid.UUID, status string, limit int) ([]*db.FileState, error) {
	var out []*db.FileState
	for _, st := range f.states {
		if st.ConnectionID != connectionID {
			continue
		}
		if status != "" && st.Status != status {
			continue
		}
		if len(out) < limit {
			out = append(out, st)
		}
	}
	return out, nil
}

type fakeTokens struct {
	accessToken string
	tokenErr    error
	stored      *db.Connection
	revoked     []uuid.UUID
}

func (f *fakeTokens) AuthCodeURL(yachtID string) string {
	return "https://login.example.com/authorize?state=" + yachtID
}

func (f *fakeTokens) Exchange(context.Context, string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "exchanged-access", RefreshToken: "exchanged-refresh"}, nil
}

func (f *fakeTokens) StoreTokens(_ context.Context, yachtID, upn string, _ *oauth2.Token) (*db.Connection, error) {
	f.stored = &db.Connection{ID: uuid.New(), YachtID: yachtID, UserPrincipalName: upn, SyncEnabled: true}
	return f.stored, nil
}

func (f *fakeTokens) GetAccessToken(context.Context, uuid.UUID) (string, error) {
	return f.accessToken, f.tokenErr
}

func (f *fakeTokens) Revoke(_ context.Context, id uuid.UUID) error {
	f.revoked = append(f.revoked, id)
	return nil
}

type fakeRunner struct {
	mu   sync.Mutex
	runs int
	job  *db.SyncJob
}

func (f *fakeRunner) CreateJob(_ context.Context, conn *db.Connection) (*db.SyncJob, error) {
	f.job = &db.SyncJob{ID: uuid.New(), ConnectionID: conn.ID, YachtID: conn.YachtID, Status: db.JobPending}
	return f.job, nil
}

func (f *fakeRunner) Run(context.Context, *db.Connection, *db.SyncJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return nil
}

type fakeBrowser struct {
	profile *graph.Profile
	items   []graph.Item
	listErr error
}

func (f *fakeBrowser) GetProfile(context.Context) (*graph.Profile, error) {
	return f.profile, nil
}

func (f *fakeBrowser) ListFolder(context.Context, string) ([]graph.Item, error) {
	return f.items, f.listErr
}

func (f *fakeBrowser) Search(context.Context, string) ([]graph.Item, error) {
	return f.items, f.listErr
}

type testEnv struct {
	repo    *fakeRepo
	tokens  *fakeTokens
	runner  *fakeRunner
	browser *fakeBrowser
	router  *gin.Engine
}

func newTestEnv(t *testing.T, jwtSecret string) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:    newFakeRepo(),
		tokens:  &fakeTokens{accessToken: "access"},
		runner:  &fakeRunner{},
		browser: &fakeBrowser{profile: &graph.Profile{UserPrincipalName: "captain@serenity.yacht"}},
	}
	srv := NewServer(env.repo, env.tokens, env.runner, classify.New(), &config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		CORSOrigins:  []string{"http://localhost:3000"},
		JWTSecret:    jwtSecret,
		DashboardURL: "http://localhost:3000/dashboard",
	})
	srv.newBrowser = func(string) Browser { return env.browser }
	env.router = srv.Router()
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestAuthConnect(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/api/v1/auth/connect", `{"yacht_id":"serenity"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if !strings.Contains(body["auth_url"].(string), "state=serenity") {
		t.Errorf("auth_url = %q", body["auth_url"])
	}
}

func TestAuthConnect_MissingYachtID(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/api/v1/auth/connect", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAuthCallback_StoresAndRedirects(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/api/v1/auth/callback?code=abc&state=serenity", "")
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.HasPrefix(loc, "http://localhost:3000/dashboard?") || !strings.Contains(loc, "onedrive=connected") {
		t.Errorf("Location = %q", loc)
	}
	if env.tokens.stored == nil || env.tokens.stored.YachtID != "serenity" {
		t.Errorf("stored connection = %+v", env.tokens.stored)
	}
	if env.tokens.stored.UserPrincipalName != "captain@serenity.yacht" {
		t.Errorf("upn = %q", env.tokens.stored.UserPrincipalName)
	}
}

func TestAuthCallback_ProviderError(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/api/v1/auth/callback?error=access_denied", "")
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.Contains(loc, "onedrive=error") {
		t.Errorf("Location = %q", loc)
	}
	if env.tokens.stored != nil {
		t.Error("tokens stored despite provider error")
	}
}

func TestAuthStatus(t *testing.T) {
	env := newTestEnv(t, "")
	conn := &db.Connection{ID: uuid.New(), YachtID: "serenity", UserPrincipalName: "captain@serenity.yacht", SyncEnabled: true}
	env.repo.conns[conn.ID] = conn

	w := env.do(t, http.MethodGet, "/api/v1/auth/status?yacht_id=serenity", "")
	body := decode(t, w)
	if body["connected"] != true {
		t.Errorf("connected = %v", body["connected"])
	}

	w = env.do(t, http.MethodGet, "/api/v1/auth/status?yacht_id=odyssey", "")
	body = decode(t, w)
	if body["connected"] != false {
		t.Errorf("connected = %v for unknown yacht", body["connected"])
	}
}

func TestFilesBrowse(t *testing.T) {
	env := newTestEnv(t, "")
	connID := uuid.New()
	env.browser.items = []graph.Item{
		{ID: "1", Name: "04_Manuals", IsFolder: true},
		{ID: "2", Name: "readme.pdf", Size: 42, MimeType: "application/pdf", ModifiedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)},
	}

	w := env.do(t, http.MethodGet, "/api/v1/files/browse?connection_id="+connID.String()+"&path=", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	items := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	first := items[0].(map[string]any)
	if first["is_folder"] != true {
		t.Errorf("first item = %v", first)
	}
}

func TestFilesBrowse_TokenFailure(t *testing.T) {
	env := newTestEnv(t, "")
	env.tokens.tokenErr = token.ErrRefreshFailed

	w := env.do(t, http.MethodGet, "/api/v1/files/browse?connection_id="+uuid.NewString(), "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestFilesBrowse_RateLimited(t *testing.T) {
	env := newTestEnv(t, "")
	env.browser.listErr = &graph.RateLimitError{RetryAfter: 30 * time.Second}

	w := env.do(t, http.MethodGet, "/api/v1/files/browse?connection_id="+uuid.NewString(), "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}
}

func TestFilesBrowse_UpstreamError(t *testing.T) {
	env := newTestEnv(t, "")
	env.browser.listErr = &graph.APIError{StatusCode: 404, Message: "itemNotFound: not found"}

	w := env.do(t, http.MethodGet, "/api/v1/files/browse?connection_id="+uuid.NewString(), "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestFilesMetadata(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/api/v1/files/metadata?path=02_Engineering%2FElectrical%2FSchematics%2Fmain_panel.pdf", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	if body["doc_type"] != "schematic" || body["system_tag"] != "electrical" {
		t.Errorf("metadata = %v", body)
	}
}

func TestSyncStart(t *testing.T) {
	env := newTestEnv(t, "")
	conn := &db.Connection{ID: uuid.New(), YachtID: "serenity", SyncEnabled: true}
	env.repo.conns[conn.ID] = conn

	w := env.do(t, http.MethodPost, "/api/v1/sync/start",
		`{"connection_id":"`+conn.ID.String()+`","folder_paths":["02_Engineering"]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != db.JobPending {
		t.Errorf("job status = %v", body["status"])
	}
	if got := env.repo.conns[conn.ID].SelectedFolders; len(got) != 1 || got[0] != "02_Engineering" {
		t.Errorf("selected folders = %v", got)
	}

	// The run is detached; give the goroutine a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		env.runner.mu.Lock()
		runs := env.runner.runs
		env.runner.mu.Unlock()
		if runs == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background run never executed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSyncStart_UnknownConnection(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/api/v1/sync/start", `{"connection_id":"`+uuid.NewString()+`"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSyncStatusAndHistory(t *testing.T) {
	env := newTestEnv(t, "")
	connID := uuid.New()
	job := &db.SyncJob{ID: uuid.New(), ConnectionID: connID, YachtID: "serenity", Status: db.JobCompleted, TotalFiles: 3, FilesSucceeded: 2, FilesFailed: 1}
	env.repo.jobs[job.ID] = job

	w := env.do(t, http.MethodGet, "/api/v1/sync/status?job_id="+job.ID.String(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	if body["files_succeeded"] != float64(2) {
		t.Errorf("files_succeeded = %v", body["files_succeeded"])
	}

	w = env.do(t, http.MethodGet, "/api/v1/sync/status?job_id="+uuid.NewString(), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/sync/history?connection_id="+connID.String(), "")
	body = decode(t, w)
	if jobs := body["jobs"].([]any); len(jobs) != 1 {
		t.Errorf("history jobs = %d, want 1", len(jobs))
	}
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dashboard",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestJWTMiddleware(t *testing.T) {
	env := newTestEnv(t, "test-secret")

	// No token: rejected.
	w := env.do(t, http.MethodGet, "/api/v1/auth/status?yacht_id=serenity", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without token", w.Code)
	}

	// Wrong secret: rejected.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/status?yacht_id=serenity", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret"))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 with bad signature", w.Code)
	}

	// Valid token: accepted.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/status?yacht_id=serenity", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret"))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with valid token", w.Code)
	}

	// The OAuth callback stays open: the provider cannot send a bearer token.
	w = env.do(t, http.MethodGet, "/api/v1/auth/callback?error=access_denied", "")
	if w.Code != http.StatusFound {
		t.Fatalf("callback status = %d, want 302 without token", w.Code)
	}

	// Health stays open for probes.
	w = env.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200 without token", w.Code)
	}
}

func TestAuthDisconnect(t *testing.T) {
	env := newTestEnv(t, "")
	id := uuid.New()
	w := env.do(t, http.MethodPost, "/api/v1/auth/disconnect?connection_id="+id.String(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(env.tokens.revoked) != 1 || env.tokens.revoked[0] != id {
		t.Errorf("revoked = %v", env.tokens.revoked)
	}
}
