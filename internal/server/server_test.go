package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/migrate"
	"caseline/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	clock  *time.Time
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("surrogacy")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return clock }
	if err := e.SyncStages(context.Background()); err != nil {
		t.Fatalf("sync stages: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		clock:  &clock,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, actor string, roles ...string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, actor, roles)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, body)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "unauthorized" {
		t.Fatalf("unexpected envelope %s", body)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestCaseTimelineFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	coord := bearer(t, "casey", "coordinator")

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{"id": "case-1", "name": "Jane Doe"}, coord)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create case %d: %s", res.StatusCode, body)
	}
	*srv.clock = srv.clock.Add(time.Hour)
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/case-1/activities", map[string]any{
		"activity_type": "note_added",
		"details":       map[string]any{"preview": "left voicemail"},
	}, coord)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("log note %d: %s", res.StatusCode, body)
	}
	*srv.clock = srv.clock.Add(48 * time.Hour)
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/case-1/stage", map[string]any{
		"stage":        "Disqualified",
		"effective_at": "2024-03-02T09:00:00Z",
		"reason":       "age",
	}, coord)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("change stage %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/case-1/stage", map[string]any{"stage": "disqualified"}, coord)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict for same stage, got %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/case-1/timeline", nil, coord)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("timeline %d: %s", res.StatusCode, body)
	}
	var tl TimelineDTO
	if err := json.Unmarshal(body, &tl); err != nil {
		t.Fatalf("unmarshal timeline: %v", err)
	}
	if len(tl.Buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(tl.Buckets))
	}
	first, last := tl.Buckets[0], tl.Buckets[1]
	if first.Stage.ID != "new_unread" || first.Expanded || first.ActivityCount != 2 || len(first.Activities) != 0 {
		t.Fatalf("expected collapsed first bucket with hidden activities, got %+v", first)
	}
	if last.Stage.ID != "disqualified" || !last.IsBackdated || !last.Expanded {
		t.Fatalf("unexpected terminal bucket %+v", last)
	}
	if len(last.Transitions) != 1 || last.Transitions[0].Label != "New Unread -> Disqualified" {
		t.Fatalf("unexpected transitions %+v", last.Transitions)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/case-1/timeline?expand=new_unread&collapse=disqualified", nil, coord)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("timeline %d: %s", res.StatusCode, body)
	}
	tl = TimelineDTO{}
	_ = json.Unmarshal(body, &tl)
	if !tl.Buckets[0].Expanded || len(tl.Buckets[0].Activities) != 2 || tl.Buckets[1].Expanded {
		t.Fatalf("overrides not applied: %+v", tl.Buckets)
	}
	if tl.Buckets[0].Activities[1].Summary != "Note: left voicemail" {
		t.Fatalf("unexpected summary %q", tl.Buckets[0].Activities[1].Summary)
	}
}

func TestNextStepsInTimeline(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	coord := bearer(t, "casey", "coordinator")
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{"id": "case-1", "name": "Jane"}, coord)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/case-1/tasks", map[string]any{"title": "Send forms", "due_date": "2024-02-01T00:00:00Z"}, coord)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task %d: %s", res.StatusCode, body)
	}
	var task domain.Task
	_ = json.Unmarshal(body, &task)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/case-1/tasks", map[string]any{"title": "Call back", "due_date": "2024-04-01T00:00:00Z"}, coord)

	_, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/case-1/timeline", nil, coord)
	var tl TimelineDTO
	_ = json.Unmarshal(body, &tl)
	if len(tl.NextSteps.Overdue) != 1 || tl.NextSteps.Overdue[0].ID != task.ID || len(tl.NextSteps.Upcoming) != 1 {
		t.Fatalf("unexpected next steps %+v", tl.NextSteps)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/case-1/tasks/"+task.ID+"/status", map[string]any{"status": "completed"}, coord)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete task %d: %s", res.StatusCode, body)
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/case-1/tasks/"+task.ID+"/status", map[string]any{"status": "cancelled"}, coord)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d", res.StatusCode)
	}
}

func TestViewerAPIKeyIsReadOnly(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()
	if err := srv.Engine.Repo.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", ActorID: "auditor", KeyHash: repo.HashAPIKey("viewer-key"), Roles: []string{"viewer"}}); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	viewer := map[string]string{"X-Api-Key": "viewer-key"}
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{"id": "case-1", "name": "Jane"}, bearer(t, "casey", "owner"))

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/case-1/timeline", nil, viewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("viewer timeline %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{"name": "Nope"}, viewer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, body)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	if envelope.Error.Details["permission"] != "case.write" {
		t.Fatalf("unexpected envelope %s", body)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/missing", nil, viewer)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestWebhookDeliversNewActivities(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookDelivery
		headers  []http.Header
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var d webhookDelivery
		_ = json.NewDecoder(r.Body).Decode(&d)
		mu.Lock()
		received = append(received, d)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	e := srv.Engine
	e.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL, Secret: "s3cret", Events: []string{domain.ActivityNoteAdded}}}
	if _, err := e.CreateCase(ctx, engine.CaseCreateOptions{ID: "case-1", Name: "Jane", ActorID: "casey"}); err != nil {
		t.Fatal(err)
	}

	d := newWebhookDispatcher(e)
	d.dispatchAll(ctx) // cursor starts after the case_created activity

	note, _ := json.Marshal(domain.NoteDetails{Preview: "hello"})
	if _, err := e.LogActivity(ctx, "case-1", domain.ActivityNoteAdded, "casey", note); err != nil {
		t.Fatal(err)
	}
	if _, err := e.LogActivity(ctx, "case-1", domain.ActivityEmailSent, "casey", nil); err != nil {
		t.Fatal(err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one delivery, got %d", len(received))
	}
	if received[0].ActivityType != domain.ActivityNoteAdded || received[0].Summary != "Note: hello" {
		t.Fatalf("unexpected delivery %+v", received[0])
	}
	if headers[0].Get("X-Caseline-Secret") != "s3cret" || headers[0].Get("X-Caseline-Event") != domain.ActivityNoteAdded {
		t.Fatalf("unexpected headers %v", headers[0])
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	owner := bearer(t, "casey", "owner")

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"roles": []string{"coordinator"}}, bearer(t, "sam", "coordinator"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for coordinator, got %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"roles": []string{"ghost"}}, owner)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"actor_id": "intake-bot", "name": "intake", "roles": []string{"coordinator"}}, owner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key %d: %s", res.StatusCode, body)
	}
	var created CreatedAPIKeyDTO
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Key == "" || created.ActorID != "intake-bot" {
		t.Fatalf("unexpected key %s", body)
	}

	keyAuth := map[string]string{"X-Api-Key": created.Key}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, keyAuth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me %d: %s", res.StatusCode, body)
	}
	var me struct {
		ActorID string   `json:"actor_id"`
		Roles   []string `json:"roles"`
	}
	_ = json.Unmarshal(body, &me)
	if me.ActorID != "intake-bot" || len(me.Roles) != 1 || me.Roles[0] != "coordinator" {
		t.Fatalf("unexpected principal %s", body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/api-keys?actor_id=intake-bot", nil, owner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys %d: %s", res.StatusCode, body)
	}
	if bytes.Contains(body, []byte("key_hash")) || bytes.Contains(body, []byte(created.Key)) {
		t.Fatalf("listing leaks key material: %s", body)
	}

	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+created.ID, nil, owner)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke %d: %s", res.StatusCode, body)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, keyAuth)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after revoke, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+created.ID, nil, owner)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second revoke, got %d", res.StatusCode)
	}
}
