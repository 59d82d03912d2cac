package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/nbx/internal/formatter"
	"github.com/desertthunder/nbx/internal/jobs"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/repositories"
	"github.com/desertthunder/nbx/internal/shared"
	"github.com/desertthunder/nbx/internal/tasks"
	tu "github.com/desertthunder/nbx/internal/testing"
)

const (
	pageID  = "11111111-2222-3333-4444-555555555555"
	otherID = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
)

// gateRunner blocks every job until release is closed or the job is canceled.
type gateRunner struct {
	release chan struct{}
}

func (r *gateRunner) Run(ctx context.Context, job models.Job, _ chan<- tasks.ProgressUpdate, _ func() bool) (string, error) {
	select {
	case <-r.release:
		return "/dumps/" + job.ID, nil
	case <-ctx.Done():
		return "", shared.ErrCanceled
	}
}

type fixture struct {
	manager *jobs.Manager
	runner  *gateRunner
	history *repositories.HistoryRepository
	root    string
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	history := repositories.NewHistoryRepository(db).WithClock(time.UTC, func() time.Time { return clock })

	logger := shared.NewLogger(&tu.FWriter{})
	runner := &gateRunner{release: make(chan struct{})}
	manager := jobs.NewManager(runner, jobs.Options{
		Limits:    map[models.JobType]int{models.JobDump: 1},
		Retention: time.Hour,
		History:   history,
		Logger:    logger,
	})
	t.Cleanup(manager.Close)

	root := t.TempDir()
	srv := New(Options{
		Jobs:     manager,
		History:  history,
		DumpRoot: root,
		Logger:   logger,
		Ping:     20 * time.Millisecond,
	})

	return &fixture{manager: manager, runner: runner, history: history, root: root, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return out
}

func submitted(t *testing.T, rec *httptest.ResponseRecorder) models.Job {
	t.Helper()
	var job models.Job
	if err := json.Unmarshal(decode(t, rec)["job"], &job); err != nil {
		t.Fatalf("failed to decode job: %v", err)
	}
	return job
}

func TestJobsHandler_Submit(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"dump", "/jobs/dump", `{"page_id":"` + pageID + `"}`, http.StatusOK},
		{"dump database", "/jobs/dump_database", `{"database_id":"` + otherID + `"}`, http.StatusOK},
		{"migrate", "/jobs/migrate", `{"dump_name":"Notes_20240101_000000","target_page_id":"` + otherID + `"}`, http.StatusOK},
		{"missing page id", "/jobs/dump", `{}`, http.StatusBadRequest},
		{"blank page id", "/jobs/dump", `{"page_id":"   "}`, http.StatusBadRequest},
		{"invalid page id", "/jobs/dump", `{"page_id":"not-an-id"}`, http.StatusBadRequest},
		{"malformed body", "/jobs/dump", `{"page_id":`, http.StatusBadRequest},
		{"migrate missing target", "/jobs/migrate", `{"dump_name":"x"}`, http.StatusBadRequest},
		{"migrate escaping dump name", "/jobs/migrate", `{"dump_name":"../etc","target_page_id":"` + otherID + `"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			job := submitted(t, rec)
			if job.Status != models.StatusQueued || job.ID == "" {
				t.Errorf("job = %+v, want a queued job with an id", job)
			}
		})
	}

	t.Run("form values are accepted", func(t *testing.T) {
		f := newFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/jobs/dump", strings.NewReader("page_id="+pageID))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
		}
	})

	t.Run("capacity exceeded is 429", func(t *testing.T) {
		f := newFixture(t)
		body := `{"page_id":"` + pageID + `"}`
		if rec := f.do(t, http.MethodPost, "/jobs/dump", body); rec.Code != http.StatusOK {
			t.Fatalf("first submit status = %d", rec.Code)
		}
		if rec := f.do(t, http.MethodPost, "/jobs/dump", body); rec.Code != http.StatusTooManyRequests {
			t.Fatalf("second submit status = %d, want 429", rec.Code)
		}
	})

	t.Run("wrong method is 405", func(t *testing.T) {
		f := newFixture(t)
		if rec := f.do(t, http.MethodGet, "/jobs/dump", ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}

func TestJobsHandler_Control(t *testing.T) {
	t.Run("list returns submitted jobs", func(t *testing.T) {
		f := newFixture(t)
		f.do(t, http.MethodPost, "/jobs/dump", `{"page_id":"`+pageID+`"}`)

		rec := f.do(t, http.MethodGet, "/jobs", "")
		var items []models.Job
		if err := json.Unmarshal(decode(t, rec)["items"], &items); err != nil {
			t.Fatalf("failed to decode items: %v", err)
		}
		if len(items) != 1 || items[0].Type != models.JobDump {
			t.Errorf("items = %+v, want one dump job", items)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		f := newFixture(t)
		job := submitted(t, f.do(t, http.MethodPost, "/jobs/dump", `{"page_id":"`+pageID+`"}`))

		if rec := f.do(t, http.MethodPost, "/jobs/"+job.ID+"/cancel", ""); rec.Code != http.StatusOK {
			t.Fatalf("cancel status = %d", rec.Code)
		}
		got, _ := f.manager.Get(job.ID)
		if got.Status != models.StatusCanceled {
			t.Errorf("status = %s, want canceled", got.Status)
		}
		if rec := f.do(t, http.MethodPost, "/jobs/unknown/cancel", ""); rec.Code != http.StatusNotFound {
			t.Errorf("unknown cancel status = %d, want 404", rec.Code)
		}
	})

	t.Run("remove", func(t *testing.T) {
		f := newFixture(t)
		job := submitted(t, f.do(t, http.MethodPost, "/jobs/dump", `{"page_id":"`+pageID+`"}`))

		if rec := f.do(t, http.MethodPost, "/jobs/"+job.ID+"/remove", ""); rec.Code != http.StatusConflict {
			t.Fatalf("remove active status = %d, want 409", rec.Code)
		}

		close(f.runner.release)
		deadline := time.Now().Add(2 * time.Second)
		for {
			got, _ := f.manager.Get(job.ID)
			if got.Status == models.StatusDone {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("job never finished: %+v", got)
			}
			time.Sleep(5 * time.Millisecond)
		}

		if rec := f.do(t, http.MethodPost, "/jobs/"+job.ID+"/remove", ""); rec.Code != http.StatusOK {
			t.Fatalf("remove done status = %d", rec.Code)
		}
		if rec := f.do(t, http.MethodPost, "/jobs/"+job.ID+"/remove", ""); rec.Code != http.StatusNotFound {
			t.Errorf("remove again status = %d, want 404", rec.Code)
		}
	})
}

func TestJobsHandler_Stream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/jobs/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	next := func(prefix string) string {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed while waiting for %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return strings.TrimPrefix(line, prefix)
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	var ev models.JobEvent
	if err := json.Unmarshal([]byte(next("data: ")), &ev); err != nil || ev.Kind != models.EventSnapshot {
		t.Fatalf("first event = %+v (%v), want snapshot", ev, err)
	}

	next("event: ping")

	if _, err := f.manager.EnqueueDump(pageID); err != nil {
		t.Fatalf("EnqueueDump() error = %v", err)
	}
	for {
		ev = models.JobEvent{}
		if err := json.Unmarshal([]byte(next("data: ")), &ev); err != nil {
			t.Fatalf("bad event: %v", err)
		}
		if ev.Kind == models.EventJobAdded {
			break
		}
	}
	if ev.Job == nil || ev.Job.Params[models.ParamPageID] != pageID {
		t.Errorf("job_added = %+v", ev.Job)
	}
}

func seedHistory(t *testing.T, r *repositories.HistoryRepository) {
	t.Helper()
	start := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	events := []models.HistoryEvent{
		{JobID: "job1", JobType: models.JobDump, Start: true, Status: models.StatusQueued, Params: map[string]string{models.ParamPageID: pageID}, At: start},
		{JobID: "job1", Status: models.StatusRunning, At: start},
		{JobID: "job1", Status: models.StatusDone, At: start.Add(time.Minute)},
		{JobID: "job2", JobType: models.JobMigrate, Start: true, Status: models.StatusQueued, Params: map[string]string{models.ParamDumpName: "Notes"}, At: start.AddDate(0, 0, -2)},
	}
	for _, ev := range events {
		if err := r.Record(context.Background(), ev); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
}

func TestHistoryHandler(t *testing.T) {
	f := newFixture(t)
	seedHistory(t, f.history)

	tests := []struct {
		name   string
		path   string
		status int
		key    string
	}{
		{"recent", "/jobs/history?days=7", http.StatusOK, "history"},
		{"recent default", "/jobs/history", http.StatusOK, "history"},
		{"recent out of bounds", "/jobs/history?days=0", http.StatusBadRequest, "error"},
		{"range", "/jobs/history?start=2024-05-01&end=2024-05-10&type=dump", http.StatusOK, "history"},
		{"range reversed", "/jobs/history?start=2024-05-10&end=2024-05-01", http.StatusBadRequest, "error"},
		{"range half open", "/jobs/history?start=2024-05-10", http.StatusBadRequest, "error"},
		{"range bad type", "/jobs/history?start=2024-05-01&end=2024-05-10&type=sync", http.StatusBadRequest, "error"},
		{"dates", "/jobs/history/dates", http.StatusOK, "dates"},
		{"by date", "/jobs/history/2024-05-10", http.StatusOK, "jobs"},
		{"by bad date", "/jobs/history/10-05-2024", http.StatusBadRequest, "error"},
		{"statistics", "/jobs/statistics?days=30", http.StatusOK, "statistics"},
		{"statistics out of bounds", "/jobs/statistics?days=400", http.StatusBadRequest, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if _, ok := decode(t, rec)[tt.key]; !ok {
				t.Errorf("response %s has no %q", rec.Body.String(), tt.key)
			}
		})
	}

	t.Run("recent groups by day", func(t *testing.T) {
		var days []models.DayHistory
		if err := json.Unmarshal(decode(t, f.do(t, http.MethodGet, "/jobs/history?days=7", ""))["history"], &days); err != nil {
			t.Fatal(err)
		}
		if len(days) != 2 || days[0].Date != "2024-05-10" || days[1].Date != "2024-05-08" {
			t.Errorf("days = %+v", days)
		}
	})

	t.Run("csv export", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/jobs/history?days=7&format=csv", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
			t.Errorf("Content-Type = %q", ct)
		}
		if !strings.Contains(rec.Body.String(), "job1") {
			t.Errorf("csv does not list job1: %s", rec.Body.String())
		}
	})

	t.Run("unknown export format", func(t *testing.T) {
		if rec := f.do(t, http.MethodGet, "/jobs/history?format=xml", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func writeDump(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	tree := models.TreeDocument{ID: pageID, Kind: models.KindRoot, Title: "Notes", Children: []*models.Node{}}
	manifest := models.Manifest{RootID: pageID, Title: "Notes", Nodes: []models.ManifestNode{}}
	if err := formatter.WriteCapturePair(dir, tree, manifest); err != nil {
		t.Fatal(err)
	}
}

func TestDumpsHandler(t *testing.T) {
	f := newFixture(t)
	writeDump(t, f.root, "Notes_20240101_000000")
	if err := os.MkdirAll(filepath.Join(f.root, "Partial_20240101_000000"), 0o755); err != nil {
		t.Fatal(err)
	}

	t.Run("list", func(t *testing.T) {
		var items []models.DumpInfo
		if err := json.Unmarshal(decode(t, f.do(t, http.MethodGet, "/api/dumps", ""))["items"], &items); err != nil {
			t.Fatal(err)
		}
		if len(items) != 2 || items[0].Name != "Notes_20240101_000000" || !items[0].Ready || items[1].Ready {
			t.Errorf("items = %+v", items)
		}
	})

	t.Run("manifest download", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/dumps/Notes_20240101_000000/manifest", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Header().Get("Content-Disposition"), "Notes_20240101_000000_manifest.json") {
			t.Errorf("Content-Disposition = %q", rec.Header().Get("Content-Disposition"))
		}
		if rec := f.do(t, http.MethodGet, "/api/dumps/Partial_20240101_000000/manifest", ""); rec.Code != http.StatusConflict {
			t.Errorf("incomplete dump status = %d, want 409", rec.Code)
		}
	})

	t.Run("static files", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/files/Notes_20240101_000000/tree.json", "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), pageID) {
			t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("delete", func(t *testing.T) {
		if rec := f.do(t, http.MethodDelete, "/api/dumps/bad..name", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("invalid name status = %d, want 400", rec.Code)
		}
		if rec := f.do(t, http.MethodDelete, "/api/dumps/Missing", ""); rec.Code != http.StatusNotFound {
			t.Errorf("missing dump status = %d, want 404", rec.Code)
		}
		if rec := f.do(t, http.MethodDelete, "/api/dumps/Notes_20240101_000000", ""); rec.Code != http.StatusOK {
			t.Fatalf("delete status = %d", rec.Code)
		}
		tu.AssertNotExists(t, filepath.Join(f.root, "Notes_20240101_000000"))
	})
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestRecoverMiddleware(t *testing.T) {
	router := NewBasicRouter()
	router.Use(RecoverMiddleware(shared.NewLogger(&tu.FWriter{})))
	router.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestBasicRouter_MiddlewareOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewBasicRouter()
	router.Use(mark("first"), mark("second"))
	router.Handle(http.MethodGet, "/items/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler:"+r.PathValue("id"))
	}))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))
	want := []string{"first", "second", "handler:42"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}
