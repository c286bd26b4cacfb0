package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/timmy/ipenrich/internal/classifier"
	"github.com/timmy/ipenrich/internal/config"
	"github.com/timmy/ipenrich/internal/domain"
	"github.com/timmy/ipenrich/internal/ipaddr"
	"github.com/timmy/ipenrich/internal/lookup"
	"github.com/timmy/ipenrich/internal/repository"
	"github.com/timmy/ipenrich/internal/service"
	"github.com/timmy/ipenrich/internal/storage"
)

type noPTR struct{}

func (noPTR) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	return nil, fmt.Errorf("no PTR for %s", addr)
}

type testServer struct {
	router http.Handler
	jobs   *service.JobService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := strings.TrimPrefix(r.URL.Path, "/json/")
		isp := "Google LLC"
		if strings.HasPrefix(ip, "73.") {
			isp = "Comcast Cable Communications, LLC"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","country":"United States","regionName":"California",
			"city":"Mountain View","lat":37.386,"lon":-122.0838,"isp":%q,"org":%q,"as":"AS15169 Google LLC","query":%q}`,
			isp, isp, ip)
	}))
	t.Cleanup(provider.Close)

	objects, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := repository.NewMemoryJobStore()
	gateway := lookup.NewGateway(lookup.Config{BaseURL: provider.URL, Resolver: noPTR{}})
	enricher := service.NewRowEnricher(gateway, ipaddr.Validator{}, classifier.New(classifier.DefaultKeywords))
	pipeline := service.NewPipeline(store, objects, enricher, service.PipelineConfig{
		Checkpoint: service.CheckpointConfig{BatchSize: 100, MaxPendingRows: 1000},
		TempDir:    t.TempDir(),
	})
	jobs := service.NewJobService(store, objects, pipeline, enricher, service.JobServiceConfig{MaxConcurrentJobs: 2})

	router := SetupRouter(jobs, func(ctx context.Context) error {
		_, err := store.ListJobs(ctx, nil, 1, 0)
		return err
	}, &config.ServerConfig{
		Mode:        "test",
		MaxUploadMB: 1,
		CORS:        config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}},
	})
	return &testServer{router: router, jobs: jobs}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func uploadRequest(t *testing.T, fields map[string]string, fileName, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/api/v1/health"} {
		w := s.get(path)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, w.Code)
		}
		if w.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s: missing request id header", path)
		}
	}
}

func TestLookup(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		path    string
		status  int
		success bool
	}{
		{name: "valid", path: "/api/v1/lookup/8.8.8.8", status: http.StatusOK, success: true},
		{name: "flags", path: "/api/v1/lookup/8.8.8.8?include_geolocation=false", status: http.StatusOK, success: true},
		{name: "invalid address", path: "/api/v1/lookup/999.999.999.999", status: http.StatusBadRequest},
		{name: "bad flag", path: "/api/v1/lookup/8.8.8.8?include_domain=maybe", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.get(tt.path)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var outcome domain.EnrichmentOutcome
			decode(t, w, &outcome)
			if outcome.Success != tt.success {
				t.Errorf("success = %v", outcome.Success)
			}
		})
	}

	w := s.get("/api/v1/lookup/8.8.8.8?include_geolocation=false")
	var outcome domain.EnrichmentOutcome
	decode(t, w, &outcome)
	if outcome.Geolocation != nil || outcome.Network == nil {
		t.Errorf("flags not honored: %+v", outcome)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := newTestServer(t)
	content := "name,ip\nalpha,8.8.8.8\nbeta,73.1.2.3\ngamma,not-an-ip\n"

	w := s.do(uploadRequest(t, map[string]string{"ip_column": "ip", "include_domain": "false"}, "ips.csv", content))
	if w.Code != http.StatusAccepted {
		t.Fatalf("create: status = %d: %s", w.Code, w.Body.String())
	}
	var created domain.Job
	decode(t, w, &created)
	if created.ID == "" || created.Status != domain.JobStatusPending || created.IncludeDomain {
		t.Fatalf("unexpected created job: %+v", created)
	}

	s.jobs.Wait()

	w = s.get("/api/v1/jobs/" + created.ID)
	var job domain.Job
	decode(t, w, &job)
	if job.Status != domain.JobStatusCompleted || job.ProcessedRows != 3 || job.FailedRows != 1 || job.FilteredRows != 1 {
		t.Fatalf("unexpected job: %+v", job)
	}

	w = s.get("/api/v1/jobs/" + created.ID + "/results?since=0&limit=2")
	var page service.ResultPage
	decode(t, w, &page)
	if len(page.Records) != 2 || page.Next != 2 {
		t.Errorf("results page: %d records, next %d", len(page.Records), page.Next)
	}

	w = s.get("/api/v1/jobs/" + created.ID + "/download?type=filtered")
	if w.Code != http.StatusOK {
		t.Fatalf("download: status = %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "filtered") {
		t.Errorf("Content-Disposition = %q", w.Header().Get("Content-Disposition"))
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "name,ip,country") || strings.Contains(body, "73.1.2.3") || !strings.Contains(body, "not-an-ip") {
		t.Errorf("unexpected filtered artifact:\n%s", body)
	}

	if w := s.get("/api/v1/jobs/" + created.ID + "/download?type=raw"); w.Code != http.StatusBadRequest {
		t.Errorf("unknown artifact type: status = %d", w.Code)
	}
	if w := s.get("/api/v1/jobs?status=completed"); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), created.ID) {
		t.Errorf("list: status = %d body = %s", w.Code, w.Body.String())
	}

	w = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+created.ID+"/cancel", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("cancel finished job: status = %d", w.Code)
	}

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+created.ID, nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d", w.Code)
	}
	if w := s.get("/api/v1/jobs/" + created.ID); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d", w.Code)
	}
}

func TestCreateJobRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		fields   map[string]string
		fileName string
		content  string
		status   int
	}{
		{name: "no file", fields: map[string]string{"ip_column": "ip"}, status: http.StatusBadRequest},
		{name: "no ip column", fileName: "a.csv", content: "ip\n1.1.1.1\n", status: http.StatusBadRequest},
		{name: "bad flag", fields: map[string]string{"ip_column": "ip", "include_network": "sometimes"}, fileName: "a.csv", content: "ip\n", status: http.StatusBadRequest},
		{name: "too large", fields: map[string]string{"ip_column": "ip"}, fileName: "a.csv", content: strings.Repeat("x", 2<<20), status: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(uploadRequest(t, tt.fields, tt.fileName, tt.content))
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestJobErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{name: "unknown job", method: http.MethodGet, path: "/api/v1/jobs/nope", status: http.StatusNotFound},
		{name: "unknown job results", method: http.MethodGet, path: "/api/v1/jobs/nope/results", status: http.StatusNotFound},
		{name: "unknown job download", method: http.MethodGet, path: "/api/v1/jobs/nope/download", status: http.StatusNotFound},
		{name: "unknown job cancel", method: http.MethodPost, path: "/api/v1/jobs/nope/cancel", status: http.StatusNotFound},
		{name: "unknown job delete", method: http.MethodDelete, path: "/api/v1/jobs/nope", status: http.StatusNotFound},
		{name: "bad since", method: http.MethodGet, path: "/api/v1/jobs/nope/results?since=x", status: http.StatusBadRequest},
		{name: "bad status filter", method: http.MethodGet, path: "/api/v1/jobs?status=done", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := s.do(req)
	if w.Code != http.StatusNoContent {
		t.Errorf("allowed origin: status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = s.do(req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got CORS header %q", got)
	}
}
