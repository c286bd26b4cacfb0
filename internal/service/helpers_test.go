package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/timmy/ipenrich/internal/classifier"
	"github.com/timmy/ipenrich/internal/domain"
	"github.com/timmy/ipenrich/internal/ipaddr"
	"github.com/timmy/ipenrich/internal/lookup"
	"github.com/timmy/ipenrich/internal/repository"
	"github.com/timmy/ipenrich/internal/storage"
)

func strPtr(s string) *string { return &s }

// fakeGateway answers every address with a business network unless the
// address starts with "73." (a consumer ISP) or has a configured failure.
type fakeGateway struct {
	mu       sync.Mutex
	geoCalls int
	dnsCalls int
	failures map[string]error
	noPTR    map[string]bool
	onCall   func(n int)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failures: map[string]error{}, noPTR: map[string]bool{}}
}

func (g *fakeGateway) FetchGeoOrg(ctx context.Context, ip string) (*lookup.GeoOrg, error) {
	g.mu.Lock()
	g.geoCalls++
	n := g.geoCalls
	hook := g.onCall
	err := g.failures[ip]
	g.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(ip, "73.") {
		return &lookup.GeoOrg{
			Country: "United States", City: "Philadelphia", Region: "Pennsylvania",
			Latitude: 39.95, Longitude: -75.16,
			ISP: strPtr("Comcast Cable Communications, LLC"), Org: strPtr("Comcast Cable Communications"),
			ASN: "AS7922",
		}, nil
	}
	return &lookup.GeoOrg{
		Country: "United States", City: "Mountain View", Region: "California",
		Latitude: 37.386, Longitude: -122.0838,
		ISP: strPtr("Google LLC"), Org: strPtr("Google Public DNS"),
		ASN: "AS15169",
	}, nil
}

func (g *fakeGateway) ReverseDNS(ctx context.Context, ip string) *string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dnsCalls++
	if g.noPTR[ip] {
		return nil
	}
	return strPtr("host-" + strings.ReplaceAll(ip, ".", "-") + ".example.net")
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.geoCalls
}

func (g *fakeGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.geoCalls, g.dnsCalls = 0, 0
	g.onCall = nil
}

var errStoreDown = errors.New("store unavailable")

// spyStore records batch writes and job snapshots, and can refuse result
// writes after a number of successful batches.
type spyStore struct {
	*repository.MemoryJobStore

	mu          sync.Mutex
	batches     []int
	appendCalls int
	failAfter   int // successful batches before writes fail; -1 never
	failFirst   int // initial calls that fail
	snapshots   []domain.Job
}

func newSpyStore() *spyStore {
	return &spyStore{MemoryJobStore: repository.NewMemoryJobStore(), failAfter: -1}
}

func (s *spyStore) AppendResultBatch(ctx context.Context, jobID string, records []domain.ResultRecord) (int, error) {
	s.mu.Lock()
	s.appendCalls++
	call := s.appendCalls
	fail := call <= s.failFirst || (s.failAfter >= 0 && len(s.batches) >= s.failAfter)
	s.mu.Unlock()
	if fail {
		return 0, errStoreDown
	}

	n, err := s.MemoryJobStore.AppendResultBatch(ctx, jobID, records)
	if err == nil {
		s.mu.Lock()
		s.batches = append(s.batches, len(records))
		s.mu.Unlock()
	}
	return n, err
}

func (s *spyStore) UpdateJob(ctx context.Context, id string, update domain.JobUpdate) (*domain.Job, error) {
	job, err := s.MemoryJobStore.UpdateJob(ctx, id, update)
	if err == nil {
		s.mu.Lock()
		s.snapshots = append(s.snapshots, *job.Clone())
		s.mu.Unlock()
	}
	return job, err
}

func (s *spyStore) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

func (s *spyStore) jobSnapshots() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Job(nil), s.snapshots...)
}

type harness struct {
	store    *spyStore
	objects  *storage.LocalStorage
	gateway  *fakeGateway
	enricher *RowEnricher
	pipeline *Pipeline
}

func testCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{BatchSize: 100, MaxPendingRows: 10000, FlushRetries: 2, FlushBackoff: 0}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	objects, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := objects.EnsureBucket(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := &harness{
		store:   newSpyStore(),
		objects: objects,
		gateway: newFakeGateway(),
	}
	h.enricher = NewRowEnricher(h.gateway, ipaddr.Validator{}, classifier.New(classifier.DefaultKeywords))
	h.pipeline = NewPipeline(h.store, h.objects, h.enricher, PipelineConfig{
		Checkpoint: testCheckpointConfig(),
		TempDir:    t.TempDir(),
	})
	return h
}

// seedJob uploads content and creates a pending job for it.
func (h *harness) seedJob(t *testing.T, id, content string, opts domain.EnrichmentOptions) *domain.Job {
	t.Helper()
	ctx := context.Background()
	key := "uploads/" + id + "/input.csv"
	if err := h.objects.Upload(ctx, key, strings.NewReader(content), int64(len(content)), "text/csv"); err != nil {
		t.Fatal(err)
	}
	job := &domain.Job{
		ID:                id,
		SourceName:        "input.csv",
		SourceKey:         key,
		IPColumn:          "ip",
		EnrichmentOptions: opts,
	}
	if err := h.store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	stored, err := h.store.GetJob(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	return stored
}

func (h *harness) download(t *testing.T, key string) string {
	t.Helper()
	rc, err := h.objects.Download(context.Background(), key)
	if err != nil {
		t.Fatalf("download %s: %v", key, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// makeCSV builds an id,ip CSV with n rows using ipFor for each address.
func makeCSV(n int, ipFor func(i int) string) string {
	var b strings.Builder
	b.WriteString("id,ip\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d,%s\n", i, ipFor(i))
	}
	return b.String()
}

func publicIP(i int) string {
	return fmt.Sprintf("8.%d.%d.%d", i/65536%256, i/256%256, i%256)
}
