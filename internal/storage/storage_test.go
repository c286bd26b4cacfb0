package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/timmy/ipenrich/internal/config"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureBucket(ctx); err != nil {
		t.Fatal(err)
	}

	body := "ip\n8.8.8.8\n"
	if err := s.Upload(ctx, "jobs/abc/enriched.csv", strings.NewReader(body), int64(len(body)), "text/csv"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	ok, err := s.Exists(ctx, "jobs/abc/enriched.csv")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}

	rc, err := s.Download(ctx, "jobs/abc/enriched.csv")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != body {
		t.Errorf("Download() = %q", got)
	}

	if err := s.Delete(ctx, "jobs/abc/enriched.csv"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "jobs/abc/enriched.csv"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
	if _, err := s.Download(ctx, "jobs/abc/enriched.csv"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Download() after delete error = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	s, _ := NewLocalStorage(t.TempDir())
	for _, key := range []string{"../outside", "a/../../outside", ""} {
		if err := s.Upload(context.Background(), key, strings.NewReader("x"), 1, "text/plain"); err == nil {
			t.Errorf("Upload(%q) should fail", key)
		}
	}
}

func TestNewStorageSelectsBackend(t *testing.T) {
	s, err := NewStorage(&config.StorageConfig{Type: "local", Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*LocalStorage); !ok {
		t.Errorf("expected *LocalStorage, got %T", s)
	}

	if _, err := NewStorage(&config.StorageConfig{Type: "ftp"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestDetectStorageType(t *testing.T) {
	tests := map[string]StorageType{
		"https://abc.r2.cloudflarestorage.com": StorageTypeR2,
		"s3.us-west-2.amazonaws.com":           StorageTypeS3,
		"localhost:9000":                       StorageTypeS3Compatible,
	}
	for endpoint, want := range tests {
		if got := detectStorageType(endpoint); got != want {
			t.Errorf("detectStorageType(%q) = %q, want %q", endpoint, got, want)
		}
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	if got := normalizeEndpoint("https://minio.local:9000/some/path"); got != "minio.local:9000" {
		t.Errorf("normalizeEndpoint() = %q", got)
	}
}
