package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/config"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name       string
		yachtID    string
		systemPath string
		filename   string
		want       string
	}{
		{
			name:       "nested path",
			yachtID:    "serenity",
			systemPath: "02_Engineering/Electrical/Schematics",
			filename:   "main_panel.pdf",
			want:       "serenity/02_Engineering/Electrical/Schematics/main_panel.pdf",
		},
		{
			name:       "root file",
			yachtID:    "serenity",
			systemPath: "general",
			filename:   "notes.txt",
			want:       "serenity/general/notes.txt",
		},
		{
			name:       "slashes trimmed",
			yachtID:    "serenity",
			systemPath: "/04_Manuals/",
			filename:   "engine.pdf",
			want:       "serenity/04_Manuals/engine.pdf",
		},
		{
			name:       "empty system path",
			yachtID:    "serenity",
			systemPath: "",
			filename:   "readme.md",
			want:       "serenity/readme.md",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ObjectKey(tt.yachtID, tt.systemPath, tt.filename); got != tt.want {
				t.Errorf("ObjectKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

// fakeS3 is a minimal in-memory S3 endpoint covering the calls the Store
// makes: HEAD bucket, PUT bucket, and PUT object with If-None-Match.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodHead && !strings.Contains(path, "/"):
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && !strings.Contains(path, "/"):
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		f.puts++
		key := path[strings.Index(path, "/")+1:]
		if r.Header.Get("If-None-Match") == "*" {
			if _, exists := f.objects[key]; exists {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
		}
		buf := &bytes.Buffer{}
		if _, err := buf.ReadFrom(r.Body); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = buf.Bytes()
		w.Header().Set("ETag", `"etag-1"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func testStore(t *testing.T, f *fakeS3) *Store {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	s, err := NewStore(&config.StorageConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "test-access",
		SecretKey: "test-secret",
		Bucket:    "yacht-documents",
		Region:    "us-east-1",
		UseSSL:    false,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestUpload_CreatesNewObject(t *testing.T) {
	f := newFakeS3()
	s := testStore(t, f)

	content := []byte("pdf bytes")
	res, err := s.Upload(context.Background(), "serenity/04_Manuals/engine.pdf",
		bytes.NewReader(content), int64(len(content)), "application/pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !res.Created {
		t.Error("Created = false, want true for new object")
	}
	if _, ok := f.objects["serenity/04_Manuals/engine.pdf"]; !ok {
		t.Error("object not stored under expected key")
	}
	if f.puts != 1 {
		t.Errorf("puts = %d, want 1", f.puts)
	}
}

func TestUpload_OverwritesExistingObject(t *testing.T) {
	f := newFakeS3()
	f.objects["serenity/04_Manuals/engine.pdf"] = []byte("old bytes")
	s := testStore(t, f)

	content := []byte("new bytes")
	res, err := s.Upload(context.Background(), "serenity/04_Manuals/engine.pdf",
		bytes.NewReader(content), int64(len(content)), "application/pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Created {
		t.Error("Created = true, want false for existing object")
	}
	// First PUT hits the If-None-Match guard, second overwrites in place.
	if f.puts != 2 {
		t.Errorf("puts = %d, want 2", f.puts)
	}
}

func TestEnsureBucket_Existing(t *testing.T) {
	f := newFakeS3()
	s := testStore(t, f)

	if err := s.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
}
