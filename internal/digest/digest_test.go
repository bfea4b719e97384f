package digest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/classify"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/config"
)

func testPayload() *classify.DigestPayload {
	return &classify.DigestPayload{
		YachtID:     "serenity",
		Filename:    "main_panel.pdf",
		SystemPath:  "02_Engineering/Electrical/Schematics",
		Directories: []string{"02_Engineering", "Electrical", "Schematics"},
		DocType:     "schematic",
		SystemTag:   "electrical",
		Source:      "onedrive",
	}
}

func TestSignature(t *testing.T) {
	c := NewClient(&config.DigestConfig{URL: "http://digest.local", Salt: "pepper"})

	sum := sha256.Sum256([]byte("serenity" + "pepper"))
	if got, want := c.Signature("serenity"), hex.EncodeToString(sum[:]); got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}

	if c.Signature("serenity") != c.Signature("serenity") {
		t.Error("signature not deterministic")
	}
	if c.Signature("serenity") == c.Signature("odyssey") {
		t.Error("different yachts produced the same signature")
	}

	// yacht id comes first in the hash input: sha256("ab"+"c") == sha256("a"+"bc")
	c1 := NewClient(&config.DigestConfig{URL: "http://digest.local", Salt: "c"})
	c2 := NewClient(&config.DigestConfig{URL: "http://digest.local", Salt: "bc"})
	if c1.Signature("ab") != c2.Signature("a") {
		t.Error("signature input is not yacht_id followed by salt")
	}
}

func TestNotify(t *testing.T) {
	var gotYachtID, gotSignature string
	var gotData classify.DigestPayload
	var gotFile []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook/ingest-docs-nas-cloud" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotYachtID = r.Header.Get("X-Yacht-ID")
		gotSignature = r.Header.Get("X-Yacht-Signature")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if err := json.Unmarshal([]byte(r.FormValue("data")), &gotData); err != nil {
			t.Fatalf("unmarshal data field: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "main_panel.pdf" {
			t.Errorf("file part name = %q", hdr.Filename)
		}
		gotFile, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"doc_id":"5aab3c9e-1fd2-48c6-9b5e-0a3d26c7c111"}`)
	}))
	defer srv.Close()

	c := NewClient(&config.DigestConfig{URL: srv.URL, Salt: "pepper"})
	docID, err := c.Notify(context.Background(), testPayload(), bytes.NewReader([]byte("pdf bytes")))
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if docID == nil || docID.String() != "5aab3c9e-1fd2-48c6-9b5e-0a3d26c7c111" {
		t.Errorf("docID = %v, want 5aab3c9e-1fd2-48c6-9b5e-0a3d26c7c111", docID)
	}

	if gotYachtID != "serenity" {
		t.Errorf("X-Yacht-ID = %q", gotYachtID)
	}
	if gotSignature != c.Signature("serenity") {
		t.Errorf("X-Yacht-Signature = %q, want %q", gotSignature, c.Signature("serenity"))
	}
	if gotData.DocType != "schematic" || gotData.SystemTag != "electrical" || gotData.Source != "onedrive" {
		t.Errorf("data payload = %+v", gotData)
	}
	if string(gotFile) != "pdf bytes" {
		t.Errorf("file content = %q", gotFile)
	}
}

func TestNotify_NoDocID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"accepted"}`)
	}))
	defer srv.Close()

	c := NewClient(&config.DigestConfig{URL: srv.URL, Salt: "pepper"})
	docID, err := c.Notify(context.Background(), testPayload(), strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if docID != nil {
		t.Errorf("docID = %v, want nil", docID)
	}
}

func TestNotify_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"detail":"signature mismatch"}`)
	}))
	defer srv.Close()

	c := NewClient(&config.DigestConfig{URL: srv.URL, Salt: "pepper"})
	_, err := c.Notify(context.Background(), testPayload(), strings.NewReader("x"))
	if err == nil {
		t.Fatal("Notify succeeded, want error on non-200")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Errorf("error %q does not mention status", err)
	}
}
