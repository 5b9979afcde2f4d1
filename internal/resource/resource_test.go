package resource_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/ossyrian/bundlr/internal/resource"
)

func TestResource_FetchAll(t *testing.T) {
	payload := bytes.Repeat([]byte("abc"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write(payload)
		case "/missing":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "ok", path: "/ok"},
		{name: "not found", path: "/missing", wantStatus: http.StatusNotFound},
		{name: "server error", path: "/broken", wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resource.New(srv.URL + tt.path).FetchAll(context.Background())
			if tt.wantStatus != 0 {
				var fe *resource.FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("FetchAll() error = %v, want *FetchError", err)
				}
				if fe.StatusCode != tt.wantStatus {
					t.Errorf("StatusCode = %d, want %d", fe.StatusCode, tt.wantStatus)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchAll() failed: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("FetchAll() returned %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}

func TestResource_FetchProgressive(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096) // 64 KiB

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sized" {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			w.Write(payload)
			return
		}
		// Flushing before the end forces chunked encoding, so no length.
		half := len(payload) / 2
		w.Write(payload[:half])
		w.(http.Flusher).Flush()
		w.Write(payload[half:])
	}))
	defer srv.Close()

	tests := []struct {
		name      string
		path      string
		wantTotal int64
	}{
		{name: "known total", path: "/sized", wantTotal: int64(len(payload))},
		{name: "unknown total", path: "/chunked", wantTotal: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []resource.Progress
			got, err := resource.New(srv.URL+tt.path, resource.WithChunkSize(4096)).
				FetchProgressive(context.Background(), func(p resource.Progress) {
					events = append(events, p)
				})
			if err != nil {
				t.Fatalf("FetchProgressive() failed: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("FetchProgressive() returned %d bytes, want %d", len(got), len(payload))
			}
			if len(events) < 2 {
				t.Fatalf("got %d progress events, want several", len(events))
			}

			var last int64
			for i, p := range events {
				if p.Downloaded < last {
					t.Errorf("event %d: downloaded went backwards (%d < %d)", i, p.Downloaded, last)
				}
				if p.Total != tt.wantTotal {
					t.Errorf("event %d: total = %d, want %d", i, p.Total, tt.wantTotal)
				}
				last = p.Downloaded
			}
			if last != int64(len(payload)) {
				t.Errorf("final downloaded = %d, want %d", last, len(payload))
			}
			if got := events[0].Known(); got != (tt.wantTotal >= 0) {
				t.Errorf("Known() = %v for total %d", got, tt.wantTotal)
			}
		})
	}
}

func TestResource_LocalFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pkg.tar"), []byte("local bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		uri     string
		opts    []resource.Option
		wantErr bool
	}{
		{name: "relative to base dir", uri: "pkg.tar", opts: []resource.Option{resource.WithBaseDir(dir)}},
		{name: "absolute path", uri: filepath.Join(dir, "pkg.tar")},
		{name: "file url", uri: "file://" + filepath.ToSlash(filepath.Join(dir, "pkg.tar"))},
		{name: "missing file", uri: filepath.Join(dir, "nope.tar"), wantErr: true},
		{name: "directory", uri: dir, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []resource.Progress
			got, err := resource.New(tt.uri, tt.opts...).FetchProgressive(context.Background(), func(p resource.Progress) {
				events = append(events, p)
			})
			if tt.wantErr {
				var fe *resource.FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("FetchProgressive() error = %v, want *FetchError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchProgressive() failed: %v", err)
			}
			if string(got) != "local bytes" {
				t.Errorf("got %q", got)
			}
			if n := len(events); n == 0 || events[n-1].Downloaded != events[n-1].Total {
				t.Errorf("final progress = %+v, want complete", events)
			}
		})
	}
}

func TestPrefetch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	if err := os.WriteFile(path, []byte("prefetched"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := resource.Prefetch(context.Background(), resource.New(path), nil)
	if err != nil {
		t.Fatalf("Prefetch() failed: %v", err)
	}
	// The source can vanish; the payload is already held.
	os.Remove(path)

	got, err := p.FetchAll(context.Background())
	if err != nil || string(got) != "prefetched" {
		t.Fatalf("FetchAll() = %q, %v", got, err)
	}
	if p.URI() != path {
		t.Errorf("URI() = %q, want %q", p.URI(), path)
	}

	var last resource.Progress
	if _, err := p.FetchProgressive(context.Background(), func(pr resource.Progress) { last = pr }); err != nil {
		t.Fatal(err)
	}
	if last.Total != 10 || last.Downloaded != 10 {
		t.Errorf("progress = %+v, want 10/10", last)
	}
}

func TestResource_UntrustedLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lying":
			w.Header().Set("Content-Length", "100000000000000")
			w.Write([]byte("tiny"))
		case "/announced":
			w.Header().Set("Content-Length", "1000")
			w.Write(bytes.Repeat([]byte("x"), 1000))
		default:
			// chunked, so the limit is only hit while reading
			w.Write(bytes.Repeat([]byte("x"), 600))
			w.(http.Flusher).Flush()
			w.Write(bytes.Repeat([]byte("x"), 600))
		}
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		path    string
		maxSize int64
		errMsg  string
	}{
		{name: "length larger than body", path: "/lying"},
		{name: "announced length over limit", path: "/announced", maxSize: 10, errMsg: "announced size 1000"},
		{name: "streamed body over limit", path: "/chunked", maxSize: 1000, errMsg: "exceeds the 1000 byte limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := resource.New(srv.URL+tt.path, resource.WithMaxSize(tt.maxSize))
			_, err := res.FetchProgressive(context.Background(), nil)

			var fe *resource.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("FetchProgressive() error = %v, want *FetchError", err)
			}
			if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.errMsg)
			}
		})
	}
}
