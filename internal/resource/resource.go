// Package resource fetches byte payloads identified by URI.
//
// Supported URIs are http(s) URLs, file:// URLs and plain filesystem paths.
// Resources are stateless: every fetch hits the source again.
package resource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultChunkSize = 32 << 10

	// maxPrealloc bounds the buffer reserved up front from an announced
	// length; the buffer still grows past it as data arrives.
	maxPrealloc = 16 << 20
)

// Progress reports a progressive fetch. Total is -1 when the source does not
// announce a length.
type Progress struct {
	Total      int64
	Downloaded int64
}

// Known reports whether the total length is known.
func (p Progress) Known() bool {
	return p.Total >= 0
}

// Fetcher is anything that can produce the bytes behind a URI.
type Fetcher interface {
	URI() string
	FetchAll(ctx context.Context) ([]byte, error)
	FetchProgressive(ctx context.Context, onProgress func(Progress)) ([]byte, error)
}

// FetchError reports a failure to retrieve a resource.
type FetchError struct {
	URI        string
	StatusCode int // non-zero for non-2xx HTTP responses
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d %s", e.URI, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetch %s: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Resource is a remote or local payload addressed by URI.
type Resource struct {
	uri       string
	client    *http.Client
	baseDir   string
	chunkSize int
	maxSize   int64
}

// Option configures a Resource.
type Option func(*Resource)

// WithHTTPClient sets the client used for http(s) URIs.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resource) {
		r.client = c
	}
}

// WithBaseDir resolves relative filesystem paths against dir.
func WithBaseDir(dir string) Option {
	return func(r *Resource) {
		r.baseDir = dir
	}
}

// WithChunkSize sets the read size of progressive fetches.
func WithChunkSize(n int) Option {
	return func(r *Resource) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithMaxSize fails fetches whose payload is larger than n bytes, whether
// announced up front or discovered while reading. Zero means no limit.
func WithMaxSize(n int64) Option {
	return func(r *Resource) {
		if n >= 0 {
			r.maxSize = n
		}
	}
}

// New returns a Resource for uri.
func New(uri string, opts ...Option) *Resource {
	r := &Resource{
		uri:       uri,
		client:    http.DefaultClient,
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// URI returns the resource identifier as given.
func (r *Resource) URI() string {
	return r.uri
}

// FetchAll retrieves the whole payload.
func (r *Resource) FetchAll(ctx context.Context) ([]byte, error) {
	return r.FetchProgressive(ctx, nil)
}

// FetchProgressive reads the payload chunk by chunk, calling onProgress after
// each chunk with the running byte count. At least one progress call is made.
func (r *Resource) FetchProgressive(ctx context.Context, onProgress func(Progress)) ([]byte, error) {
	body, total, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	if r.maxSize > 0 && total > r.maxSize {
		return nil, &FetchError{URI: r.uri, Err: fmt.Errorf("announced size %d exceeds the %d byte limit", total, r.maxSize)}
	}

	var data []byte
	if total > 0 {
		data = make([]byte, 0, min(total, maxPrealloc))
	}
	chunk := make([]byte, r.chunkSize)
	reported := false
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			data = append(data, chunk[:n]...)
			if r.maxSize > 0 && int64(len(data)) > r.maxSize {
				return nil, &FetchError{URI: r.uri, Err: fmt.Errorf("payload exceeds the %d byte limit", r.maxSize)}
			}
			onProgress(Progress{Total: total, Downloaded: int64(len(data))})
			reported = true
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FetchError{URI: r.uri, Err: err}
		}
	}

	if total >= 0 && int64(len(data)) != total {
		return nil, &FetchError{URI: r.uri, Err: fmt.Errorf("read %d bytes, expected %d", len(data), total)}
	}
	if !reported {
		onProgress(Progress{Total: total, Downloaded: 0})
	}
	return data, nil
}

// open returns the payload stream and its announced length (-1 if unknown).
func (r *Resource) open(ctx context.Context) (io.ReadCloser, int64, error) {
	u, err := url.Parse(r.uri)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return r.openHTTP(ctx)
		case "file":
			return r.openFile(u.Path)
		}
	}
	return r.openFile(r.uri)
}

func (r *Resource) openHTTP(ctx context.Context) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.uri, nil)
	if err != nil {
		return nil, 0, &FetchError{URI: r.uri, Err: err}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, &FetchError{URI: r.uri, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, 0, &FetchError{URI: r.uri, StatusCode: resp.StatusCode}
	}

	return resp.Body, resp.ContentLength, nil
}

func (r *Resource) openFile(path string) (io.ReadCloser, int64, error) {
	path = filepath.FromSlash(path)
	if !filepath.IsAbs(path) && r.baseDir != "" {
		path = filepath.Join(r.baseDir, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, &FetchError{URI: r.uri, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, &FetchError{URI: r.uri, Err: err}
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, &FetchError{URI: r.uri, Err: fmt.Errorf("%s is a directory", path)}
	}
	return f, info.Size(), nil
}
