// Package installer materializes a manifest.Bundle into a target.Target,
// unpacking ZIP and TAR archives mounted at directory entries.
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ossyrian/bundlr/internal/manifest"
	"github.com/ossyrian/bundlr/internal/resource"
	"github.com/ossyrian/bundlr/internal/tararchive"
	"github.com/ossyrian/bundlr/internal/target"
	"github.com/ossyrian/bundlr/internal/ziparchive"
)

const (
	DefaultConcurrency   = 8
	DefaultBlobThreshold = 16384
)

// Event reports install progress for one manifest entry. Download is set
// while a resource is being fetched; Done is set once every write implied by
// Path has finished.
type Event struct {
	Path     string
	URI      string
	Download *resource.Progress
	Done     bool
}

// Installer writes manifest entries into a target, one entry at a time. It
// is not safe for concurrent use.
type Installer struct {
	target   target.Target
	logger   *slog.Logger
	observer func(Event)

	// links accumulates archive symlinks; Install starts it afresh.
	links linkSet

	concurrency   int
	blobThreshold int
	verbose       bool
	fastInflate   bool
	maxEntrySize  uint64
	maxTarSize    int64
}

// Option configures an Installer.
type Option func(*Installer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Installer) {
		in.logger = logger
	}
}

// WithObserver registers a callback receiving every Event. It is called
// synchronously from Install.
func WithObserver(fn func(Event)) Option {
	return func(in *Installer) {
		in.observer = fn
	}
}

// WithConcurrency bounds the number of ZIP entries installed at once.
func WithConcurrency(n int) Option {
	return func(in *Installer) {
		if n > 0 {
			in.concurrency = n
		}
	}
}

// WithBlobThreshold sets the size above which file content goes through
// Target.WriteBlob.
func WithBlobThreshold(n int) Option {
	return func(in *Installer) {
		if n >= 0 {
			in.blobThreshold = n
		}
	}
}

// WithVerbose logs a line per completed manifest entry.
func WithVerbose(v bool) Option {
	return func(in *Installer) {
		in.verbose = v
	}
}

// WithFastInflate toggles the fast deflate path of the ZIP reader.
func WithFastInflate(v bool) Option {
	return func(in *Installer) {
		in.fastInflate = v
	}
}

// WithMaxEntrySize caps the uncompressed size of a single ZIP entry.
func WithMaxEntrySize(n uint64) Option {
	return func(in *Installer) {
		in.maxEntrySize = n
	}
}

// WithMaxTarSize caps the decompressed size of a TAR stream.
func WithMaxTarSize(n int64) Option {
	return func(in *Installer) {
		in.maxTarSize = n
	}
}

// New returns an Installer writing into t.
func New(t target.Target, opts ...Option) *Installer {
	in := &Installer{
		target:        t,
		links:         linkSet{},
		logger:        slog.Default(),
		observer:      func(Event) {},
		concurrency:   DefaultConcurrency,
		blobThreshold: DefaultBlobThreshold,
		fastInflate:   true,
		maxEntrySize:  ziparchive.DefaultMaxEntrySize,
		maxTarSize:    tararchive.DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.observer == nil {
		in.observer = func(Event) {}
	}
	return in
}

// Install installs every entry of b in order. Each entry is finished,
// including its whole archive, before the next one starts. The first
// failure aborts the remaining entries.
func (in *Installer) Install(ctx context.Context, b manifest.Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	in.links = linkSet{}

	start := time.Now()
	for _, e := range b {
		uri := sourceURI(e.Source)
		in.observer(Event{Path: e.Path, URI: uri})

		n, err := in.installOne(ctx, e.Path, e.Source)
		if err != nil {
			return fmt.Errorf("failed to install %s: %w", e.Path, err)
		}

		in.observer(Event{Path: e.Path, URI: uri, Done: true})
		if in.verbose {
			in.logger.Info("wrote "+e.Path,
				"elapsed", time.Since(start).Round(time.Millisecond),
				"size", humanize.Bytes(uint64(n)),
			)
		}
	}
	return nil
}

// InstallOne installs a single manifest entry. Symlinks created by earlier
// InstallOne calls still guard its archive entries.
func (in *Installer) InstallOne(ctx context.Context, p string, src manifest.Source) error {
	_, err := in.installOne(ctx, p, src)
	return err
}

// installOne returns the number of content bytes written.
func (in *Installer) installOne(ctx context.Context, p string, src manifest.Source) (int64, error) {
	if !strings.HasSuffix(p, "/") {
		data, err := in.resolve(ctx, p, src)
		if err != nil {
			return 0, err
		}
		return int64(len(data)), in.writeFile(path.Clean(p), data)
	}

	root := path.Clean(p)
	switch src := src.(type) {
	case nil:
		return 0, in.target.MkdirAll(root)
	case manifest.Ref:
		data, err := in.fetch(ctx, p, src)
		if err != nil {
			return 0, err
		}
		if err := in.target.MkdirAll(root); err != nil {
			return 0, err
		}
		if IsZip(src.URI()) {
			return in.installZip(ctx, root, data)
		}
		return in.installTar(ctx, root, data)
	default:
		return 0, fmt.Errorf("directory entry %s needs an archive resource, got %T", p, src)
	}
}

// resolve turns a file entry's source into bytes.
func (in *Installer) resolve(ctx context.Context, p string, src manifest.Source) ([]byte, error) {
	switch src := src.(type) {
	case nil:
		return nil, nil
	case manifest.Text:
		return []byte(src), nil
	case manifest.Binary:
		return src, nil
	case manifest.Ref:
		return in.fetch(ctx, p, src)
	default:
		return nil, fmt.Errorf("unknown source %T", src)
	}
}

func (in *Installer) fetch(ctx context.Context, p string, ref manifest.Ref) ([]byte, error) {
	if ref.Fetcher == nil {
		return nil, fmt.Errorf("entry %s references a resource without a fetcher", p)
	}
	uri := ref.URI()
	in.logger.Debug("fetching resource", "path", p, "uri", uri)
	return ref.FetchProgressive(ctx, func(progress resource.Progress) {
		in.observer(Event{Path: p, URI: uri, Download: &progress})
	})
}

// writeFile picks the storage tier by size after creating the parent.
func (in *Installer) writeFile(p string, data []byte) error {
	if err := in.target.MkdirAll(path.Dir(p)); err != nil {
		return err
	}
	if len(data) > in.blobThreshold {
		return in.target.WriteBlob(p, data)
	}
	return in.target.WriteFile(p, data)
}

// symlink never creates a directory at p itself, only its parent.
func (in *Installer) symlink(text, p string) error {
	if err := in.target.MkdirAll(path.Dir(p)); err != nil {
		return err
	}
	if err := in.target.Symlink(text, p); err != nil {
		return fmt.Errorf("failed to link %s: %w", p, err)
	}
	return nil
}

// IsZip reports whether the resource's path ends in .zip, ignoring any
// query or fragment.
func IsZip(uri string) bool {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.HasSuffix(strings.ToLower(p), ".zip")
}

func sourceURI(src manifest.Source) string {
	if ref, ok := src.(manifest.Ref); ok && ref.Fetcher != nil {
		return ref.URI()
	}
	return ""
}
