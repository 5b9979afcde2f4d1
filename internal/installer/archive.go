package installer

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/ossyrian/bundlr/internal/tararchive"
	"github.com/ossyrian/bundlr/internal/types"
	"github.com/ossyrian/bundlr/internal/ziparchive"
)

// entryPath joins an archive-internal name onto the mount root. Leading
// slashes are dropped; names that climb out of root are rejected.
func entryPath(root, name string) (string, error) {
	rel := path.Clean(strings.TrimLeft(name, "/"))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: entry %q escapes %s", types.ErrArchiveFormat, name, root)
	}
	if rel == "." {
		return root, nil
	}
	return path.Join(root, rel), nil
}

// linkSet holds the symlinks archives have created during one Install call.
// No later archive entry may be written through or over one of them, whichever
// archive it comes from.
type linkSet map[string]struct{}

func (s linkSet) check(p string, kind types.Kind) error {
	if _, ok := s[p]; ok && kind != types.KindSymlink {
		return fmt.Errorf("%w: %s would be written over an installed symlink", types.ErrArchiveFormat, p)
	}
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if _, ok := s[dir]; ok {
			return fmt.Errorf("%w: %s lies beneath symlink %s", types.ErrArchiveFormat, p, dir)
		}
	}
	return nil
}

type zipEntry struct {
	dest string
	file *ziparchive.File
}

// installZip installs all entries of a ZIP archive with bounded fan-out and
// returns once every entry is written.
func (in *Installer) installZip(ctx context.Context, root string, data []byte) (int64, error) {
	zr, err := ziparchive.NewReader(data,
		ziparchive.WithLogger(in.logger),
		ziparchive.WithFastInflate(in.fastInflate),
		ziparchive.WithMaxEntrySize(in.maxEntrySize),
	)
	if err != nil {
		return 0, err
	}

	// Resolve every path up front so a bad entry fails before anything is
	// written.
	entries := make([]zipEntry, 0, len(zr.Files))
	for _, f := range zr.Files {
		dest, err := entryPath(root, f.Name)
		if err != nil {
			return 0, err
		}
		if f.Kind() == types.KindSymlink {
			in.links[dest] = struct{}{}
		}
		entries = append(entries, zipEntry{dest: dest, file: f})
	}
	for _, e := range entries {
		if err := in.links.check(e.dest, e.file.Kind()); err != nil {
			return 0, err
		}
	}

	var written atomic.Int64
	p := pool.New().
		WithMaxGoroutines(in.concurrency).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for _, e := range entries {
		e := e // per-iteration copy; go.mod targets go1.21 loop semantics
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := in.installZipEntry(e)
			written.Add(n)
			return err
		})
	}
	err = p.Wait()
	return written.Load(), err
}

func (in *Installer) installZipEntry(e zipEntry) (int64, error) {
	switch e.file.Kind() {
	case types.KindDirectory:
		return 0, in.target.MkdirAll(e.dest)
	case types.KindSymlink:
		text, err := e.file.Text()
		if err != nil {
			return 0, err
		}
		return 0, in.symlink(text, e.dest)
	case types.KindFile:
		data, err := e.file.Bytes()
		if err != nil {
			return 0, err
		}
		return int64(len(data)), in.writeFile(e.dest, data)
	default:
		in.logger.Warn("skipping zip entry", "name", e.file.Name, "error", types.ErrUnsupportedEntryType)
		return 0, nil
	}
}

// installTar installs a TAR archive entry by entry in stream order. Each
// entry is acknowledged only after its write returns.
func (in *Installer) installTar(ctx context.Context, root string, data []byte) (int64, error) {
	payload, comp, err := tararchive.Decompress(data, in.maxTarSize)
	if err != nil {
		return 0, err
	}
	if comp != tararchive.Uncompressed {
		in.logger.Debug("decompressed tar stream",
			"compression", comp.String(),
			"compressed", len(data),
			"size", len(payload),
		)
	}

	var written int64
	stream := tararchive.NewReader(payload, in.logger).Stream(ctx)
	err = stream.Walk(func(e *tararchive.Entry) error {
		if e.Kind == types.KindUnsupported {
			in.logger.Warn("skipping tar entry",
				"name", e.Name,
				"type", e.Describe(),
				"error", types.ErrUnsupportedEntryType,
			)
			return nil
		}

		dest, err := entryPath(root, e.Name)
		if err != nil {
			return err
		}
		if err := in.links.check(dest, e.Kind); err != nil {
			return err
		}

		switch e.Kind {
		case types.KindDirectory:
			return in.target.MkdirAll(dest)
		case types.KindSymlink:
			if err := in.symlink(e.Linkname, dest); err != nil {
				return err
			}
			in.links[dest] = struct{}{}
			return nil
		case types.KindFile:
			written += int64(len(e.Data))
			return in.writeFile(dest, e.Data)
		default:
			return fmt.Errorf("%w: %s has kind %s", types.ErrUnsupportedEntryType, e.Name, e.Kind)
		}
	})
	return written, err
}
