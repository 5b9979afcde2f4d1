package target

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	blobChunk = 1 << 20
)

// Afero implements Target on top of an afero filesystem.
type Afero struct {
	fs afero.Fs

	// root and host are set for host-backed targets. Every path is resolved
	// on the host with symlinks already on disk followed but clamped to root,
	// so relative link text stays relative and can never lead outside.
	root string
	host afero.Fs
}

// NewAfero returns a Target writing into fsys.
func NewAfero(fsys afero.Fs) *Afero {
	return &Afero{fs: fsys}
}

// NewOS returns a Target rooted at dir on the host filesystem. Absolute
// target paths, including absolute symlink targets, are resolved under dir,
// and so is any symlink met on the way to a write.
func NewOS(dir string) *Afero {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	host := afero.NewOsFs()
	return &Afero{
		fs:   afero.NewBasePathFs(host, dir),
		root: dir,
		host: host,
	}
}

// NewMemory returns a Target backed by an in-memory filesystem.
func NewMemory() *Afero {
	return NewAfero(afero.NewMemMapFs())
}

// Fs exposes the underlying filesystem for reading back installed content.
func (a *Afero) Fs() afero.Fs {
	return a.fs
}

// resolve maps path onto the filesystem a write goes to.
func (a *Afero) resolve(path string) (afero.Fs, string, error) {
	if a.host == nil {
		return a.fs, path, nil
	}
	p, err := securejoin.SecureJoin(a.root, filepath.FromSlash(path))
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return a.host, p, nil
}

// resolveLink is resolve for the link itself: only its parent is followed.
func (a *Afero) resolveLink(link string) (afero.Fs, string, error) {
	dir, name := path.Split(path.Clean(link))
	if name == "" || a.host == nil {
		return a.resolve(link)
	}
	fsys, p, err := a.resolve(dir)
	if err != nil {
		return nil, "", err
	}
	return fsys, filepath.Join(p, name), nil
}

func (a *Afero) MkdirAll(path string) error {
	fsys, p, err := a.resolve(path)
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(p, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

func (a *Afero) WriteFile(path string, data []byte) error {
	fsys, p, err := a.resolve(path)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fsys, p, data, filePerm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// WriteBlob streams data in fixed chunks instead of handing the whole slice
// to a single write call.
func (a *Afero) WriteBlob(path string, data []byte) error {
	fsys, p, err := a.resolve(path)
	if err != nil {
		return err
	}
	f, err := fsys.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create blob %s: %w", path, err)
	}
	if _, err := io.CopyBuffer(f, bytes.NewReader(data), make([]byte, blobChunk)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write blob %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close blob %s: %w", path, err)
	}
	return nil
}

func (a *Afero) Symlink(target, link string) error {
	fsys, p, err := a.resolveLink(link)
	if err != nil {
		return err
	}
	if a.host != nil && path.IsAbs(target) {
		target = filepath.Join(a.root, filepath.FromSlash(target))
	}

	linker, ok := fsys.(afero.Linker)
	if !ok {
		return fmt.Errorf("symlink %s -> %s: %w", link, target, ErrUnsupportedOperation)
	}
	if err := removeLink(fsys, p); err != nil {
		return err
	}

	if err := linker.SymlinkIfPossible(target, p); err != nil {
		if errors.Is(err, afero.ErrNoSymlink) {
			return fmt.Errorf("symlink %s -> %s: %w", link, target, ErrUnsupportedOperation)
		}
		return fmt.Errorf("failed to create symlink %s: %w", link, err)
	}
	return nil
}

// removeLink clears a previous non-directory entry so the last write wins.
func removeLink(fsys afero.Fs, link string) error {
	var (
		info fs.FileInfo
		err  error
	)
	if lst, ok := fsys.(afero.Lstater); ok {
		info, _, err = lst.LstatIfPossible(link)
	} else {
		info, err = fsys.Stat(link)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", link, err)
	}
	if info.IsDir() {
		return fmt.Errorf("failed to create symlink %s: a directory is in the way", link)
	}
	if err := fsys.Remove(link); err != nil {
		return fmt.Errorf("failed to replace %s: %w", link, err)
	}
	return nil
}

// ReadFile returns the content stored at path.
func (a *Afero) ReadFile(path string) ([]byte, error) {
	fsys, p, err := a.resolve(path)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(fsys, p)
}

// Readlink returns the link text at path as it was passed to Symlink.
func (a *Afero) Readlink(name string) (string, error) {
	fsys, link, err := a.resolveLink(name)
	if err != nil {
		return "", err
	}
	lr, ok := fsys.(afero.LinkReader)
	if !ok {
		return "", fmt.Errorf("readlink %s: %w", name, ErrUnsupportedOperation)
	}
	target, err := lr.ReadlinkIfPossible(link)
	if err != nil {
		return "", err
	}
	if a.host != nil && filepath.IsAbs(target) {
		if rel, err := filepath.Rel(a.root, target); err == nil && !strings.HasPrefix(rel, "..") {
			target = "/" + filepath.ToSlash(rel)
		}
	}
	return target, nil
}
