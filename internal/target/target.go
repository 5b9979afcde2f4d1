// Package target defines the filesystem capability the installer writes into
// and provides an afero-backed implementation of it.
package target

import (
	"errors"
	"log/slog"
)

// ErrUnsupportedOperation is returned when a target cannot represent the
// requested object, such as a symlink on a filesystem without links.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// Target is the write/mkdir/symlink contract consumed by the installer.
// Paths are slash separated and absolute within the target.
type Target interface {
	// MkdirAll creates path and any missing parents. It succeeds when
	// path already is a directory.
	MkdirAll(path string) error
	// WriteFile replaces the content at path. The parent must exist.
	WriteFile(path string, data []byte) error
	// WriteBlob stores a large payload at path. It is observably
	// identical to WriteFile but may use a different storage strategy.
	WriteBlob(path string, data []byte) error
	// Symlink creates link pointing at target, replacing a previous
	// non-directory entry at link.
	Symlink(target, link string) error
}

type logged struct {
	next   Target
	logger *slog.Logger
}

// Logged wraps t so that every operation is logged at debug level.
func Logged(t Target, logger *slog.Logger) Target {
	return &logged{next: t, logger: logger}
}

func (l *logged) MkdirAll(path string) error {
	l.logger.Debug("mkdir", "path", path)
	return l.next.MkdirAll(path)
}

func (l *logged) WriteFile(path string, data []byte) error {
	l.logger.Debug("write file", "path", path, "size", len(data))
	return l.next.WriteFile(path, data)
}

func (l *logged) WriteBlob(path string, data []byte) error {
	l.logger.Debug("write blob", "path", path, "size", len(data))
	return l.next.WriteBlob(path, data)
}

func (l *logged) Symlink(target, link string) error {
	l.logger.Debug("symlink", "path", link, "target", target)
	return l.next.Symlink(target, link)
}
