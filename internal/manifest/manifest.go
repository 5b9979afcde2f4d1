// Package manifest describes what to install where.
//
// A Bundle is an ordered list of target paths and content sources. Paths
// ending in "/" are directory entries: their source is either empty (just
// create the directory) or a resource holding an archive to unpack there.
// All other paths are single files.
package manifest

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/ossyrian/bundlr/internal/resource"
)

// Source is the content of one manifest entry: Text, Binary or Ref. A nil
// Source means "no content".
type Source interface {
	isSource()
}

// Text is inline text content.
type Text string

// Binary is inline binary content.
type Binary []byte

// Ref points at a remote or local resource.
type Ref struct {
	resource.Fetcher
}

func (Text) isSource()   {}
func (Binary) isSource() {}
func (Ref) isSource()    {}

// Entry maps one target path to its source.
type Entry struct {
	Path   string
	Source Source
}

// IsDir reports whether the entry installs into a directory.
func (e Entry) IsDir() bool {
	return strings.HasSuffix(e.Path, "/")
}

// Bundle is processed in order; a later entry for the same path overwrites
// an earlier one.
type Bundle []Entry

// Add appends an entry.
func (b *Bundle) Add(path string, src Source) {
	*b = append(*b, Entry{Path: path, Source: src})
}

// Paths lists the entry paths in order.
func (b Bundle) Paths() []string {
	return lo.Map(b, func(e Entry, _ int) string { return e.Path })
}

// Validate checks that every entry is installable.
func (b Bundle) Validate() error {
	for i, e := range b {
		if e.Path == "" {
			return fmt.Errorf("entry %d: empty path", i)
		}
		if ref, ok := e.Source.(Ref); ok && ref.Fetcher == nil {
			return fmt.Errorf("entry %s: resource reference without a fetcher", e.Path)
		}
		if !e.IsDir() {
			continue
		}
		switch e.Source.(type) {
		case nil, Ref:
		default:
			return fmt.Errorf("entry %s: a directory entry takes an archive resource or nothing", e.Path)
		}
	}
	return nil
}
