package installer_test

import (
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/ossyrian/bundlr/internal/target"
)

// recorder is an in-memory Target that logs every call.
type recorder struct {
	mu     sync.Mutex
	log    []string
	dirs   map[string]bool
	files  map[string][]byte
	blobs  map[string]bool
	links  map[string]string
	delays map[string]time.Duration

	noSymlinks bool
}

func newRecorder() *recorder {
	return &recorder{
		dirs:   map[string]bool{"/": true},
		files:  map[string][]byte{},
		blobs:  map[string]bool{},
		links:  map[string]string{},
		delays: map[string]time.Duration{},
	}
}

func (r *recorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, fmt.Sprintf(format, args...))
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) MkdirAll(p string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for d := p; ; d = path.Dir(d) {
		if _, ok := r.files[d]; ok {
			return fmt.Errorf("mkdir %s: file exists", d)
		}
		r.dirs[d] = true
		if d == "/" || d == "." {
			break
		}
	}
	return nil
}

func (r *recorder) write(p string, data []byte, blob bool) error {
	r.record("begin %s", p)
	if d := r.delays[p]; d > 0 {
		time.Sleep(d)
	}

	r.mu.Lock()
	if !r.dirs[path.Dir(p)] {
		r.mu.Unlock()
		return fmt.Errorf("write %s: parent does not exist", p)
	}
	r.files[p] = append([]byte(nil), data...)
	r.blobs[p] = blob
	delete(r.links, p)
	r.mu.Unlock()

	r.record("end %s", p)
	return nil
}

func (r *recorder) WriteFile(p string, data []byte) error {
	return r.write(p, data, false)
}

func (r *recorder) WriteBlob(p string, data []byte) error {
	return r.write(p, data, true)
}

func (r *recorder) Symlink(text, link string) error {
	if r.noSymlinks {
		return fmt.Errorf("symlink %s: %w", link, target.ErrUnsupportedOperation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirs[path.Dir(link)] {
		return errors.New("symlink parent does not exist")
	}
	if r.dirs[link] {
		return errors.New("directory in the way")
	}
	delete(r.files, link)
	r.links[link] = text
	return nil
}
