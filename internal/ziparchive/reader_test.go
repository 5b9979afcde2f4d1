package ziparchive_test

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/ossyrian/bundlr/internal/types"
	"github.com/ossyrian/bundlr/internal/ziparchive"
)

type zipEntry struct {
	name   string
	body   string
	mode   os.FileMode
	method uint16
}

// buildZip creates an archive with the stdlib writer so the reader is
// exercised against an independent encoder.
func buildZip(t *testing.T, comment string, entries ...zipEntry) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: e.method}
		if e.mode != 0 {
			hdr.SetMode(e.mode)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("CreateHeader(%s) failed: %v", e.name, err)
		}
		if _, err := io.WriteString(w, e.body); err != nil {
			t.Fatalf("writing %s failed: %v", e.name, err)
		}
	}
	if comment != "" {
		if err := zw.SetComment(comment); err != nil {
			t.Fatalf("SetComment failed: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return buf.Bytes()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewReader_Entries(t *testing.T) {
	data := buildZip(t, "bundle comment",
		zipEntry{name: "bin/", mode: os.ModeDir | 0o755},
		zipEntry{name: "bin/tool", body: "#!/bin/sh\necho hi\n", mode: 0o755, method: zip.Deflate},
		zipEntry{name: "README", body: "plain", method: zip.Store},
		zipEntry{name: "bin/link", body: "/target/path", mode: os.ModeSymlink | 0o777},
	)

	r, err := ziparchive.NewReader(data, ziparchive.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewReader() failed: %v", err)
	}

	if r.Comment != "bundle comment" {
		t.Errorf("Comment = %q, want %q", r.Comment, "bundle comment")
	}

	want := []struct {
		name string
		kind types.Kind
		body string
	}{
		{"bin/", types.KindDirectory, ""},
		{"bin/tool", types.KindFile, "#!/bin/sh\necho hi\n"},
		{"README", types.KindFile, "plain"},
		{"bin/link", types.KindSymlink, "/target/path"},
	}
	if len(r.Files) != len(want) {
		t.Fatalf("got %d files, want %d", len(r.Files), len(want))
	}

	for i, w := range want {
		f := r.Files[i]
		if f.Name != w.name {
			t.Errorf("Files[%d].Name = %q, want %q", i, f.Name, w.name)
		}
		if got := f.Kind(); got != w.kind {
			t.Errorf("%s: Kind() = %v, want %v", f.Name, got, w.kind)
		}
		if w.kind == types.KindDirectory {
			continue
		}
		got, err := f.Bytes()
		if err != nil {
			t.Fatalf("%s: Bytes() failed: %v", f.Name, err)
		}
		if string(got) != w.body {
			t.Errorf("%s: Bytes() = %q, want %q", f.Name, got, w.body)
		}
	}

	if mode := r.Files[3].Mode(); mode != 0o120777 {
		t.Errorf("symlink Mode() = %o, want %o", mode, 0o120777)
	}
	target, err := r.Files[3].Text()
	if err != nil {
		t.Fatalf("Text() failed: %v", err)
	}
	if target != "/target/path" {
		t.Errorf("Text() = %q, want %q", target, "/target/path")
	}
}

func TestFile_FastInflateMatchesStdlib(t *testing.T) {
	body := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 2000)
	data := buildZip(t, "", zipEntry{name: "fox.txt", body: body, method: zip.Deflate})

	for _, fast := range []bool{true, false} {
		r, err := ziparchive.NewReader(data,
			ziparchive.WithLogger(quietLogger()),
			ziparchive.WithFastInflate(fast),
		)
		if err != nil {
			t.Fatalf("NewReader(fast=%v) failed: %v", fast, err)
		}
		got, err := r.Files[0].Bytes()
		if err != nil {
			t.Fatalf("Bytes(fast=%v) failed: %v", fast, err)
		}
		if string(got) != body {
			t.Errorf("Bytes(fast=%v) returned %d bytes that differ from the input", fast, len(got))
		}
	}
}

func TestNewReader_Malformed(t *testing.T) {
	valid := buildZip(t, "", zipEntry{name: "a.txt", body: "hello", method: zip.Store})

	truncatedDir := func() []byte {
		// drop the central directory but keep the end record
		end := bytes.LastIndex(valid, []byte{0x50, 0x4b, 0x05, 0x06})
		cd := bytes.Index(valid, []byte{0x50, 0x4b, 0x01, 0x02})
		out := append([]byte{}, valid[:cd]...)
		return append(out, valid[end:]...)
	}()

	tests := []struct {
		name   string
		input  []byte
		errMsg string
	}{
		{name: "empty input", input: []byte{}, errMsg: "too short"},
		{name: "not a zip", input: bytes.Repeat([]byte("tar?"), 64), errMsg: "end of central directory record not found"},
		{name: "missing central directory", input: truncatedDir, errMsg: "overlaps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ziparchive.NewReader(tt.input, ziparchive.WithLogger(quietLogger()))
			if err == nil {
				t.Fatal("NewReader() succeeded unexpectedly, wanted error")
			}
			if !errors.Is(err, types.ErrArchiveFormat) {
				t.Errorf("NewReader() error = %v, want ErrArchiveFormat", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("NewReader() error = %v, should contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestFile_BytesRejectsCorruption(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(data []byte)
		opts   []ziparchive.Option
		errMsg string
	}{
		{
			name: "checksum mismatch",
			mutate: func(data []byte) {
				i := bytes.Index(data, []byte("payload-bytes"))
				data[i] ^= 0xff
			},
			errMsg: "checksum mismatch",
		},
		{
			name: "encrypted flag",
			mutate: func(data []byte) {
				cd := bytes.Index(data, []byte{0x50, 0x4b, 0x01, 0x02})
				data[cd+8] |= 0x1
			},
			errMsg: "encrypted",
		},
		{
			name: "bad local header",
			mutate: func(data []byte) {
				data[0] = 'X'
			},
			errMsg: "bad local file header signature",
		},
		{
			name:   "entry too large",
			mutate: func([]byte) {},
			opts:   []ziparchive.Option{ziparchive.WithMaxEntrySize(4)},
			errMsg: "exceeds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildZip(t, "", zipEntry{name: "a.bin", body: "payload-bytes", method: zip.Store})
			tt.mutate(data)

			opts := append([]ziparchive.Option{ziparchive.WithLogger(quietLogger())}, tt.opts...)
			r, err := ziparchive.NewReader(data, opts...)
			if err != nil {
				t.Fatalf("NewReader() failed: %v", err)
			}
			_, err = r.Files[0].Bytes()
			if err == nil {
				t.Fatal("Bytes() succeeded unexpectedly, wanted error")
			}
			if !errors.Is(err, types.ErrArchiveFormat) {
				t.Errorf("Bytes() error = %v, want ErrArchiveFormat", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Bytes() error = %v, should contain %q", err, tt.errMsg)
			}
		})
	}
}
