package tararchive_test

import (
	"archive/tar"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ossyrian/bundlr/internal/tararchive"
	"github.com/ossyrian/bundlr/internal/types"
)

func TestStream_WaitsForDone(t *testing.T) {
	data := buildTar(t, tar.FormatUSTAR,
		tarEntry{name: "first", typeflag: tar.TypeReg, body: "1"},
		tarEntry{name: "second", typeflag: tar.TypeReg, body: "2"},
	)
	// Corrupt the second header: if the parser ran ahead it would fail and
	// close the channel before the first entry is acknowledged.
	data[1024] ^= 0xff

	s := tararchive.NewReader(data, quietLogger()).Stream(context.Background())
	defer s.Close()

	first, ok := <-s.Entries()
	if !ok {
		t.Fatalf("stream closed early: %v", s.Err())
	}
	if first.Name != "first" {
		t.Fatalf("first entry = %q, want %q", first.Name, "first")
	}

	select {
	case _, ok := <-s.Entries():
		t.Fatalf("stream advanced before Done (received=%v)", ok)
	case <-time.After(50 * time.Millisecond):
	}

	first.Done()
	first.Done() // idempotent

	if _, ok := <-s.Entries(); ok {
		t.Fatal("expected the stream to close on the corrupt header")
	}
	if err := s.Err(); !errors.Is(err, types.ErrArchiveFormat) {
		t.Errorf("Err() = %v, want ErrArchiveFormat", err)
	}
}

func TestStream_Walk(t *testing.T) {
	data := buildTar(t, tar.FormatUSTAR,
		tarEntry{name: "dirA/", typeflag: tar.TypeDir},
		tarEntry{name: "dirA/file1", typeflag: tar.TypeReg, body: "one"},
		tarEntry{name: "dirA/file2", typeflag: tar.TypeReg, body: "two"},
	)

	var names []string
	err := tararchive.NewReader(data, quietLogger()).Stream(context.Background()).Walk(func(e *tararchive.Entry) error {
		names = append(names, e.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() failed: %v", err)
	}
	want := []string{"dirA/", "dirA/file1", "dirA/file2"}
	if len(names) != len(want) {
		t.Fatalf("Walk() visited %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestStream_WalkStopsOnError(t *testing.T) {
	data := buildTar(t, tar.FormatUSTAR,
		tarEntry{name: "a", typeflag: tar.TypeReg, body: "a"},
		tarEntry{name: "b", typeflag: tar.TypeReg, body: "b"},
	)
	boom := errors.New("boom")

	calls := 0
	err := tararchive.NewReader(data, quietLogger()).Stream(context.Background()).Walk(func(*tararchive.Entry) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Walk() error = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}

func TestStream_Cancel(t *testing.T) {
	data := buildTar(t, tar.FormatUSTAR, tarEntry{name: "a", typeflag: tar.TypeReg, body: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	s := tararchive.NewReader(data, quietLogger()).Stream(ctx)
	e := <-s.Entries()
	if e == nil {
		t.Fatal("expected an entry")
	}
	cancel()

	for range s.Entries() {
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", s.Err())
	}
}
