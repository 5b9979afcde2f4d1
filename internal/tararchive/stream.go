package tararchive

import (
	"context"
	"errors"
	"io"
)

// Stream delivers entries one at a time. The parser goroutine blocks after
// handing out an entry until that entry's Done is called, so at most one
// entry is ever in flight.
type Stream struct {
	entries chan *Entry
	cancel  context.CancelFunc
	err     error
}

// Stream starts parsing r in a background goroutine.
func (r *Reader) Stream(ctx context.Context) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		entries: make(chan *Entry),
		cancel:  cancel,
	}
	go s.run(ctx, r)
	return s
}

func (s *Stream) run(ctx context.Context, r *Reader) {
	defer close(s.entries)

	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.err = err
			return
		}

		e.ack = make(chan struct{})
		select {
		case s.entries <- e:
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		}

		select {
		case <-e.ack:
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		}
	}
}

// Entries returns the channel of parsed entries. It is closed after the last
// entry has been acknowledged or when parsing fails.
func (s *Stream) Entries() <-chan *Entry {
	return s.entries
}

// Err reports the terminal parse error, if any. It must only be called once
// Entries has been closed.
func (s *Stream) Err() error {
	return s.err
}

// Close stops the parser and waits for it to exit.
func (s *Stream) Close() {
	s.cancel()
	for range s.entries {
	}
}

// Walk feeds every entry to fn in stream order, acknowledging each entry only
// after fn returns. The first error from fn or from parsing stops the walk.
func (s *Stream) Walk(fn func(*Entry) error) error {
	defer s.Close()

	for e := range s.entries {
		err := fn(e)
		e.Done()
		if err != nil {
			return err
		}
	}
	return s.err
}
