package resource

import "context"

// Prefetched serves a payload that has already been downloaded, so that
// download time and install time can be decoupled.
type Prefetched struct {
	uri  string
	data []byte
}

// NewPrefetched wraps data that was obtained from uri.
func NewPrefetched(uri string, data []byte) *Prefetched {
	return &Prefetched{uri: uri, data: data}
}

// Prefetch downloads f now and returns a Prefetched holding the bytes.
func Prefetch(ctx context.Context, f Fetcher, onProgress func(Progress)) (*Prefetched, error) {
	data, err := f.FetchProgressive(ctx, onProgress)
	if err != nil {
		return nil, err
	}
	return NewPrefetched(f.URI(), data), nil
}

func (p *Prefetched) URI() string {
	return p.uri
}

func (p *Prefetched) FetchAll(context.Context) ([]byte, error) {
	return p.data, nil
}

// FetchProgressive reports a single, complete progress step.
func (p *Prefetched) FetchProgressive(_ context.Context, onProgress func(Progress)) ([]byte, error) {
	if onProgress != nil {
		n := int64(len(p.data))
		onProgress(Progress{Total: n, Downloaded: n})
	}
	return p.data, nil
}
