package installer

import (
	"bytes"
	"context"
	"io"
)

// memArchiver is an in-memory storage.Archiver fake for archive round-trip
// tests, avoiding a dependency on the filesystem or S3 backends.
type memArchiver struct {
	blobs map[string][]byte
}

func newMemArchiver() *memArchiver {
	return &memArchiver{blobs: map[string][]byte{}}
}

func (m *memArchiver) Stat(ctx context.Context, filename string) (size int64, exists bool, err error) {
	b, ok := m.blobs[filename]
	return int64(len(b)), ok, nil
}

func (m *memArchiver) Get(ctx context.Context, filename string) (r io.ReadCloser, exists bool, err error) {
	b, ok := m.blobs[filename]
	if !ok {
		return nil, false, nil
	}
	return io.NopCloser(bytes.NewReader(b)), true, nil
}

type memWriteCloser struct {
	*bytes.Buffer
	onClose func([]byte)
}

func (w *memWriteCloser) Close() error {
	w.onClose(w.Bytes())
	return nil
}

func (m *memArchiver) Put(ctx context.Context, filename string) (w io.WriteCloser, err error) {
	return &memWriteCloser{Buffer: &bytes.Buffer{}, onClose: func(b []byte) {
		m.blobs[filename] = b
	}}, nil
}
