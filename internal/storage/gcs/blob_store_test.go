package gcs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	buf      bytes.Buffer
	writeErr error
	closeErr error
	closed   bool
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func newTestStore(w *fakeWriter, gotPath, gotType *string) *BlobStore {
	return &BlobStore{
		bucket: "bucket",
		newWriter: func(_ context.Context, path, contentType string) objectWriter {
			*gotPath = path
			*gotType = contentType
			return w
		},
	}
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var path, kind string
	w := &fakeWriter{}
	s := newTestStore(w, &path, &kind)

	uri, err := s.PutObject(context.Background(), "pages/k.html", "text/html", []byte("<html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://bucket/pages/k.html", uri)
	require.Equal(t, "pages/k.html", path)
	require.Equal(t, "text/html", kind)
	require.Equal(t, "<html>", w.buf.String())
	require.True(t, w.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	var path, kind string
	s := newTestStore(&fakeWriter{writeErr: errors.New("boom")}, &path, &kind)
	_, err := s.PutObject(context.Background(), "p", "", []byte("x"))
	require.ErrorContains(t, err, "write object")

	s = newTestStore(&fakeWriter{closeErr: errors.New("quota")}, &path, &kind)
	_, err = s.PutObject(context.Background(), "p", "", []byte("x"))
	require.ErrorContains(t, err, "close writer")

	_, err = s.PutObject(context.Background(), "  ", "", nil)
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}
