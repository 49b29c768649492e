package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := New(Options{})
	b, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestGetNonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Options{})
	_, err := f.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestStreamGzipDecompressesLive(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("col_a\tcol_b\n1\t2\n"))
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := New(Options{})
	rc, err := f.StreamGzip(context.Background(), srv.URL)
	require.NoError(t, err)
	defer rc.Close()

	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "col_a\tcol_b\n1\t2\n", string(out))
}

func TestDecodeJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rows": 3}`))
	}))
	defer srv.Close()

	f := New(Options{})
	got, err := DecodeJSON[struct {
		Rows int `json:"rows"`
	}](context.Background(), f, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Rows)
}
