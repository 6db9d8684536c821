package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	c, err := New("localhost:9000", "k", "s", false, "", "bucket", "/traffic/images/")
	require.NoError(t, err)
	assert.Equal(t, "traffic/images/1.png", c.ObjectKey("1.png"))

	c, err = New("localhost:9000", "k", "s", false, "", "bucket", "")
	require.NoError(t, err)
	assert.Equal(t, "1.png", c.ObjectKey("1.png"))
}

func TestPutImage_SendsObject(t *testing.T) {
	var (
		mu          sync.Mutex
		gotPath     string
		gotType     string
		gotBodySize int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBodySize = len(body)
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(strings.TrimPrefix(srv.URL, "http://"), "k", "s", false, "us-east-1", "bucket", "images")
	require.NoError(t, err)

	require.NoError(t, c.PutImage(context.Background(), "42.png", []byte("pngdata"), "image/png"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/bucket/images/42.png", gotPath)
	assert.Equal(t, "image/png", gotType)
	assert.Positive(t, gotBodySize)
}
