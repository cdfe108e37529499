package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apod-desktop/apod/pkg/hasher"
	"github.com/apod-desktop/apod/pkg/security"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}

type fakeGetter struct {
	objects map[string][]byte
	keys    []string
}

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.keys = append(f.keys, key)
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", key)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func newClient(t *testing.T, maxSize int64) *Client {
	t.Helper()
	return NewClient(5*time.Second, security.NewValidator(t.TempDir(), maxSize))
}

func TestDownload_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jpegBytes)
	}))
	defer srv.Close()

	result, err := newClient(t, 0).Download(context.Background(), srv.URL+"/apod/image/2205/galaxy.jpg")
	require.NoError(t, err)

	assert.Equal(t, jpegBytes, result.Data)
	assert.Equal(t, hasher.Hash(jpegBytes), result.SHA256)
	assert.Equal(t, int64(len(jpegBytes)), result.Size)
	assert.Equal(t, "http", result.Source)
}

func TestDownload_HTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.jpg":
			http.NotFound(w, r)
		case "/html.jpg":
			w.Write([]byte("<html>oops</html>"))
		default:
			w.Write(append(jpegBytes, make([]byte, 100)...))
		}
	}))
	defer srv.Close()

	c := newClient(t, 50)
	for _, p := range []string{"/missing.jpg", "/html.jpg", "/big.jpg"} {
		_, err := c.Download(context.Background(), srv.URL+p)
		assert.Error(t, err, p)
	}
}

func TestDownload_PrefersMirror(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(jpegBytes)
	}))
	defer srv.Close()

	mirrored := append([]byte{}, jpegBytes...)
	mirrored = append(mirrored, 'm')
	getter := &fakeGetter{objects: map[string][]byte{"apod/image/a.jpg": mirrored}}
	c := newClient(t, 0).WithObjectGetter(getter, "apod-mirror")

	result, err := c.Download(context.Background(), srv.URL+"/apod/image/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "s3", result.Source)
	assert.Equal(t, mirrored, result.Data)
	assert.Equal(t, 0, hits)

	result, err = c.Download(context.Background(), srv.URL+"/apod/image/b.jpg")
	require.NoError(t, err)
	assert.Equal(t, "http", result.Source)
	assert.Equal(t, 1, hits)
	assert.Equal(t, []string{"apod/image/a.jpg", "apod/image/b.jpg"}, getter.keys)
}

func TestMirrorKey(t *testing.T) {
	key, err := MirrorKey("https://apod.nasa.gov/apod/image/2205/NGC3521LRGBHaAPOD-20.jpg?x=1")
	require.NoError(t, err)
	assert.Equal(t, "apod/image/2205/NGC3521LRGBHaAPOD-20.jpg", key)

	_, err = MirrorKey("https://apod.nasa.gov")
	assert.Error(t, err)
}
