package objects

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    atomic.Int32
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.puts.Add(1)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3Handler(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	h := &S3Handler{Client: fake, Bucket: "bucket", Prefix: "layerdb"}

	url, err := h.Location("abc", nil)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/layerdb/abc", url)

	url, err = h.Location("abc", Params{"prefix": "other"})
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/other/abc", url)

	exists, err := h.Exists(ctx, url)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, h.Put(ctx, url, []byte("data")))
	exists, err = h.Exists(ctx, url)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := h.Get(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestS3Roundtrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()

	src := newTestStore(t)
	obj := writeObject(t, src, 4)
	register(t, src, obj)
	_, err := src.Upload(ctx, []string{obj.ID}, &S3Handler{Client: fake, Bucket: "b"}, nil)
	require.NoError(t, err)

	dst, err := New(src.Catalog(), NewMemoryCache(), WithHandler(&S3Handler{Client: fake, Bucket: "b"}))
	require.NoError(t, err)
	require.NoError(t, dst.Download(ctx, []string{obj.ID}))
	assert.True(t, dst.IsCached(obj.ID))
}

func newObjectServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	blobs := make(map[string][]byte)

	mux := http.NewServeMux()
	mux.HandleFunc("/objects/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := r.PathValue("id")
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			blobs[id] = data
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet, http.MethodHead:
			data, ok := blobs[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				w.Write(data)
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPHandler(t *testing.T) {
	ctx := context.Background()
	srv := newObjectServer(t, "secret")

	src := newTestStore(t)
	obj := writeObject(t, src, 9)
	register(t, src, obj)

	h := &HTTPHandler{BaseURL: srv.URL + "/", Token: "secret", Client: srv.Client()}
	added, err := src.Upload(ctx, []string{obj.ID}, h, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(added[obj.ID].URL, "/objects/"+obj.ID))

	dst, err := New(src.Catalog(), NewMemoryCache(), WithHandler(h))
	require.NoError(t, err)
	require.NoError(t, dst.Download(ctx, []string{obj.ID}))
	assert.True(t, dst.IsCached(obj.ID))
}

func TestHTTPHandlerUnauthorized(t *testing.T) {
	ctx := context.Background()
	srv := newObjectServer(t, "secret")

	h := &HTTPHandler{BaseURL: srv.URL, Token: "wrong", Client: srv.Client()}
	url, err := h.Location("abc", nil)
	require.NoError(t, err)

	_, err = h.Exists(ctx, url)
	assert.Error(t, err)
	assert.Error(t, h.Put(ctx, url, []byte("x")))
}

func TestDetectScheme(t *testing.T) {
	assert.Equal(t, SchemeS3, DetectScheme("s3://bucket/key"))
	assert.Equal(t, SchemeHTTPS, DetectScheme("HTTPS://host/x"))
	assert.Equal(t, SchemeFile, DetectScheme("file:///tmp/x"))
	assert.Equal(t, SchemeLocal, DetectScheme("/tmp/x"))

	bucket, key, err := ParseS3URL("s3://bucket/a/b")
	require.NoError(t, err)
	assert.Equal(t, "bucket", bucket)
	assert.Equal(t, "a/b", key)

	_, _, err = ParseS3URL("s3://bucket")
	assert.Error(t, err)
}
