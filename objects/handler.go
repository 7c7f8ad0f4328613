package objects

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-billy/v6/util"
)

// Handler protocols.
const (
	ProtocolDB   = "DB"
	ProtocolFile = "FILE"
	ProtocolS3   = "S3"
	ProtocolHTTP = "HTTP"
)

// Params are per-upload handler options.
type Params map[string]string

// Handler moves compressed payloads to and from one kind of location.
type Handler interface {
	Protocol() string
	// Location returns the URL object id is stored at.
	Location(id string, params Params) (string, error)
	Exists(ctx context.Context, url string) (bool, error)
	Put(ctx context.Context, url string, data []byte) error
	Get(ctx context.Context, url string) ([]byte, error)
}

// DBHandler replicates payloads into another store's cache. The target
// store serves them directly, so no location is recorded.
type DBHandler struct {
	Target *Store
}

func (h DBHandler) Protocol() string { return ProtocolDB }

func (h DBHandler) Location(id string, _ Params) (string, error) {
	return "db://" + id, nil
}

func (h DBHandler) Exists(_ context.Context, url string) (bool, error) {
	return h.Target.IsCached(strings.TrimPrefix(url, "db://")), nil
}

func (h DBHandler) Put(_ context.Context, url string, data []byte) error {
	return writeCache(h.Target.cache, strings.TrimPrefix(url, "db://"), data)
}

func (h DBHandler) Get(_ context.Context, url string) ([]byte, error) {
	return readCache(h.Target.cache, strings.TrimPrefix(url, "db://"))
}

// FileHandler stores payloads as files in a directory. The "dir" param
// overrides Dir per upload.
type FileHandler struct {
	Dir string
	fs  billy.Filesystem
}

func NewFileHandler(dir string) *FileHandler {
	return &FileHandler{Dir: dir, fs: osfs.New("/")}
}

func (h *FileHandler) Protocol() string { return ProtocolFile }

func (h *FileHandler) Location(id string, params Params) (string, error) {
	dir := h.Dir
	if d := params["dir"]; d != "" {
		dir = d
	}
	if dir == "" {
		return "", errors.New("file handler: no directory configured")
	}
	return "file://" + path.Join(dir, id), nil
}

func (h *FileHandler) filesystem() billy.Filesystem {
	if h.fs == nil {
		h.fs = osfs.New("/")
	}
	return h.fs
}

func (h *FileHandler) Exists(_ context.Context, url string) (bool, error) {
	_, err := h.filesystem().Stat(LocalPath(url))
	return err == nil, nil
}

func (h *FileHandler) Put(_ context.Context, url string, data []byte) error {
	p := LocalPath(url)
	if err := h.filesystem().MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	return util.WriteFile(h.filesystem(), p, data, 0o644)
}

func (h *FileHandler) Get(_ context.Context, url string) ([]byte, error) {
	return util.ReadFile(h.filesystem(), LocalPath(url))
}

// S3API is the subset of the S3 client the handler uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Handler stores payloads in a bucket under Prefix. The "prefix" param
// overrides Prefix per upload.
type S3Handler struct {
	Client S3API
	Bucket string
	Prefix string
}

// NewS3Handler builds a handler with a client from cfg.
func NewS3Handler(ctx context.Context, cfg S3Config) (*S3Handler, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 handler: no bucket configured")
	}
	client, err := NewS3Client(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return &S3Handler{Client: client, Bucket: cfg.Bucket, Prefix: cfg.Prefix}, nil
}

func (h *S3Handler) Protocol() string { return ProtocolS3 }

func (h *S3Handler) Location(id string, params Params) (string, error) {
	prefix := h.Prefix
	if p, ok := params["prefix"]; ok {
		prefix = p
	}
	return "s3://" + path.Join(h.Bucket, prefix, id), nil
}

func (h *S3Handler) Exists(ctx context.Context, url string) (bool, error) {
	bucket, key, err := ParseS3URL(url)
	if err != nil {
		return false, err
	}
	_, err = h.Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return false, nil
	}
	return false, err
}

func (h *S3Handler) Put(ctx context.Context, url string, data []byte) error {
	bucket, key, err := ParseS3URL(url)
	if err != nil {
		return err
	}
	_, err = h.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (h *S3Handler) Get(ctx context.Context, url string) ([]byte, error) {
	bucket, key, err := ParseS3URL(url)
	if err != nil {
		return nil, err
	}
	resp, err := h.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("failed to get S3 object: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// HTTPHandler talks to a LayerDB object server (cmd/server).
type HTTPHandler struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (h *HTTPHandler) Protocol() string { return ProtocolHTTP }

func (h *HTTPHandler) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return httpClient
}

func (h *HTTPHandler) Location(id string, _ Params) (string, error) {
	if h.BaseURL == "" {
		return "", errors.New("http handler: no base URL configured")
	}
	return strings.TrimSuffix(h.BaseURL, "/") + "/objects/" + id, nil
}

func (h *HTTPHandler) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	return h.client().Do(req)
}

func (h *HTTPHandler) Exists(ctx context.Context, url string) (bool, error) {
	resp, err := h.do(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, fmt.Errorf("HTTP HEAD returned status %d", resp.StatusCode)
}

func (h *HTTPHandler) Put(ctx context.Context, url string, data []byte) error {
	resp, err := h.do(ctx, http.MethodPut, url, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP PUT returned status %d", resp.StatusCode)
	}
	return nil
}

func (h *HTTPHandler) Get(ctx context.Context, url string) ([]byte, error) {
	body, err := openHTTPReaderWith(ctx, h, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func openHTTPReaderWith(ctx context.Context, h *HTTPHandler, url string) (io.ReadCloser, error) {
	if h.Client == nil {
		return openHTTPReader(ctx, url, h.Token)
	}
	resp, err := h.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP request returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
