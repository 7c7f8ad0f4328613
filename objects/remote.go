// Remote payload I/O for file, S3 and HTTP locations.
package objects

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config contains S3 authentication configuration
type S3Config struct {
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string // Optional: custom S3-compatible endpoint
}

// URLScheme represents the scheme of a URL
type URLScheme string

const (
	SchemeFile  URLScheme = "file"
	SchemeS3    URLScheme = "s3"
	SchemeHTTP  URLScheme = "http"
	SchemeHTTPS URLScheme = "https"
	SchemeLocal URLScheme = "local" // no scheme, local path
)

// DetectScheme detects the URL scheme from a path string
func DetectScheme(path string) URLScheme {
	lowerPath := strings.ToLower(path)
	switch {
	case strings.HasPrefix(lowerPath, "s3://"):
		return SchemeS3
	case strings.HasPrefix(lowerPath, "https://"):
		return SchemeHTTPS
	case strings.HasPrefix(lowerPath, "http://"):
		return SchemeHTTP
	case strings.HasPrefix(lowerPath, "file://"):
		return SchemeFile
	default:
		return SchemeLocal
	}
}

// LocalPath strips a file:// scheme.
func LocalPath(path string) string {
	return strings.TrimPrefix(path, "file://")
}

// OpenReader opens a reader for the given URL/path. It serves the csv
// ingestion source as well as handler downloads.
func OpenReader(ctx context.Context, path string, cfg *S3Config) (io.ReadCloser, error) {
	switch DetectScheme(path) {
	case SchemeLocal, SchemeFile:
		return osOpen(LocalPath(path))

	case SchemeHTTP, SchemeHTTPS:
		return openHTTPReader(ctx, path, "")

	case SchemeS3:
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		bucket, key, err := ParseS3URL(path)
		if err != nil {
			return nil, err
		}
		resp, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get S3 object: %w", err)
		}
		return resp.Body, nil

	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s", path)
	}
}

var httpClient = &http.Client{
	Timeout: 5 * time.Minute, // generous timeout for large files
}

// openHTTPReader opens an HTTP GET reader, with a bearer token when given
func openHTTPReader(ctx context.Context, url, token string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP request returned status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// ParseS3URL parses s3://bucket/key into bucket and key parts
func ParseS3URL(url string) (bucket, key string, err error) {
	path := strings.TrimPrefix(url, "s3://")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid S3 URL: %s", url)
	}
	return parts[0], parts[1], nil
}

// NewS3Client creates an S3 client with the given configuration
func NewS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg != nil && cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg != nil && cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg != nil && cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // For S3-compatible services
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}

// osOpen wraps os.Open - used to allow the function to be swapped in tests
var osOpen = func(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
