// Package export drains ring buffers, merges per-producer state, and
// writes the binary container and its sidecar artifacts.
package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/burrow/trackerr"
)

// Sink persists finished export artifacts. Implementations must be
// safe for use by a single aggregator goroutine.
type Sink interface {
	// Put writes one artifact under the sink's root.
	// The name must not contain path separators or "..".
	Put(ctx context.Context, name string, data []byte) error
}

// validateArtifactName rejects traversal attempts in artifact names.
func validateArtifactName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return trackerr.New(trackerr.KindInvalidConfig, "sink_put",
			"artifact names must be bare filenames",
			fmt.Errorf("%w: invalid artifact name %q", trackerr.ErrInvalidConfig, name))
	}
	return nil
}

// FSSink writes artifacts into a directory. Writes go through a
// temporary file and rename so a crashed export never leaves a
// half-written container behind.
type FSSink struct {
	dir string
}

// NewFSSink creates the directory if needed.
func NewFSSink(dir string) (*FSSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, trackerr.New(trackerr.KindIO, "sink_init",
			"check directory permissions", err)
	}
	return &FSSink{dir: dir}, nil
}

// Put implements Sink.
func (s *FSSink) Put(ctx context.Context, name string, data []byte) error {
	if err := validateArtifactName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return trackerr.New(trackerr.KindIO, "sink_put", "export cancelled", err)
	}

	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return trackerr.New(trackerr.KindIO, "sink_put",
			"check destination space and permissions", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return trackerr.New(trackerr.KindIO, "sink_put", "rename failed", err)
	}
	return nil
}

// S3Config holds configuration for the S3 sink.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible providers.
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return trackerr.New(trackerr.KindInvalidConfig, "sink_init",
			"set an S3 bucket", fmt.Errorf("%w: s3 bucket required", trackerr.ErrInvalidConfig))
	}
	return nil
}

// ParseS3Path parses a path in format "bucket/prefix" or "bucket".
func ParseS3Path(path string) (bucket, prefix string) {
	parts := strings.SplitN(path, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = parts[1]
	}
	return bucket, prefix
}

// s3API is the subset of the S3 client the sink uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads artifacts to an S3 bucket.
type S3Sink struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Sink creates a sink using the AWS SDK default credential chain
// (env vars, shared config, IAM role).
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, trackerr.New(trackerr.KindIO, "sink_init",
			"check AWS credentials", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Sink{
		client: s3.NewFromConfig(awsConfig, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Put implements Sink.
func (s *S3Sink) Put(ctx context.Context, name string, data []byte) error {
	if err := validateArtifactName(name); err != nil {
		return err
	}

	key := name
	if s.prefix != "" {
		key = strings.TrimSuffix(s.prefix, "/") + "/" + name
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return trackerr.New(trackerr.KindIO, "sink_put",
			"check bucket access and network", err)
	}
	return nil
}

// StubSink records Put calls for testing.
type StubSink struct {
	mu    sync.Mutex
	Files map[string][]byte
	// FailNext makes the next Put return an IO error.
	FailNext bool
}

// NewStubSink creates an empty stub sink.
func NewStubSink() *StubSink {
	return &StubSink{Files: make(map[string][]byte)}
}

// Put implements Sink by recording the artifact.
func (s *StubSink) Put(_ context.Context, name string, data []byte) error {
	if err := validateArtifactName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNext {
		s.FailNext = false
		return trackerr.New(trackerr.KindIO, "sink_put", "stubbed failure", nil)
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	s.Files[name] = copied
	return nil
}

// Get returns a recorded artifact.
func (s *StubSink) Get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Files[name]
	return data, ok
}
