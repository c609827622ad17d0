package cwl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Sink stores a finished bundle and returns where it went.
type Sink interface {
	Write(ctx context.Context, b *Bundle) (string, error)
}

// DirSink writes each bundle into Root/<name>. Files are written to a
// staging directory first and renamed into place, so a failed export leaves
// no directory behind.
type DirSink struct {
	Root string
	// Name picks the directory name; defaults to the bundle target id.
	Name func(*Bundle) string
}

func (s *DirSink) Write(ctx context.Context, b *Bundle) (string, error) {
	if b == nil {
		return "", fmt.Errorf("bundle is nil")
	}
	name := b.Target
	if s.Name != nil {
		name = s.Name(b)
	}
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid export name %q", name)
	}
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return "", fmt.Errorf("create export root: %w", err)
	}
	target := filepath.Join(s.Root, name)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("export %q already exists", target)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat %q: %w", target, err)
	}

	stage, err := os.MkdirTemp(s.Root, ".export-*")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(stage)
		}
	}()

	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(stage, f.Name), f.Content, 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	if err := os.Rename(stage, target); err != nil {
		return "", fmt.Errorf("commit export: %w", err)
	}
	committed = true
	return target, nil
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// S3Sink uploads bundles to <prefix>/<target>/<fingerprint hex>/<file>.
// S3 has no multi-object commit, so a failed upload removes the objects it
// already wrote.
type S3Sink struct {
	client   *minio.Client
	bucket   string
	region   string
	prefix   string
	mu       sync.Mutex
	ready    bool
}

func NewS3Sink(cfg S3Config) (*S3Sink, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Sink{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

// ensureBucket checks for the bucket once it has succeeded; failures are
// retried on the next Write.
func (s *S3Sink) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return err
		}
	}
	s.ready = true
	return nil
}

func (s *S3Sink) Write(ctx context.Context, b *Bundle) (string, error) {
	if b == nil {
		return "", fmt.Errorf("bundle is nil")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket: %w", err)
	}

	base := exportKey(s.prefix, b)
	written := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		key := base + "/" + f.Name
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(f.Content), int64(len(f.Content)), minio.PutObjectOptions{
			ContentType: contentType(f.Name),
		})
		if err != nil {
			s.remove(context.WithoutCancel(ctx), written)
			return "", fmt.Errorf("upload %s: %w", key, err)
		}
		written = append(written, key)
	}
	return "s3://" + s.bucket + "/" + base, nil
}

func (s *S3Sink) remove(ctx context.Context, keys []string) {
	for _, key := range keys {
		_ = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	}
}

func exportKey(prefix string, b *Bundle) string {
	fp := strings.TrimPrefix(b.Fingerprint, "blake3:")
	key := b.Target + "/" + fp
	if prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".cwl") {
		return "application/yaml"
	}
	return "application/octet-stream"
}
