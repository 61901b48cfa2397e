package recorder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/smartcare-lab/care-monitor/internal/config"
)

// FileStore writes objects under a local directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	// Write to a temp file first so readers never see a partial JPEG.
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// objectPutter is the part of *minio.Client used by ObjectStore.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectStore writes objects to an S3-compatible bucket.
type ObjectStore struct {
	client objectPutter
	bucket string
}

// OpenObjectStore connects to MinIO and creates the bucket if needed.
func OpenObjectStore(ctx context.Context, cfg config.RecorderConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Info("Created bucket %s", cfg.Bucket)
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Open builds the recorder selected by cfg.Kind. It returns nil when
// recording is disabled.
func Open(ctx context.Context, cfg config.RecorderConfig) (*Recorder, error) {
	var store Store
	switch cfg.Kind {
	case config.RecorderNone:
		return nil, nil
	case config.RecorderFile:
		fs, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		store = fs
	case config.RecorderMinio:
		obj, err := OpenObjectStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = obj
	default:
		return nil, fmt.Errorf("recorder: unknown kind %q", cfg.Kind)
	}
	return New(store), nil
}
