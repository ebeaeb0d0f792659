package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BucketSource reads containers from an S3-compatible bucket. Zip central
// directories and single entries are fetched with ranged reads, so a record
// is decompressed without downloading the whole container.
type BucketSource struct {
	client *minio.Client
	bucket string
	prefix string
	filter Filter
}

// NewBucketSource creates a new object storage source
func NewBucketSource(cfg Config, filter Filter) (*BucketSource, error) {
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}

	return &BucketSource{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, filter: filter}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}

// Check verifies the bucket exists.
func (s *BucketSource) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: bucket %s: %w", ErrStorageUnavailable, s.bucket, err)
	}
	if !ok {
		return fmt.Errorf("%w: bucket %s does not exist", ErrStorageUnavailable, s.bucket)
	}
	return nil
}

// ListContainers lists container objects under the prefix. S3 listings are
// returned in lexicographic key order.
func (s *BucketSource) ListContainers(ctx context.Context) (<-chan ContainerInfo, <-chan error) {
	objCh := make(chan ContainerInfo)
	errCh := make(chan error, 1)

	go func() {
		defer close(objCh)
		defer close(errCh)

		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    s.prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				errCh <- fmt.Errorf("%w: list %s: %w", ErrStorageUnavailable, s.bucket, obj.Err)
				return
			}
			if strings.HasSuffix(obj.Key, "/") || !s.filter.MatchContainer(obj.Key) {
				continue
			}

			select {
			case objCh <- ContainerInfo{Name: obj.Key, Size: obj.Size}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return objCh, errCh
}

// ListRecords reads the central directory of one container object.
func (s *BucketSource) ListRecords(ctx context.Context, container string) ([]RecordInfo, error) {
	obj, zr, err := s.open(ctx, container)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	return listZip(zr, s.filter), nil
}

// OpenRecord decompresses a single record of a container object.
func (s *BucketSource) OpenRecord(ctx context.Context, container, record string) (io.ReadCloser, RecordInfo, error) {
	obj, zr, err := s.open(ctx, container)
	if err != nil {
		return nil, RecordInfo{}, err
	}

	rc, info, err := openZipEntry(zr, record, obj)
	if err != nil {
		obj.Close()
		return nil, RecordInfo{}, err
	}
	return rc, info, nil
}

func (s *BucketSource) open(ctx context.Context, container string) (*minio.Object, *zip.Reader, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, container, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrArchiveUnavailable, container, err)
	}

	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrArchiveUnavailable, container, err)
	}

	zr, err := zip.NewReader(obj, info.Size)
	if err != nil {
		obj.Close()
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrArchiveUnavailable, container, err)
	}
	return obj, zr, nil
}
