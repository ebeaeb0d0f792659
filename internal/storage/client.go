package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
)

// Sentinel errors for container access.
var (
	// ErrArchiveUnavailable means a single container could not be opened.
	ErrArchiveUnavailable = errors.New("archive unavailable")
	// ErrStorageUnavailable means the whole storage backend is gone
	// (unmounted directory, missing bucket).
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrRecordNotFound means the container has no such record.
	ErrRecordNotFound = errors.New("record not found")
)

// Source enumerates containers and reads individual records from them.
type Source interface {
	// ListContainers streams container infos in lexicographic order by name.
	ListContainers(ctx context.Context) (<-chan ContainerInfo, <-chan error)
	// ListRecords returns the records of one container in the container's own
	// listing order, reading only the container's directory.
	ListRecords(ctx context.Context, container string) ([]RecordInfo, error)
	// OpenRecord decompresses a single record by name.
	OpenRecord(ctx context.Context, container, record string) (io.ReadCloser, RecordInfo, error)
	// Check reports systemic unavailability of the backend.
	Check(ctx context.Context) error
}

// ContainerInfo describes one compressed container.
type ContainerInfo struct {
	Name string
	Size int64
}

// RecordInfo describes one record inside a container.
type RecordInfo struct {
	Name           string
	CompressedSize int64
	Size           int64
}

// Config contains object storage client configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
	Prefix    string
}

// Filter decides which container and record names belong to the population.
type Filter struct {
	ContainerPattern string // glob on the container base name, e.g. "*.zip"
	RecordSuffix     string // e.g. ".xml"; empty accepts every file entry
}

// MatchContainer reports whether name is a population container.
func (f Filter) MatchContainer(name string) bool {
	if f.ContainerPattern == "" {
		return true
	}
	ok, err := path.Match(f.ContainerPattern, path.Base(name))
	return err == nil && ok
}

// MatchRecord reports whether an entry inside a container is a population record.
func (f Filter) MatchRecord(name string) bool {
	if strings.HasSuffix(name, "/") {
		return false
	}
	if f.RecordSuffix == "" {
		return true
	}
	return strings.HasSuffix(strings.ToLower(name), strings.ToLower(f.RecordSuffix))
}

// IsTransient reports whether a failed container access is worth retrying:
// network failures and server-side object storage errors. The decision is
// made on error types, never on message text, since container names can
// contain anything.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return true
		}
		return resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
	}
	return false
}
