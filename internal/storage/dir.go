package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// DirSource reads containers from a local directory (an SSD mount, an NFS share).
type DirSource struct {
	root   string
	filter Filter
}

// NewDirSource creates a directory-backed source.
func NewDirSource(root string, filter Filter) *DirSource {
	return &DirSource{root: root, filter: filter}
}

// Check verifies the root directory is present and readable.
func (s *DirSource) Check(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, s.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrStorageUnavailable, s.root)
	}
	return nil
}

// ListContainers lists matching files of the root directory. os.ReadDir
// returns entries sorted by file name, which gives the stable order.
func (s *DirSource) ListContainers(ctx context.Context) (<-chan ContainerInfo, <-chan error) {
	objCh := make(chan ContainerInfo)
	errCh := make(chan error, 1)

	go func() {
		defer close(objCh)
		defer close(errCh)

		entries, err := os.ReadDir(s.root)
		if err != nil {
			errCh <- fmt.Errorf("%w: list %s: %v", ErrStorageUnavailable, s.root, err)
			return
		}

		for _, e := range entries {
			if e.IsDir() || !s.filter.MatchContainer(e.Name()) {
				continue
			}
			var size int64
			if info, err := e.Info(); err == nil {
				size = info.Size()
			}

			select {
			case objCh <- ContainerInfo{Name: e.Name(), Size: size}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return objCh, errCh
}

// ListRecords reads the central directory of one container.
func (s *DirSource) ListRecords(ctx context.Context, container string) ([]RecordInfo, error) {
	zr, err := s.open(container)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return listZip(&zr.Reader, s.filter), nil
}

// OpenRecord decompresses a single record of a container.
func (s *DirSource) OpenRecord(ctx context.Context, container, record string) (io.ReadCloser, RecordInfo, error) {
	zr, err := s.open(container)
	if err != nil {
		return nil, RecordInfo{}, err
	}

	rc, info, err := openZipEntry(&zr.Reader, record, zr)
	if err != nil {
		zr.Close()
		return nil, RecordInfo{}, err
	}
	return rc, info, nil
}

func (s *DirSource) open(container string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(filepath.Join(s.root, container))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrArchiveUnavailable, container)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveUnavailable, container, err)
	}
	return zr, nil
}
