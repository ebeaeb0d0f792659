package storage

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

// listZip lists the records of an opened zip directory.
func listZip(zr *zip.Reader, filter Filter) []RecordInfo {
	records := make([]RecordInfo, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !filter.MatchRecord(f.Name) {
			continue
		}
		records = append(records, RecordInfo{
			Name:           f.Name,
			CompressedSize: int64(f.CompressedSize64),
			Size:           int64(f.UncompressedSize64),
		})
	}
	return records
}

// openZipEntry opens one entry by name. The returned reader closes the entry
// and then the underlying container.
func openZipEntry(zr *zip.Reader, record string, container io.Closer) (io.ReadCloser, RecordInfo, error) {
	for _, f := range zr.File {
		if f.Name != record {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, RecordInfo{}, fmt.Errorf("open entry %s: %w", record, err)
		}
		info := RecordInfo{
			Name:           f.Name,
			CompressedSize: int64(f.CompressedSize64),
			Size:           int64(f.UncompressedSize64),
		}
		return &entryReader{ReadCloser: rc, container: container}, info, nil
	}
	return nil, RecordInfo{}, fmt.Errorf("%w: %s", ErrRecordNotFound, record)
}

type entryReader struct {
	io.ReadCloser
	container io.Closer
}

func (r *entryReader) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.container.Close(); err == nil {
		err = cerr
	}
	return err
}
