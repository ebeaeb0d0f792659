// Package extract computes lightweight structural metadata for one archived
// record: line count, leaf field count, text encoding and root tag.
package extract

import (
	"bufio"
	"context"
	"errors"
	"io"

	"archivesampler/internal/archive"
	"archivesampler/internal/record"
	"archivesampler/internal/storage"

	"go.uber.org/zap"
)

// DefaultSniffBytes is how much of a record head feeds encoding detection.
const DefaultSniffBytes = 64 * 1024

// Options configures the extractor.
type Options struct {
	DefaultEncoding string
	SniffBytes      int
}

// Extractor streams one record at a time out of its container.
type Extractor struct {
	src    storage.Source
	opts   Options
	logger *zap.Logger
}

// New creates an extractor over src.
func New(src storage.Source, opts Options, logger *zap.Logger) *Extractor {
	if opts.SniffBytes <= 0 {
		opts.SniffBytes = DefaultSniffBytes
	}
	if opts.DefaultEncoding == "" {
		opts.DefaultEncoding = "UTF-8"
	}
	return &Extractor{src: src, opts: opts, logger: logger}
}

// Attempt extracts metadata for the record at loc. The returned row is always
// complete. The error is non-nil only when the container could not be opened,
// in which case the row is a failure with reason archive_unavailable and the
// caller may retry.
func (e *Extractor) Attempt(ctx context.Context, position int, loc archive.Location) (record.Metadata, error) {
	row := record.Metadata{
		Position:       position,
		Ordinal:        loc.Ordinal,
		Container:      loc.Container,
		Record:         loc.Record,
		ContainerBytes: loc.ContainerSize,
	}

	name := loc.Record
	if name == "" {
		records, err := e.src.ListRecords(ctx, loc.Container)
		if err != nil {
			row.Fail(record.ReasonArchiveUnavailable)
			return row, err
		}
		if loc.RecordIndex >= len(records) {
			row.Skip(record.ReasonNoRecord)
			return row, nil
		}
		name = records[loc.RecordIndex].Name
		row.Record = name
	}

	rc, info, err := e.src.OpenRecord(ctx, loc.Container, name)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			row.Skip(record.ReasonNoRecord)
			return row, nil
		}
		row.Fail(record.ReasonArchiveUnavailable)
		return row, err
	}
	defer rc.Close()

	row.RecordBytes = info.Size
	e.measure(rc, &row)
	return row, nil
}

// measure fills the structural statistics of row from the decompressed stream.
func (e *Extractor) measure(rc io.Reader, row *record.Metadata) {
	br := bufio.NewReaderSize(rc, e.opts.SniffBytes)
	head, err := br.Peek(e.opts.SniffBytes)
	if err != nil && !errors.Is(err, io.EOF) {
		e.fail(row, record.ReasonDecodeError, err)
		return
	}

	det := DetectEncoding(head, e.opts.DefaultEncoding)
	row.Encoding = det.Name
	if !det.Certain {
		e.logger.Debug("Encoding guessed",
			zap.String("container", row.Container),
			zap.String("record", row.Record),
			zap.String("encoding", det.Name),
			zap.String("source", det.Source),
		)
	}

	counter := &lineCounter{r: br}
	var text io.Reader = counter
	if det.Encoding != nil {
		text = det.Encoding.NewDecoder().Reader(counter)
	}

	st, err := ScanStructure(text)
	if err != nil {
		e.fail(row, record.ReasonDecodeError, err)
		return
	}
	if _, err := io.Copy(io.Discard, counter); err != nil {
		e.fail(row, record.ReasonDecodeError, err)
		return
	}

	row.Status = record.StatusSuccess
	row.Lines = counter.Lines()
	row.Fields = st.Fields
	row.RootTag = st.RootTag
	row.RecordBytes = counter.bytes
}

func (e *Extractor) fail(row *record.Metadata, reason string, err error) {
	row.Fail(reason)
	e.logger.Debug("Record unreadable",
		zap.String("container", row.Container),
		zap.String("record", row.Record),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
