// Package report writes the run outputs: the metadata table, the sample
// manifest and the run summary.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"archivesampler/internal/record"
)

// Columns is the header of the metadata table. Downstream tooling depends on
// the names and their order.
var Columns = []string{
	"arquivo_zip",
	"xml_arquivo",
	"linhas",
	"colunas",
	"zip_tamanho_mb",
	"xml_tamanho_kb",
	"encoding_detectado",
	"elementos_xml_raiz",
	"status",
}

// WriteTable writes one CSV row per entry, in the given order.
func WriteTable(w io.Writer, rows []record.Metadata) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(tableRow(r)); err != nil {
			return fmt.Errorf("write position %d: %w", r.Position, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func tableRow(r record.Metadata) []string {
	return []string{
		r.Container,
		r.Record,
		strconv.FormatInt(r.Lines, 10),
		strconv.FormatInt(r.Fields, 10),
		strconv.FormatFloat(float64(r.ContainerBytes)/(1024*1024), 'f', 2, 64),
		strconv.FormatFloat(float64(r.RecordBytes)/1024, 'f', 2, 64),
		r.Encoding,
		r.RootTag,
		string(r.Status),
	}
}

// WriteFile writes through fn into a temporary file next to path and renames
// it into place, so readers never observe a partial output.
func WriteFile(path string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fn(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
