package extract

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"archivesampler/internal/archive"
	"archivesampler/internal/record"
	"archivesampler/internal/storage"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const curriculum = "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
	"<CURRICULO-VITAE>\n" +
	"  <DADOS-GERAIS NOME=\"Jos\xe9\"/>\n" +
	"\n" +
	"  <PRODUCAO>\n" +
	"    <ARTIGO>A</ARTIGO>\n" +
	"    <ARTIGO>B</ARTIGO>\n" +
	"  </PRODUCAO>\n" +
	"</CURRICULO-VITAE>\n"

func writeContainer(t *testing.T, root, name string, entries ...[2]string) {
	t.Helper()

	f, err := os.Create(filepath.Join(root, name))
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		require.NoError(t, err)
		_, err = io.WriteString(w, e[1])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func newExtractor(t *testing.T, root string) *Extractor {
	t.Helper()
	src := storage.NewDirSource(root, storage.Filter{ContainerPattern: "*.zip", RecordSuffix: ".xml"})
	return New(src, Options{}, zap.NewNop())
}

func TestAttemptMeasuresCurriculum(t *testing.T) {
	root := t.TempDir()
	writeContainer(t, root, "0001.zip", [2]string{"0001.xml", curriculum})

	ex := newExtractor(t, root)
	row, err := ex.Attempt(context.Background(), 3, archive.Location{Ordinal: 12, Container: "0001.zip", ContainerSize: 512})
	require.NoError(t, err)

	assert.Equal(t, record.StatusSuccess, row.Status)
	assert.Empty(t, row.Reason)
	assert.Equal(t, 3, row.Position)
	assert.Equal(t, int64(12), row.Ordinal)
	assert.Equal(t, "0001.xml", row.Record)
	assert.Equal(t, int64(8), row.Lines)
	assert.Equal(t, int64(3), row.Fields)
	assert.Equal(t, "ISO-8859-1", row.Encoding)
	assert.Equal(t, "CURRICULO-VITAE", row.RootTag)
	assert.Equal(t, int64(len(curriculum)), row.RecordBytes)
	assert.Equal(t, int64(512), row.ContainerBytes)
}

func TestAttemptOutcomes(t *testing.T) {
	root := t.TempDir()
	writeContainer(t, root, "empty.zip", [2]string{"e.xml", ""})
	writeContainer(t, root, "corrupt.zip", [2]string{"c.xml", "<a><b></a>"})
	writeContainer(t, root, "badutf8.zip", [2]string{"u.xml", "<?xml version=\"1.0\" encoding=\"UTF-8\"?><a>\xff\xfe</a>"})
	writeContainer(t, root, "ns.zip", [2]string{"n.xml", `<r:root xmlns:r="urn:lattes"><r:f/><r:g>x</r:g></r:root>`})
	writeContainer(t, root, "noxml.zip", [2]string{"readme.txt", "hello"})
	writeContainer(t, root, "two.zip", [2]string{"1.xml", "<one/>"}, [2]string{"2.xml", "<two><x/></two>"})

	tests := []struct {
		name   string
		loc    archive.Location
		status record.Status
		reason string
		root   string
		fields int64
		lines  int64
		err    error
	}{
		{name: "empty record", loc: archive.Location{Container: "empty.zip"}, status: record.StatusSuccess},
		{name: "mismatched tags", loc: archive.Location{Container: "corrupt.zip"}, status: record.StatusFailure, reason: record.ReasonDecodeError},
		{name: "invalid utf-8", loc: archive.Location{Container: "badutf8.zip"}, status: record.StatusFailure, reason: record.ReasonDecodeError},
		{name: "namespaced root", loc: archive.Location{Container: "ns.zip"}, status: record.StatusSuccess, root: "{urn:lattes}root", fields: 2, lines: 1},
		{name: "container without records", loc: archive.Location{Container: "noxml.zip"}, status: record.StatusSkipped, reason: record.ReasonNoRecord},
		{name: "second record by index", loc: archive.Location{Container: "two.zip", RecordIndex: 1}, status: record.StatusSuccess, root: "two", fields: 1, lines: 1},
		{name: "named record", loc: archive.Location{Container: "two.zip", Record: "1.xml"}, status: record.StatusSuccess, root: "one", fields: 1, lines: 1},
		{name: "named record missing", loc: archive.Location{Container: "two.zip", Record: "9.xml"}, status: record.StatusSkipped, reason: record.ReasonNoRecord},
		{name: "missing container", loc: archive.Location{Container: "gone.zip"}, status: record.StatusFailure, reason: record.ReasonArchiveUnavailable, err: storage.ErrArchiveUnavailable},
	}

	ex := newExtractor(t, root)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := ex.Attempt(context.Background(), 0, tt.loc)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.status, row.Status)
			assert.Equal(t, tt.reason, row.Reason)
			assert.Equal(t, tt.root, row.RootTag)
			assert.Equal(t, tt.fields, row.Fields)
			assert.Equal(t, tt.lines, row.Lines)
			assert.GreaterOrEqual(t, row.Lines, int64(0))
			assert.GreaterOrEqual(t, row.Fields, int64(0))
			if row.Status == record.StatusFailure {
				assert.NotEmpty(t, row.Reason)
			}
		})
	}
}

func TestScanStructureCountsLeaves(t *testing.T) {
	s, err := ScanStructure(stringsReader("<a><b><c/><d>t</d></b><e/></a>"))
	require.NoError(t, err)
	assert.Equal(t, "a", s.RootTag)
	assert.Equal(t, int64(3), s.Fields)

	s, err = ScanStructure(stringsReader("  \n "))
	require.NoError(t, err)
	assert.Empty(t, s.RootTag)
	assert.Zero(t, s.Fields)

	_, err = ScanStructure(stringsReader("<a><b>"))
	require.Error(t, err)
}

func TestRootTagTruncated(t *testing.T) {
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	doc := "<" + string(long) + "/>"

	s, err := ScanStructure(stringsReader(doc))
	require.NoError(t, err)
	assert.Len(t, s.RootTag, 100)
}

func TestLineCounter(t *testing.T) {
	tests := []struct {
		in    string
		lines int64
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\n\n  \t\nb\n", 2},
		{"\r\n\r\n", 0},
	}
	for _, tt := range tests {
		c := &lineCounter{r: stringsReader(tt.in)}
		_, err := io.Copy(io.Discard, c)
		require.NoError(t, err)
		assert.Equal(t, tt.lines, c.Lines(), "input %q", tt.in)
		assert.Equal(t, int64(len(tt.in)), c.bytes)
	}
}
