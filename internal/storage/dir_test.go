package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, entries map[string]string, order []string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, entries[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func drain(t *testing.T, objCh <-chan ContainerInfo, errCh <-chan error) []string {
	t.Helper()
	var names []string
	for c := range objCh {
		names = append(names, c.Name)
	}
	require.NoError(t, <-errCh)
	return names
}

var xmlFilter = Filter{ContainerPattern: "*.zip", RecordSuffix: ".xml"}

func TestDirSourceListsContainersSorted(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"c.zip", "a.zip", "b.zip"} {
		writeZip(t, filepath.Join(root, name), map[string]string{"x.xml": "<a/>"}, []string{"x.xml"})
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("skip"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub.zip"), 0o750))

	src := NewDirSource(root, xmlFilter)
	require.NoError(t, src.Check(context.Background()))

	objCh, errCh := src.ListContainers(context.Background())
	assert.Equal(t, []string{"a.zip", "b.zip", "c.zip"}, drain(t, objCh, errCh))
}

func TestDirSourceListRecordsKeepsContainerOrder(t *testing.T) {
	root := t.TempDir()
	writeZip(t, filepath.Join(root, "a.zip"),
		map[string]string{"2.xml": "<b/>", "readme.txt": "x", "1.XML": "<a/>"},
		[]string{"2.xml", "readme.txt", "1.XML"})

	src := NewDirSource(root, xmlFilter)
	records, err := src.ListRecords(context.Background(), "a.zip")
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "2.xml", records[0].Name)
	assert.Equal(t, "1.XML", records[1].Name)
	assert.Equal(t, int64(4), records[0].Size)
}

func TestDirSourceOpenRecord(t *testing.T) {
	root := t.TempDir()
	writeZip(t, filepath.Join(root, "a.zip"), map[string]string{"1.xml": "<root>hi</root>"}, []string{"1.xml"})

	src := NewDirSource(root, xmlFilter)
	rc, info, err := src.OpenRecord(context.Background(), "a.zip", "1.xml")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "<root>hi</root>", string(data))
	assert.Equal(t, int64(len(data)), info.Size)

	_, _, err = src.OpenRecord(context.Background(), "a.zip", "missing.xml")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestDirSourceUnavailable(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.zip"), []byte("not a zip"), 0o600))

	src := NewDirSource(root, xmlFilter)

	_, err := src.ListRecords(context.Background(), "missing.zip")
	require.ErrorIs(t, err, ErrArchiveUnavailable)

	_, _, err = src.OpenRecord(context.Background(), "broken.zip", "1.xml")
	require.ErrorIs(t, err, ErrArchiveUnavailable)

	gone := NewDirSource(filepath.Join(root, "unmounted"), xmlFilter)
	require.ErrorIs(t, gone.Check(context.Background()), ErrStorageUnavailable)

	objCh, errCh := gone.ListContainers(context.Background())
	for range objCh {
	}
	require.ErrorIs(t, <-errCh, ErrStorageUnavailable)
}

func TestCleanEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"localhost:9000", "localhost:9000", false},
		{"http://localhost:9000", "localhost:9000", false},
		{"https://s3.example.com/", "s3.example.com", false},
		{"https://s3.example.com/bucket", "", true},
		{"s3.example.com/bucket", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cleanEndpoint(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter(t *testing.T) {
	f := Filter{ContainerPattern: "*.zip", RecordSuffix: ".xml"}
	assert.True(t, f.MatchContainer("cvs/123.zip"))
	assert.False(t, f.MatchContainer("123.tar"))
	assert.True(t, f.MatchRecord("dir/1.XML"))
	assert.False(t, f.MatchRecord("dir/"))
	assert.False(t, f.MatchRecord("1.txt"))
	assert.True(t, Filter{}.MatchRecord("anything"))
}
