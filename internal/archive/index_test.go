package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"archivesampler/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu         sync.Mutex
	containers []string
	records    map[string][]string
	broken     map[string]bool
	down       bool
	listCalls  map[string]int
}

func newFakeSource(layout map[string][]string, order ...string) *fakeSource {
	return &fakeSource{
		containers: order,
		records:    layout,
		broken:     map[string]bool{},
		listCalls:  map[string]int{},
	}
}

func (f *fakeSource) ListContainers(ctx context.Context) (<-chan storage.ContainerInfo, <-chan error) {
	objCh := make(chan storage.ContainerInfo)
	errCh := make(chan error, 1)
	go func() {
		defer close(objCh)
		defer close(errCh)
		for _, name := range f.containers {
			select {
			case objCh <- storage.ContainerInfo{Name: name, Size: 100}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return objCh, errCh
}

func (f *fakeSource) ListRecords(ctx context.Context, container string) ([]storage.RecordInfo, error) {
	f.mu.Lock()
	f.listCalls[container]++
	f.mu.Unlock()

	if f.broken[container] {
		return nil, fmt.Errorf("%w: %s", storage.ErrArchiveUnavailable, container)
	}
	var out []storage.RecordInfo
	for _, r := range f.records[container] {
		out = append(out, storage.RecordInfo{Name: r})
	}
	return out, nil
}

func (f *fakeSource) OpenRecord(ctx context.Context, container, record string) (io.ReadCloser, storage.RecordInfo, error) {
	return io.NopCloser(strings.NewReader("")), storage.RecordInfo{Name: record}, nil
}

func (f *fakeSource) Check(ctx context.Context) error {
	if f.down {
		return storage.ErrStorageUnavailable
	}
	return nil
}

type memCache struct {
	counts map[string]int64
}

func (m *memCache) LookupBoundary(ctx context.Context, scope, container string) (int64, bool, error) {
	c, ok := m.counts[scope+"|"+container]
	return c, ok, nil
}

func (m *memCache) SaveBoundary(ctx context.Context, b Boundary) error {
	m.counts[b.Scope+"|"+b.Container] = b.Count
	return nil
}

func TestResolveFixedRecordsPerContainer(t *testing.T) {
	src := newFakeSource(nil, "a.zip", "b.zip", "c.zip", "d.zip")
	ix := Open(context.Background(), src, Options{RecordsPerContainer: 1}, zap.NewNop())
	defer ix.Close()

	for i, want := range []string{"a.zip", "c.zip", "d.zip"} {
		ord := []int64{0, 2, 3}[i]
		loc, err := ix.Resolve(context.Background(), ord)
		require.NoError(t, err)
		assert.Equal(t, want, loc.Container)
		assert.Equal(t, 0, loc.RecordIndex)
		assert.Empty(t, loc.Record)
		assert.Equal(t, int64(100), loc.ContainerSize)
	}
	assert.Empty(t, src.listCalls, "fixed mode must not open containers")

	_, err := ix.Resolve(context.Background(), 4)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestResolveVariableCounts(t *testing.T) {
	src := newFakeSource(map[string][]string{
		"a.zip": {"a1.xml", "a2.xml"},
		"b.zip": {},
		"c.zip": {"c1.xml", "c2.xml", "c3.xml"},
	}, "a.zip", "b.zip", "c.zip")

	ix := Open(context.Background(), src, Options{}, zap.NewNop())
	defer ix.Close()

	loc, err := ix.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "a.zip", loc.Container)
	assert.Equal(t, "a2.xml", loc.Record)

	loc, err = ix.Resolve(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "c.zip", loc.Container)
	assert.Equal(t, 1, loc.RecordIndex)
	assert.Equal(t, "c2.xml", loc.Record)

	_, err = ix.Resolve(context.Background(), 0)
	require.ErrorIs(t, err, ErrNotMonotonic)

	total, err := ix.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestResolveResumesFromCache(t *testing.T) {
	layout := map[string][]string{
		"a.zip": {"1.xml", "2.xml"},
		"b.zip": {"1.xml"},
		"c.zip": {"1.xml", "2.xml"},
	}
	cache := &memCache{counts: map[string]int64{}}

	opts := Options{Cache: cache, Scope: ".xml"}

	first := newFakeSource(layout, "a.zip", "b.zip", "c.zip")
	ix := Open(context.Background(), first, opts, zap.NewNop())
	_, err := ix.Resolve(context.Background(), 2)
	require.NoError(t, err)
	ix.Close()
	assert.Equal(t, map[string]int64{".xml|a.zip": 2, ".xml|b.zip": 1}, cache.counts)

	second := newFakeSource(layout, "a.zip", "b.zip", "c.zip")
	ix = Open(context.Background(), second, opts, zap.NewNop())
	defer ix.Close()

	loc, err := ix.Resolve(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "c.zip", loc.Container)
	assert.Equal(t, "2.xml", loc.Record)
	assert.Zero(t, second.listCalls["a.zip"])
	assert.Zero(t, second.listCalls["b.zip"])
}

func TestLocationsIterator(t *testing.T) {
	src := newFakeSource(nil, "a.zip", "b.zip", "c.zip")
	ix := Open(context.Background(), src, Options{RecordsPerContainer: 1}, zap.NewNop())
	defer ix.Close()

	var got []string
	var lastErr error
	for loc, err := range ix.Locations(context.Background(), []int64{0, 2, 7, 8}) {
		if err != nil {
			lastErr = err
			break
		}
		got = append(got, loc.Container)
	}
	assert.Equal(t, []string{"a.zip", "c.zip"}, got)
	require.ErrorIs(t, lastErr, ErrIndexOutOfRange)
}

func TestCacheIgnoresOtherScope(t *testing.T) {
	layout := map[string][]string{"a.zip": {"1.xml", "2.xml"}, "b.zip": {"1.xml"}}
	cache := &memCache{counts: map[string]int64{".txt|a.zip": 7}}

	src := newFakeSource(layout, "a.zip", "b.zip")
	ix := Open(context.Background(), src, Options{Cache: cache, Scope: ".xml"}, zap.NewNop())
	defer ix.Close()

	loc, err := ix.Resolve(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "b.zip", loc.Container)
	assert.Equal(t, 1, src.listCalls["a.zip"])
	assert.Equal(t, int64(2), cache.counts[".xml|a.zip"])
}

func TestUnreadableContainerDuringBuild(t *testing.T) {
	layout := map[string][]string{"a.zip": {"1.xml"}, "c.zip": {"1.xml"}}
	cache := &memCache{counts: map[string]int64{}}
	src := newFakeSource(layout, "a.zip", "b.zip", "c.zip")
	src.broken["b.zip"] = true

	ix := Open(context.Background(), src, Options{Cache: cache}, zap.NewNop())
	loc, err := ix.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "b.zip", loc.Container)
	assert.Equal(t, 0, loc.RecordIndex)
	assert.Empty(t, loc.Record)

	loc, err = ix.Resolve(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "c.zip", loc.Container)
	ix.Close()

	_, cached := cache.counts["|b.zip"]
	assert.False(t, cached, "placeholder count must not be cached")

	// Once repaired, the container is counted from its listing.
	src = newFakeSource(map[string][]string{"a.zip": {"1.xml"}, "b.zip": {"1.xml", "2.xml"}, "c.zip": {"1.xml"}}, "a.zip", "b.zip", "c.zip")
	ix = Open(context.Background(), src, Options{Cache: cache}, zap.NewNop())
	total, err := ix.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	ix.Close()

	src = newFakeSource(layout, "a.zip", "b.zip", "c.zip")
	src.broken["b.zip"] = true
	src.down = true
	ix = Open(context.Background(), src, Options{}, zap.NewNop())
	defer ix.Close()
	_, err = ix.Resolve(context.Background(), 1)
	require.ErrorIs(t, err, storage.ErrStorageUnavailable)
}
