package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/model"
	"github.com/dharsanguruparan/sonoral/internal/pathalloc"
	"github.com/dharsanguruparan/sonoral/internal/repository"
	"github.com/dharsanguruparan/sonoral/internal/storage"
)

var audioTypes = []string{"mp3", "wav", "ogg", "m4a"}

type fixture struct {
	root    string
	backend *storage.Local
	store   *repository.Memory
	reclaim *recordingReclaimer
	coord   *Coordinator
}

func newFixture(t *testing.T, store AssetStore) *fixture {
	t.Helper()
	root := t.TempDir()
	backend, err := storage.NewLocal(root)
	require.NoError(t, err)
	mem := repository.NewMemory()
	if store == nil {
		store = mem
	}
	rec := &recordingReclaimer{}
	return &fixture{
		root:    root,
		backend: backend,
		store:   mem,
		reclaim: rec,
		coord:   New(zaptest.NewLogger(t), pathalloc.New(backend, audioTypes), backend, store, rec),
	}
}

func (f *fixture) countFiles(t *testing.T) int {
	t.Helper()
	n := 0
	require.NoError(t, filepath.WalkDir(f.root, func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return err
	}))
	return n
}

type recordingReclaimer struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingReclaimer) Reclaim(_ context.Context, relPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, relPath)
	return nil
}

type failingStore struct {
	*repository.Memory
}

func (failingStore) InsertAsset(context.Context, database.Querier, *model.AssetRecord) (int64, error) {
	return 0, errors.New("connection reset by peer")
}

func TestIngestSameNameTwice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	data := []byte("0123456789")

	first, err := f.coord.Ingest(ctx, nil, &Upload{Data: data, Filename: "clip.mp3", MimeType: "audio/mpeg"})
	require.NoError(t, err)
	second, err := f.coord.Ingest(ctx, nil, &Upload{Data: data, Filename: "clip.mp3", MimeType: "audio/mpeg"})
	require.NoError(t, err)

	for _, rec := range []*model.AssetRecord{first, second} {
		assert.Equal(t, "clip.mp3", rec.OriginalFilename)
		assert.EqualValues(t, 10, rec.SizeBytes)
		assert.Equal(t, "audio/mpeg", rec.MimeType)
		info, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(rec.RelativePath)))
		require.NoError(t, err)
		assert.EqualValues(t, 10, info.Size())
	}
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.StorageFilename, second.StorageFilename)
	assert.Equal(t, filepath.ToSlash(filepath.Dir(filepath.FromSlash(first.RelativePath))), filepath.ToSlash(filepath.Dir(filepath.FromSlash(second.RelativePath))))
}

func TestIngestRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, size := range []int{0, 1, 4096, 1 << 20} {
		data := bytes.Repeat([]byte{0xA5, 0x00, 0xFF}, size/3+1)[:size]
		rec, err := f.coord.Ingest(ctx, nil, &Upload{Data: data, Filename: "take.WAV"})
		require.NoError(t, err)
		assert.EqualValues(t, size, rec.SizeBytes)
		assert.Equal(t, DefaultMimeType, rec.MimeType)
		assert.Equal(t, ".wav", filepath.Ext(rec.StorageFilename))

		got, obj, err := f.coord.Open(ctx, nil, rec.ID)
		require.NoError(t, err)
		read, err := io.ReadAll(obj)
		require.NoError(t, obj.Close())
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.True(t, bytes.Equal(data, read), "size %d", size)
	}
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		up   *Upload
		want error
	}{
		{nil, apperr.ErrNoFile},
		{&Upload{Data: []byte("x")}, apperr.ErrEmptyFilename},
		{&Upload{Data: []byte("x"), Filename: "notes.txt"}, apperr.ErrInvalidFileType},
		{&Upload{Data: []byte("x"), Filename: "noextension"}, apperr.ErrInvalidFileType},
		{&Upload{Data: []byte("x"), Filename: "..mp3"}, apperr.ErrInvalidFileType},
	}
	for _, tc := range cases {
		_, err := f.coord.Ingest(ctx, nil, tc.up)
		require.Error(t, err)
		assert.True(t, apperr.Validation.Has(err))
		assert.ErrorIs(t, err, tc.want)
	}
	assert.Zero(t, f.countFiles(t))
	_, err := f.store.FindAssetByID(ctx, nil, 1)
	assert.True(t, apperr.NotFound.Has(err), "no rows may be inserted")
}

func TestIngestInsertFailureReclaimsFile(t *testing.T) {
	f := newFixture(t, failingStore{repository.NewMemory()})

	_, err := f.coord.Ingest(context.Background(), nil, &Upload{Data: []byte("abc"), Filename: "a.ogg"})
	require.Error(t, err)
	assert.True(t, apperr.Persistence.Has(err))
	assert.Equal(t, "database error", apperr.Message(err))

	require.Len(t, f.reclaim.paths, 1)
	ok, err := f.backend.Exists(context.Background(), f.reclaim.paths[0])
	require.NoError(t, err)
	assert.True(t, ok, "file stays until the reclaimer removes it")
}

type brokenWrites struct {
	*storage.Local
	existsOnce bool
	mu         sync.Mutex
}

func (b *brokenWrites) Create(ctx context.Context, rel string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.existsOnce {
		b.existsOnce = false
		return storage.ErrExists
	}
	return errors.New("no space left on device")
}

type countingStore struct {
	*repository.Memory
	inserts int
}

func (c *countingStore) InsertAsset(ctx context.Context, q database.Querier, rec *model.AssetRecord) (int64, error) {
	c.inserts++
	return c.Memory.InsertAsset(ctx, q, rec)
}

func TestIngestWriteFailureInsertsNothing(t *testing.T) {
	local, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	backend := &brokenWrites{Local: local, existsOnce: true}
	store := &countingStore{Memory: repository.NewMemory()}
	coord := New(zaptest.NewLogger(t), pathalloc.New(backend, audioTypes), backend, store, nil)

	_, err = coord.Ingest(context.Background(), nil, &Upload{Data: []byte("abc"), Filename: "a.m4a"})
	require.Error(t, err)
	assert.True(t, apperr.StorageWrite.Has(err))
	assert.Equal(t, "failed to store file", apperr.Message(err))
	assert.NotContains(t, apperr.Message(err), local.Root())
	assert.Zero(t, store.inserts)
}

func TestIngestConcurrentIdenticalNames(t *testing.T) {
	f := newFixture(t, nil)

	const n = 16
	recs := make([]*model.AssetRecord, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			rec, err := f.coord.Ingest(context.Background(), nil, &Upload{Data: []byte("0123456789"), Filename: "clip.mp3"})
			recs[i] = rec
			return err
		})
	}
	require.NoError(t, g.Wait())

	names := map[string]struct{}{}
	ids := map[int64]struct{}{}
	for _, rec := range recs {
		names[rec.RelativePath] = struct{}{}
		ids[rec.ID] = struct{}{}
	}
	assert.Len(t, names, n)
	assert.Len(t, ids, n)
	assert.Equal(t, n, f.countFiles(t))
}

func TestLookupUnknownID(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.coord.Lookup(context.Background(), nil, 42)
	require.Error(t, err)
	assert.True(t, apperr.NotFound.Has(err))

	_, _, err = f.coord.Open(context.Background(), nil, 42)
	assert.True(t, apperr.NotFound.Has(err))
}

func TestOpenMissingFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec, err := f.coord.Ingest(ctx, nil, &Upload{Data: []byte("x"), Filename: "a.mp3"})
	require.NoError(t, err)
	require.NoError(t, f.backend.Remove(ctx, rec.RelativePath))

	_, _, err = f.coord.Open(ctx, nil, rec.ID)
	assert.True(t, apperr.NotFound.Has(err))
}
