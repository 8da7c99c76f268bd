package storage

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCreateIsExclusive(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, l.EnsureDir(ctx, "2024/05"))

	require.NoError(t, l.Create(ctx, "2024/05/a.mp3", []byte("first")))
	err = l.Create(ctx, "2024/05/a.mp3", []byte("second"))
	require.ErrorIs(t, err, ErrExists)

	f, err := l.Open(ctx, "2024/05/a.mp3")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	size, err := l.Size(ctx, "2024/05/a.mp3")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)
}

func TestLocalRejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, p := range []string{"../x.mp3", "/etc/passwd", "", "2024/../../x"} {
		_, err := l.Exists(ctx, p)
		assert.Error(t, err, p)
	}
}

func TestLocalEnsureDirRace(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.EnsureDir(ctx, "2031/12")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestLocalWalkAndRemove(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, l.EnsureDir(ctx, "2024/05"))
	require.NoError(t, l.EnsureDir(ctx, "2024/06"))
	require.NoError(t, l.Create(ctx, "2024/05/a.mp3", []byte("aa")))
	require.NoError(t, l.Create(ctx, "2024/06/b.wav", []byte("bbb")))

	seen := map[string]int64{}
	require.NoError(t, l.Walk(ctx, func(e Entry) error {
		seen[e.RelativePath] = e.Size
		return nil
	}))
	assert.Equal(t, map[string]int64{"2024/05/a.mp3": 2, "2024/06/b.wav": 3}, seen)

	require.NoError(t, l.Remove(ctx, "2024/05/a.mp3"))
	ok, err := l.Exists(ctx, "2024/05/a.mp3")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, l.Remove(ctx, "2024/05/a.mp3"), ErrNotExist)
}
