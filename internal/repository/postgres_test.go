package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/model"
)

// withDatabase runs fn against SONORAL_TEST_DATABASE_URL or skips.
func withDatabase(t *testing.T, fn func(ctx context.Context, q database.Querier)) {
	t.Helper()
	dsn := os.Getenv("SONORAL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SONORAL_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgx, err := database.Connect(ctx, dsn, database.PoolConfig{MinConns: 1, MaxConns: 2})
	require.NoError(t, err)
	defer pgx.Close()

	pool := database.NewPool(zaptest.NewLogger(t), database.PgxSource{Pool: pgx}, database.Options{MaxConns: 2})
	require.NoError(t, pool.WithLease(ctx, func(q database.Querier) error {
		if err := database.EnsureSchema(ctx, q); err != nil {
			return err
		}
		fn(ctx, q)
		return nil
	}))
}

func TestPostgresAssets(t *testing.T) {
	withDatabase(t, func(ctx context.Context, q database.Querier) {
		repo := NewPostgres()
		rec := &model.AssetRecord{
			OriginalFilename: "clip.mp3",
			StorageFilename:  "pg-test.mp3",
			RelativePath:     "2024/05/pg-test.mp3",
			MimeType:         "audio/mpeg",
			SizeBytes:        10,
		}
		id, err := repo.InsertAsset(ctx, q, rec)
		require.NoError(t, err)
		assert.NotZero(t, id)

		got, err := repo.FindAssetByID(ctx, q, id)
		require.NoError(t, err)
		assert.Equal(t, rec.RelativePath, got.RelativePath)
		assert.EqualValues(t, 10, got.SizeBytes)

		ok, err := repo.PathReferenced(ctx, q, rec.RelativePath)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = repo.FindAssetByID(ctx, q, -1)
		assert.True(t, apperr.NotFound.Has(err))
	})
}

func TestPostgresUsersAndCompositions(t *testing.T) {
	withDatabase(t, func(ctx context.Context, q database.Querier) {
		repo := NewPostgres()
		u := &model.UserRecord{FirebaseID: "fb", Email: "e@example.com", Username: "u"}
		uid, err := repo.InsertUser(ctx, q, u)
		require.NoError(t, err)
		gotU, err := repo.FindUserByID(ctx, q, uid)
		require.NoError(t, err)
		assert.Equal(t, *u, *gotU)

		c := &model.CompositionRecord{CreatingUserID: "fb"}
		cid, err := repo.InsertComposition(ctx, q, c)
		require.NoError(t, err)
		gotC, err := repo.FindCompositionByID(ctx, q, cid)
		require.NoError(t, err)
		assert.Equal(t, "", gotC.Info)
	})
}
