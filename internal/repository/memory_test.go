package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
	"github.com/dharsanguruparan/sonoral/internal/model"
)

func TestMemoryAssets(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rec := &model.AssetRecord{
		OriginalFilename: "clip.mp3",
		StorageFilename:  "abc.mp3",
		RelativePath:     "2024/05/abc.mp3",
		MimeType:         "audio/mpeg",
		SizeBytes:        10,
	}
	id, err := m.InsertAsset(ctx, nil, rec)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, id)
	assert.False(t, rec.UploadedAt.IsZero())

	got, err := m.FindAssetByID(ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, *rec, *got)

	got.OriginalFilename = "mutated"
	again, err := m.FindAssetByID(ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, "clip.mp3", again.OriginalFilename)

	ok, err := m.PathReferenced(ctx, nil, "2024/05/abc.mp3")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.PathReferenced(ctx, nil, "2024/05/other.mp3")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.FindAssetByID(ctx, nil, id+100)
	assert.True(t, apperr.NotFound.Has(err))
}

func TestMemoryUsersAndCompositions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	u := &model.UserRecord{FirebaseID: "fb-1", Email: "a@example.com", Username: "ada"}
	uid, err := m.InsertUser(ctx, nil, u)
	require.NoError(t, err)
	got, err := m.FindUserByID(ctx, nil, uid)
	require.NoError(t, err)
	assert.Equal(t, *u, *got)

	c := &model.CompositionRecord{Info: "sketch", CreatingUserID: "fb-1"}
	cid, err := m.InsertComposition(ctx, nil, c)
	require.NoError(t, err)
	assert.NotEqual(t, uid, cid)
	gotC, err := m.FindCompositionByID(ctx, nil, cid)
	require.NoError(t, err)
	assert.Equal(t, *c, *gotC)

	_, err = m.FindUserByID(ctx, nil, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = m.FindCompositionByID(ctx, nil, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
