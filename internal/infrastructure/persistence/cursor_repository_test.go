package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orderbridge/backend/internal/domain/ingestion"
	"github.com/orderbridge/backend/internal/infrastructure/persistence/models"
)

func newTestCursorStore(t *testing.T) *GormCursorStore {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SourceCursorModel{}))
	return NewGormCursorStore(db)
}

func TestCursorStore_LoadMissing(t *testing.T) {
	store := newTestCursorStore(t)
	_, err := store.Load(context.Background(), "acme-rest")
	assert.ErrorIs(t, err, ingestion.ErrCursorNotFound)
}

func TestCursorStore_SaveAndOverwrite(t *testing.T) {
	store := newTestCursorStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "acme-rest", "c1"))
	cursor, err := store.Load(ctx, "acme-rest")
	require.NoError(t, err)
	assert.Equal(t, "c1", cursor)

	require.NoError(t, store.Save(ctx, "acme-rest", "c2"))
	cursor, err = store.Load(ctx, "acme-rest")
	require.NoError(t, err)
	assert.Equal(t, "c2", cursor)
}

func TestCursorStore_IsolatedPerSource(t *testing.T) {
	store := newTestCursorStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "acme-rest", "c1"))
	require.NoError(t, store.Save(ctx, "other-rest", "z9"))

	cursor, err := store.Load(ctx, "acme-rest")
	require.NoError(t, err)
	assert.Equal(t, "c1", cursor)
}
