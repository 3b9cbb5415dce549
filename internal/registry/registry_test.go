package registry

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Samuel1505/quest-marketplace/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Holding{}))

	return NewStore(db)
}

func TestRegisterAndOwnerOf(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Register("quest-assets", 1, "alice"))

	owner, err := store.OwnerOf("quest-assets", 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	_, err = store.OwnerOf("quest-assets", 2)
	assert.Error(t, err)
}

func TestTransfer(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Register("quest-assets", 1, "alice"))

	require.NoError(t, store.Transfer("quest-assets", 1, "alice", "bob"))

	owner, err := store.OwnerOf("quest-assets", 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)
}

func TestTransfer_WrongOwner(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Register("quest-assets", 1, "alice"))

	err := store.Transfer("quest-assets", 1, "bob", "carol")
	assert.ErrorIs(t, err, types.ErrAssetNotOwned)

	// Ownership did not move
	owner, err := store.OwnerOf("quest-assets", 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}
