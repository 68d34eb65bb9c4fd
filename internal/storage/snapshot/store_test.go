package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string            `json:"name"`
	Items map[string]string `json:"items"`
}

func TestStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store, err := NewStore(path)
	require.NoError(t, err)

	var empty doc
	ok, err := store.Load(&empty)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(doc{Name: "main", Items: map[string]string{"a": "1"}}))

	var loaded doc
	ok, err = store.Load(&loaded)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "main", loaded.Name)
	assert.Equal(t, "1", loaded.Items["a"])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStore_LoadCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := NewStore(path)
	require.NoError(t, err)

	var d doc
	_, err = store.Load(&d)
	assert.Error(t, err)
}
