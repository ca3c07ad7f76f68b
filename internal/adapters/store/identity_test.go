package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/LiveSession/internal/core"
	"github.com/dkeye/LiveSession/internal/domain"
)

var (
	_ core.IdentityStore = (*File)(nil)
	_ core.IdentityStore = (*Memory)(nil)
)

func testStore(t *testing.T, s core.IdentityStore) {
	_, ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	want := domain.Identity{Channel: "hall-1", Token: "tok", UID: 42, DisplayName: "Alice"}
	require.NoError(t, s.Save(want))
	got, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	_, ok, err = s.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFile(t *testing.T) {
	testStore(t, NewFile(filepath.Join(t.TempDir(), "nested", "identity.json")))
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestFileUsesPersistedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	s := NewFile(path)
	require.NoError(t, s.Save(domain.Identity{Channel: "c", Token: "t", UID: 7, DisplayName: "Bob"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"channelId":"c","accessToken":"t","localParticipantId":7,"localDisplayName":"Bob"}`, string(data))
}

func TestFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, _, err := NewFile(path).Load()
	require.Error(t, err)
}
