package secrets_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-code/internal/infra/secrets"
)

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secrets.yaml")
	store := secrets.NewFileStore(path)
	ctx := context.Background()

	_, ok, err := store.ReadSecret(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.WriteSecret(ctx, "openai", "sk-one"))
	require.NoError(t, store.WriteSecret(ctx, "anthropic", "sk-ant"))
	require.NoError(t, store.WriteSecret(ctx, "openai", "sk-two"))

	value, ok, err := store.ReadSecret(ctx, "openai")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-two", value)

	value, ok, err = secrets.NewFileStore(path).ReadSecret(ctx, "anthropic")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-ant", value)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_MalformedFileDoesNotLeak(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sk-secret: [unterminated"), 0o600))

	_, _, err := secrets.NewFileStore(path).ReadSecret(context.Background(), "openai")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "sk-secret")
}
