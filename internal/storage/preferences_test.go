package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage_Preferences(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()

	got, err := store.GetPreference(ctx, "currency")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.SetPreference(ctx, "currency", "USD"))
	require.NoError(t, store.SetPreference(ctx, "currency", "EUR"))
	require.NoError(t, store.SetPreference(ctx, "theme", "dark"))

	got, err = store.GetPreference(ctx, "currency")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "EUR", *got)

	all, err := store.ListPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"currency": "EUR", "theme": "dark"}, all)

	require.NoError(t, store.DeletePreference(ctx, "currency"))
	require.NoError(t, store.DeletePreference(ctx, "currency"))

	got, err = store.GetPreference(ctx, "currency")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, store.SetPreference(ctx, "", "x"), ErrEmptyString)
}
