package saves

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)

	saveData := []byte(`{"owner":"alice","scores":{"alice":{"score":3,"wins":1},"bob":{"score":1,"wins":0}}}`)
	require.NoError(t, store.Put("friday", saveData))

	got, err := store.Get("friday")
	require.NoError(t, err)
	require.JSONEq(t, string(saveData), string(got))
}

func TestPutReplacesExistingName(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("friday", []byte(`{"owner":"alice","scores":{}}`)))
	require.NoError(t, store.Put("friday", []byte(`{"owner":"bob","scores":{"bob":{"score":5,"wins":2}}}`)))

	got, err := store.Get("friday")
	require.NoError(t, err)
	require.JSONEq(t, `{"owner":"bob","scores":{"bob":{"score":5,"wins":2}}}`, string(got))

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, "bob", metas[0].Owner)
}

func TestPutRequiresName(t *testing.T) {
	store := openTestStore(t)
	require.Error(t, store.Put("", []byte(`{"scores":{}}`)))
}

func TestGetMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersByRecency(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("older", []byte(`{"scores":{}}`)))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Put("newer", []byte(`{"scores":{}}`)))

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, "newer", metas[0].Name)
	require.Equal(t, "older", metas[1].Name)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("friday", []byte(`{"scores":{}}`)))
	require.NoError(t, store.Delete("friday"))
	_, err := store.Get("friday")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, store.Delete("friday"), ErrNotFound)
}

func TestOwnerExtractionIsOptional(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("legacy", []byte(`{"scores":{"carol":{"score":2,"wins":0}}}`)))
	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Empty(t, metas[0].Owner)
}
