package catalog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStoreLifecycle(t *testing.T) {
	store := NewStore()
	apple, err := New(gbp, Fields{Name: Text("Green Apple"), Price: Float(0.5)}, zerolog.Nop())
	require.NoError(t, err)
	pear, err := New(gbp, Fields{Name: Text("pear"), Price: Float(0.75)}, zerolog.Nop())
	require.NoError(t, err)
	store.Put(apple)
	store.Put(pear)

	got, err := store.Get("green apple")
	require.NoError(t, err)
	require.Equal(t, int64(50), got.Price().Amount)

	list := store.List()
	require.Len(t, list, 2)
	require.Equal(t, "green_apple", list[0].Name())

	updated, err := store.Update("green_apple", func(it *Item) error {
		return it.SetPrice(Int(1))
	})
	require.NoError(t, err)
	require.Equal(t, int64(100), updated.Price().Amount)
	require.Equal(t, int64(50), got.Price().Amount)

	_, err = store.Update("green_apple", func(it *Item) error {
		it.SetName(Text("pear"))
		return nil
	})
	require.ErrorIs(t, err, ErrExists)

	_, err = store.Update("green_apple", func(it *Item) error {
		it.SetName(Text("Red Apple"))
		return nil
	})
	require.NoError(t, err)
	_, err = store.Get("green_apple")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get("red_apple")
	require.NoError(t, err)

	require.NoError(t, store.Delete("pear"))
	require.ErrorIs(t, store.Delete("pear"), ErrNotFound)
	require.Equal(t, 1, store.Len())
}
