package mqttc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotRegistry(t *testing.T) {
	t.Run("acquire fills free slots", func(t *testing.T) {
		r := NewSlotRegistry(2)
		a, b, c := &Client{}, &Client{}, &Client{}

		slot, err := r.Acquire(a)
		require.NoError(t, err)
		assert.Equal(t, 0, slot)

		slot, err = r.Acquire(b)
		require.NoError(t, err)
		assert.Equal(t, 1, slot)

		_, err = r.Acquire(c)
		assert.ErrorIs(t, err, ErrNoResources)

		assert.Equal(t, 2, r.Len())
		assert.Equal(t, 2, r.Cap())
		assert.Same(t, b, r.Lookup(1))
	})

	t.Run("acquire is idempotent", func(t *testing.T) {
		r := NewSlotRegistry(2)
		a := &Client{}

		first, _ := r.Acquire(a)
		second, err := r.Acquire(a)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("release frees the slot", func(t *testing.T) {
		r := NewSlotRegistry(2)
		a, b, c := &Client{}, &Client{}, &Client{}
		_, _ = r.Acquire(a)
		_, _ = r.Acquire(b)

		r.Release(a)
		r.Release(a)
		assert.Equal(t, 1, r.Len())
		assert.Nil(t, r.Lookup(0))

		slot, err := r.Acquire(c)
		require.NoError(t, err)
		assert.Equal(t, 0, slot)
	})

	t.Run("lookup out of range", func(t *testing.T) {
		r := NewSlotRegistry(1)
		assert.Nil(t, r.Lookup(-1))
		assert.Nil(t, r.Lookup(1))
	})

	t.Run("range in slot order and early stop", func(t *testing.T) {
		r := NewSlotRegistry(3)
		a, b := &Client{ClientID: "a"}, &Client{ClientID: "b"}
		_, _ = r.Acquire(a)
		_, _ = r.Acquire(&Client{})
		_, _ = r.Acquire(b)
		r.Release(r.Lookup(1))

		var ids []string
		r.Range(func(c *Client) bool {
			ids = append(ids, c.ClientID)
			return true
		})
		assert.Equal(t, []string{"a", "b"}, ids)

		var visited int
		r.Range(func(*Client) bool {
			visited++
			return false
		})
		assert.Equal(t, 1, visited)
	})

	t.Run("reset", func(t *testing.T) {
		r := NewSlotRegistry(2)
		_, _ = r.Acquire(&Client{})

		r.Reset()
		assert.Equal(t, 0, r.Len())
		assert.Nil(t, r.Lookup(0))
	})
}
