package cache

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	require.False(t, ok)

	v, ok = c.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, v)

	keys := c.Keys()
	sort.Strings(keys)
	require.Equal(t, []string{"b"}, keys)

	c.Delete("b")
	_, ok = c.Get("b")
	require.False(t, ok)
}
