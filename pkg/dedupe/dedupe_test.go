package dedupe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckAndMark(t *testing.T) {
	c := NewCache(time.Hour, 100)

	require.False(t, c.Check("a"))
	require.False(t, c.CheckAndMark("a"))
	require.True(t, c.CheckAndMark("a"))
	require.True(t, c.Check("a"))

	c.Forget("a")
	require.False(t, c.Check("a"))
}

func TestTTLExpiry(t *testing.T) {
	c := NewCache(10*time.Millisecond, 100)
	require.False(t, c.CheckAndMark("a"))
	require.True(t, c.Check("a"))
	time.Sleep(20 * time.Millisecond)
	require.False(t, c.Check("a"))
	require.False(t, c.CheckAndMark("a"))
}

func TestEviction(t *testing.T) {
	c := NewCache(time.Hour, 3)
	for i := 0; i < 3; i++ {
		c.CheckAndMark(fmt.Sprintf("key%v", i))
	}
	// key0 is the oldest, so adding a 4th key evicts it
	c.CheckAndMark("key3")
	require.False(t, c.Check("key0"))
	require.True(t, c.Check("key1"))
	require.True(t, c.Check("key2"))
	require.True(t, c.Check("key3"))

	// Touching key1 moves it to the back, so key2 gets evicted next
	c.CheckAndMark("key1")
	c.CheckAndMark("key4")
	require.True(t, c.Check("key1"))
	require.False(t, c.Check("key2"))
}
