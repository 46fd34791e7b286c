package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordIsIdempotent(t *testing.T) {
	c := NewCache(10)
	c.Record("a")
	c.Record("a")
	assert.True(t, c.Seen("a"))
	assert.Equal(t, 1, c.Len())
}

func TestForgetClearsToken(t *testing.T) {
	c := NewCache(10)
	c.Record("a")
	c.Forget("a")
	assert.False(t, c.Seen("a"))
	c.Forget("missing")
	assert.Equal(t, 0, c.Len())
}

func TestCapacityBoundKeepsNewest(t *testing.T) {
	c := NewCache(DefaultCapacity)
	for i := 0; i <= DefaultCapacity; i++ {
		c.Record(fmt.Sprintf("tok-%d", i))
	}
	require.LessOrEqual(t, c.Len(), DefaultCapacity)
	assert.True(t, c.Seen(fmt.Sprintf("tok-%d", DefaultCapacity)))
	assert.False(t, c.Seen("tok-0"))
}

func TestEvictionDropsOldestHalf(t *testing.T) {
	c := NewCache(4)
	for _, tok := range []string{"a", "b", "c", "d"} {
		c.Record(tok)
	}
	c.Record("e")

	assert.False(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
	assert.True(t, c.Seen("c"))
	assert.True(t, c.Seen("d"))
	assert.True(t, c.Seen("e"))
	assert.Equal(t, 3, c.Len())
}

func TestTryRecordClaimsOnce(t *testing.T) {
	c := NewCache(0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryRecord("same") {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claimed)
}
