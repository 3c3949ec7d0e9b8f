package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_CyclesInOrder(t *testing.T) {
	d := New([]string{"a:1", "b:2", "c:3"})

	for round := 0; round < 3; round++ {
		for _, want := range []string{"a:1", "b:2", "c:3"} {
			got, ok := d.Next()
			require.True(t, ok)
			assert.Equal(t, want, got)
		}
	}
}

func TestNext_EmptyDispatcherNeverSelects(t *testing.T) {
	d := New(nil)
	_, ok := d.Next()
	assert.False(t, ok)
}

func TestNext_SingleEndpointAlwaysReturnsIt(t *testing.T) {
	d := New([]string{"only:1"})
	for i := 0; i < 5; i++ {
		got, ok := d.Next()
		require.True(t, ok)
		assert.Equal(t, "only:1", got)
	}
}

func TestNext_FairUnderConcurrentSelection(t *testing.T) {
	endpoints := []string{"a:1", "b:2", "c:3", "d:4"}
	d := New(endpoints)

	const perEndpoint = 250
	total := perEndpoint * len(endpoints)

	counts := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok := d.Next()
			require.True(t, ok)
			mu.Lock()
			counts[got]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, ep := range endpoints {
		assert.Equal(t, perEndpoint, counts[ep], "endpoint %s should be selected exactly once per full cycle", ep)
	}
}
