package subscription

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_SubscribeBothSides(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Subscribe("a", 7))
	assert.False(t, r.Subscribe("a", 7), "duplicate subscribe is not new")
	r.Subscribe("b", 7)
	r.Subscribe("a", 8)

	assert.Equal(t, []string{"a", "b"}, r.Subscribers(7))
	assert.Equal(t, []int64{7, 8}, r.MachinesOf("a"))
	assert.Equal(t, []int64{7, 8}, r.Machines())
	assert.True(t, r.IsSubscribed("b", 7))
}

func TestRegistry_UnsubscribePrunesEmptySets(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("a", 7)

	assert.True(t, r.Unsubscribe("a", 7))
	assert.False(t, r.Unsubscribe("a", 7))
	assert.False(t, r.Unsubscribe("ghost", 7))

	assert.Empty(t, r.Subscribers(7))
	assert.Empty(t, r.Machines())
	assert.Empty(t, r.MachinesOf("a"))
}

func TestRegistry_RemoveClient(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("a", 1)
	r.Subscribe("a", 2)
	r.Subscribe("b", 2)

	assert.Equal(t, []int64{1, 2}, r.RemoveClient("a"))
	assert.Nil(t, r.RemoveClient("a"))

	assert.Empty(t, r.Subscribers(1))
	assert.Equal(t, []string{"b"}, r.Subscribers(2))
	assert.Equal(t, []int64{2}, r.Machines())
}

func TestRegistry_SubscribersIsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("a", 1)

	snapshot := r.Subscribers(1)
	r.Subscribe("b", 1)

	assert.Equal(t, []string{"a"}, snapshot)
}

func TestRegistry_ConcurrentMutation(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client := fmt.Sprintf("c%d", i)
			r.Subscribe(client, int64(i%5))
			r.Subscribers(int64(i % 5))
			if i%2 == 0 {
				r.RemoveClient(client)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, m := range r.Machines() {
		total += len(r.Subscribers(m))
	}
	assert.Equal(t, 25, total)
}
