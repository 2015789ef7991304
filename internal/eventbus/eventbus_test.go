package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishSubscribe(t *testing.T) {
	b := New[int](4)
	defer b.Close()
	_, ch := b.Subscribe()
	b.Publish(42)
	assert.Equal(t, 42, <-ch)
}

func TestOverflowDropsSubscriber(t *testing.T) {
	b := New[int](2)
	defer b.Close()
	var dropped []int
	b.OnDrop = func(id int) { dropped = append(dropped, id) }
	id, ch := b.Subscribe()
	b.Publish(1)
	b.Publish(2)
	// Third publish overflows the backlog: subscriber is disconnected,
	// the producer is never blocked.
	b.Publish(3)
	assert.Equal(t, []int{id}, dropped)
	assert.Equal(t, 0, b.Len())
	var got []int
	for v := range ch {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New[string](1)
	defer b.Close()
	id, ch := b.Subscribe()
	b.Unsubscribe(id)
	b.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}

func TestCloseThenSubscribe(t *testing.T) {
	b := New[int](1)
	b.Close()
	id, ch := b.Subscribe()
	assert.Equal(t, -1, id)
	_, open := <-ch
	assert.False(t, open)
	b.Publish(1) // no-op after close
}

func TestConcurrentPublish(t *testing.T) {
	b := New[int](1024)
	defer b.Close()
	_, ch := b.Subscribe()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(j)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, len(ch))
}
