package keymutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyMutex_MutualExclusion(t *testing.T) {
	m := New(8)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("same-key")
			counter++
			m.Unlock("same-key")
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestRWKeyMutex(t *testing.T) {
	t.Run("writer excludes writers", func(t *testing.T) {
		m := NewRW(8)
		counter := 0

		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.Lock("same-key")
				counter++
				m.Unlock("same-key")
			}()
		}
		wg.Wait()

		assert.Equal(t, 100, counter)
	})

	t.Run("readers on one key admit each other", func(t *testing.T) {
		m := NewRW(8)
		m.RLock("k")
		m.RLock("k")
		m.RUnlock("k")
		m.RUnlock("k")
	})

	t.Run("writer waits for the read side", func(t *testing.T) {
		m := NewRW(8)
		m.RLock("k")

		acquired := make(chan struct{})
		go func() {
			m.Lock("k")
			close(acquired)
			m.Unlock("k")
		}()

		select {
		case <-acquired:
			t.Fatal("write lock acquired while a reader held the stripe")
		case <-time.After(20 * time.Millisecond):
		}

		m.RUnlock("k")
		<-acquired
	})
}
