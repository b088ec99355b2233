package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOwnerLocksSerializeSameOwner(t *testing.T) {
	locks := newOwnerLocks()

	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("owner-a")
			defer unlock()

			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max)
}

func TestOwnerLocksIndependentOwners(t *testing.T) {
	locks := newOwnerLocks()

	unlockA := locks.lock("owner-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.lock("owner-b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent owner blocked")
	}
}

func TestOwnerLocksEntriesReclaimed(t *testing.T) {
	locks := newOwnerLocks()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			owner := string(rune('a' + n%4))
			unlock := locks.lock(owner)
			time.Sleep(time.Millisecond)
			unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, locks.size())
}
