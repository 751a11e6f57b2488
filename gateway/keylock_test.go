package gateway

import (
	"sync"
	"testing"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	locks := newKeyLock()

	const goroutines = 100
	var (
		wg      sync.WaitGroup
		counter int
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			locks.lock("a@x.com\x00status")
			counter++ // data race unless the lock serializes us
			locks.unlock("a@x.com\x00status")
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Errorf("counter = %d, want %d", counter, goroutines)
	}
}

func TestKeyLock_DistinctKeysDoNotBlock(t *testing.T) {
	locks := newKeyLock()

	locks.lock("a")
	done := make(chan struct{})
	go func() {
		locks.lock("b") // must not wait on "a"
		locks.unlock("b")
		close(done)
	}()
	<-done
	locks.unlock("a")
}

func TestKeyLock_EntriesAreReclaimed(t *testing.T) {
	locks := newKeyLock()

	for i := 0; i < 10; i++ {
		locks.lock("k")
		locks.unlock("k")
	}

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Errorf("lock map holds %d entries after release, want 0", len(locks.locks))
	}
}
