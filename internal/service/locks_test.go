package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockOrder(t *testing.T) {
	assert.Equal(t, []int64{1, 2}, lockOrder([]int64{2, 1}))
	assert.Equal(t, []int64{3}, lockOrder([]int64{3, 3}))
	assert.Equal(t, []int64{1, 5, 9}, lockOrder([]int64{9, 1, 5, 1}))
}

func TestAccountLocks_ReleaseDropsEntries(t *testing.T) {
	l := newAccountLocks()

	unlock := l.Lock(1, 2)
	assert.Equal(t, 2, l.size())
	unlock()
	assert.Equal(t, 0, l.size())

	// same id twice must not self-deadlock
	unlock = l.Lock(4, 4)
	unlock()
	assert.Equal(t, 0, l.size())
}

func TestAccountLocks_OppositeOrderDoesNotDeadlock(t *testing.T) {
	l := newAccountLocks()
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Lock(1, 2)()
		}()
		go func() {
			defer wg.Done()
			l.Lock(2, 1)()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock acquisition deadlocked")
	}
	assert.Equal(t, 0, l.size())
}

func TestAccountLocks_Exclusive(t *testing.T) {
	l := newAccountLocks()
	var (
		wg      sync.WaitGroup
		counter int
	)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(7)
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}
