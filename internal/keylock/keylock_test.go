package keylock

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(7)
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50, got %d", counter)
	}
	if l.Len() != 0 {
		t.Fatalf("expected entries to be released, %d left", l.Len())
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	l := New()
	unlockA := l.Lock(1)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock(2)
		unlock()
		close(done)
	}()
	<-done
}
