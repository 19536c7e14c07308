package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTurnGuardRejectsSecondTurn(t *testing.T) {
	g := NewTurnGuard()
	if !g.TryAcquire("c1") {
		t.Fatal("first acquire must succeed")
	}
	if g.TryAcquire("c1") {
		t.Fatal("second acquire for the same conversation must fail")
	}
	if !g.TryAcquire("c2") {
		t.Fatal("other conversations are independent")
	}
	g.Release("c1")
	if g.Busy("c1") {
		t.Fatal("released conversation must not be busy")
	}
	if !g.TryAcquire("c1") {
		t.Fatal("acquire after release must succeed")
	}
}

func TestTurnGuardConcurrentAcquire(t *testing.T) {
	g := NewTurnGuard()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire("same") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestSafeGoRecoversPanic(t *testing.T) {
	got := make(chan interface{}, 1)
	SafeGo(context.Background(), func() { panic("boom") }, func(r interface{}) { got <- r })
	select {
	case r := <-got:
		if r != "boom" {
			t.Fatalf("unexpected panic value %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("onPanic was not called")
	}
}
