package optimization

import (
	"context"
	"sync"
	"testing"
)

func TestAtomicAbortSignal(t *testing.T) {
	a := NewAtomicAbortSignal()
	if a.IsSet() {
		t.Fatal("fresh signal must be unset")
	}
	a.Set()
	if !a.IsSet() {
		t.Fatal("signal not set after Set")
	}
	a.Set() // idempotent
	if !a.IsSet() {
		t.Fatal("second Set cleared the signal")
	}
}

func TestAtomicAbortSignalConcurrent(t *testing.T) {
	a := NewAtomicAbortSignal()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Set()
		}()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !a.IsSet() {
		}
	}()
	wg.Wait()
	<-done

	if !a.IsSet() {
		t.Fatal("signal lost under concurrent Set")
	}
}

func TestNopAbortSignal(t *testing.T) {
	var n NopAbortSignal
	n.Set()
	if n.IsSet() {
		t.Fatal("nop signal must never report set")
	}
}

func TestContextAbortSignal(t *testing.T) {
	t.Run("set cancels", func(t *testing.T) {
		c := NewContextAbortSignal(context.Background())
		if c.IsSet() {
			t.Fatal("fresh signal must be unset")
		}
		c.Set()
		if !c.IsSet() {
			t.Fatal("signal not set after Set")
		}
	})

	t.Run("parent cancellation propagates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		c := NewContextAbortSignal(ctx)
		cancel()
		if !c.IsSet() {
			t.Fatal("parent cancellation not observed")
		}
	})
}
