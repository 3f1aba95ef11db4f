package eventloop

import (
	"sync"
	"testing"
	"time"
)

func TestPostRunsSerialized(t *testing.T) {
	l := New()
	defer l.Stop()

	var mu sync.Mutex
	order := []int{}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		l.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	if len(order) != 5 {
		t.Fatalf("expected 5 callbacks to run, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected callbacks to run in post order, got %v", order)
		}
	}
}

func TestScheduleTimerCancelBeforeFire(t *testing.T) {
	l := New()
	defer l.Stop()

	fired := make(chan int64, 1)
	h := l.ScheduleTimer(50*time.Millisecond, func(gen int64) { fired <- gen })
	if !h.Cancel() {
		t.Fatalf("expected cancel to succeed before fire")
	}
	select {
	case <-fired:
		t.Fatalf("timer fired despite cancellation")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduleTimerFiresWithGeneration(t *testing.T) {
	l := New()
	defer l.Stop()

	fired := make(chan int64, 1)
	h := l.ScheduleTimer(10*time.Millisecond, func(gen int64) { fired <- gen })
	select {
	case gen := <-fired:
		if gen != h.Generation() {
			t.Errorf("expected generation %d, got %d", h.Generation(), gen)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timer never fired")
	}
}
