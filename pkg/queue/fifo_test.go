package queue

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestFIFO_Empty(t *testing.T) {
	q := NewFIFO[string](testLogger())
	if q.Len() != 0 {
		t.Errorf("New queue Len() = %d, want 0", q.Len())
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() on empty queue returned ok=true")
	}
}

func TestFIFO_Order(t *testing.T) {
	q := NewFIFO[string](testLogger())
	for _, u := range []string{"a", "b", "c"} {
		q.Push(u)
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() returned ok=false, want %q", want)
		}
		if got != want {
			t.Errorf("Pop() = %q, want %q", got, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() after draining returned ok=true")
	}
}

func TestFIFO_InterleavedPushPop(t *testing.T) {
	q := NewFIFO[int](testLogger())
	next := 0
	for i := range 5000 {
		q.Push(i)
		if i%3 == 0 {
			got, _ := q.Pop()
			if got != next {
				t.Fatalf("Pop() = %d, want %d", got, next)
			}
			next++
		}
	}
	for q.Len() > 0 {
		got, _ := q.Pop()
		if got != next {
			t.Fatalf("Pop() = %d, want %d", got, next)
		}
		next++
	}
	if next != 5000 {
		t.Errorf("popped %d items, want 5000", next)
	}
}

func TestFIFO_PushAfterClose(t *testing.T) {
	q := NewFIFO[string](testLogger())
	q.Push("kept")
	q.Close()
	q.Push("dropped")

	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	if got, _ := q.Pop(); got != "kept" {
		t.Errorf("Pop() = %q, want %q", got, "kept")
	}
}

func TestFIFO_ConcurrentPush(t *testing.T) {
	q := NewFIFO[string](testLogger())
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				q.Push(fmt.Sprintf("%d-%d", w, i))
			}
		}()
	}
	wg.Wait()
	if q.Len() != 800 {
		t.Errorf("Len() = %d, want 800", q.Len())
	}
}
