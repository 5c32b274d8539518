package bus

import (
	"sync"
	"testing"
)

func TestPublishOrder(t *testing.T) {
	b := New()
	var got []int

	b.Subscribe("x", func(Event) { got = append(got, 1) })
	b.Subscribe("x", func(Event) { got = append(got, 2) })
	b.SubscribeAll(func(Event) { got = append(got, 3) })

	b.Publish("x", nil)

	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestWildcardReceivesAll(t *testing.T) {
	b := New()
	var names []string
	b.SubscribeAll(func(ev Event) { names = append(names, ev.Name) })

	b.Publish("a", nil)
	b.Publish("b", 42)

	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("wildcard saw %v, want [a b]", names)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	unsub := b.Subscribe("x", func(Event) { calls++ })

	b.Publish("x", nil)
	unsub()
	b.Publish("x", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOnce(t *testing.T) {
	b := New()
	calls := 0
	b.Once("x", func(ev Event) string {
		calls++
		if ev.Payload == "stop" {
			return Done
		}
		return ""
	})

	b.Publish("x", "keep")
	b.Publish("x", "stop")
	b.Publish("x", "after")

	if calls != 2 {
		t.Errorf("calls = %d, want 2 (handler stays until it returns Done)", calls)
	}
}

func TestSubscriberPanicIsolated(t *testing.T) {
	b := New()
	reached := false
	b.Subscribe("x", func(Event) { panic("boom") })
	b.Subscribe("x", func(Event) { reached = true })

	b.Publish("x", nil) // must not panic

	if !reached {
		t.Error("second subscriber not reached after first panicked")
	}
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				unsub := b.Subscribe("x", func(Event) {})
				unsub()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish("x", j)
			}
		}()
	}
	wg.Wait()
}
