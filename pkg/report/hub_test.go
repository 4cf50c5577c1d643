package report

import (
	"testing"
	"time"
)

func TestHubPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ch1, cancel1 := h.Subscribe()
	defer cancel1()
	ch2, cancel2 := h.Subscribe()
	defer cancel2()

	h.Emit(EventTestStarted, map[string]any{"name": "first"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != EventTestStarted {
				t.Errorf("subscriber %d got type %q", i, e.Type)
			}
			if e.Timestamp.IsZero() {
				t.Errorf("subscriber %d got zero timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ch, cancel := h.Subscribe()
	cancel()

	// channel closed by cancel
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}

	// publishing after unsubscribe must not panic
	h.Emit(EventWarning, map[string]any{"message": "late"})
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	// overfill the buffer; Publish must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 400; i++ {
			h.Emit(EventLog, map[string]any{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	if got := len(ch); got > 256 {
		t.Errorf("buffered %d events, cap is 256", got)
	}
}

func TestHubCloseTerminatesSubscribers(t *testing.T) {
	h := NewHub()
	ch, _ := h.Subscribe()
	h.Close()

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after hub close")
	}

	// subscribing after close yields a closed channel
	ch2, cancel := h.Subscribe()
	defer cancel()
	if _, ok := <-ch2; ok {
		t.Fatal("post-close subscription should be closed")
	}
}

func TestPumpForwardsInOrder(t *testing.T) {
	h := NewHub()
	defer h.Close()

	var got []EventType
	rec := &recordingReporter{into: &got}
	stop := Pump(h, rec)

	h.Emit(EventSuiteStarted, nil)
	h.Emit(EventTestStarted, nil)
	h.Emit(EventTestFinished, nil)
	h.Emit(EventSuiteFinished, nil)

	deadline := time.Now().Add(time.Second)
	for {
		rec.mu.Lock()
		n := len(got)
		rec.mu.Unlock()
		if n == 4 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()

	want := []EventType{EventSuiteStarted, EventTestStarted, EventTestFinished, EventSuiteFinished}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
