package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func drain(ch chan []byte) []string {
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishSignal(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.PublishSignal("proof", "xfm", "data_changed")

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: signal.data_changed") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"node":"xfm"`) || !strings.Contains(s, `"graph":"proof"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestGraphFilter(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	proof := b.Subscribe("proof")
	defer b.Unsubscribe(proof)
	all := b.Subscribe("")
	defer b.Unsubscribe(all)

	b.PublishSignal("other", "src", "connected")
	b.PublishSignal("proof", "src", "connected")
	b.Publish(Event{Type: "cache.flushed", Data: map[string]int{}})

	got := drain(proof)
	if len(got) != 2 {
		t.Fatalf("filtered client got %d events, want 2: %q", len(got), got)
	}
	if strings.Contains(got[0], `"graph":"other"`) {
		t.Errorf("event of other graph delivered: %q", got[0])
	}
	if n := len(drain(all)); n != 3 {
		t.Errorf("unfiltered client got %d events, want 3", n)
	}
}

func TestPublishGraphEvent_Throttle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// First event should trigger graph.updated.
	b.PublishGraphEvent("created", "a")
	// Second event immediately should NOT trigger another graph.updated.
	b.PublishGraphEvent("updated", "b")
	// Resync carries no definition event.
	b.PublishGraphEvent("resync", "")

	graphCount := 0
	defCount := 0
	for _, s := range drain(ch) {
		switch {
		case strings.Contains(s, "event: graph.updated"):
			graphCount++
		case strings.Contains(s, "event: definition."):
			defCount++
		}
	}

	if defCount != 2 {
		t.Errorf("definition events = %d, want 2", defCount)
	}
	if graphCount != 1 {
		t.Errorf("graph events = %d, want 1 (throttled)", graphCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?graph=proof", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishSignal("proof", "out", "incomplete_graph")
	b.PublishSignal("other", "out", "released")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: signal.incomplete_graph") {
		t.Errorf("handler output missing event: %q", body)
	}
	if strings.Contains(body, "signal.released") {
		t.Errorf("handler delivered filtered event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.PublishSignal("g", "n", "visited")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.PublishSignal("g", "n", "released")
	b.PublishGraphEvent("updated", "g")
}
