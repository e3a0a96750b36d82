package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"osprey-eyes/mindseye/internal/httpclient"
)

type receiver struct {
	mu      sync.Mutex
	batches map[string][][]Payload
}

func newReceiver() *receiver {
	return &receiver{batches: make(map[string][][]Payload)}
}

func (r *receiver) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var batch []Payload
		if err := json.NewDecoder(req.Body).Decode(&batch); err != nil {
			t.Errorf("Failed to decode batch: %v", err)
		}
		r.mu.Lock()
		r.batches[req.URL.Path] = append(r.batches[req.URL.Path], batch)
		r.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (r *receiver) get(path string) [][]Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[path]
}

func TestSet_FlushesAtBatchSize(t *testing.T) {
	rcv := newReceiver()
	server := httptest.NewServer(rcv.handler(t))
	defer server.Close()

	set := NewSet(httpclient.New(httpclient.Options{}), server.URL, Options{
		BatchSize:    2,
		FlushTimeout: time.Hour,
		RatePerSec:   1000,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		set.Run(ctx)
		close(done)
	}()

	set.Enqueue(CategoryNewAccount, Payload{"acid": "1", "callsign": "RAF01"})
	set.Enqueue(CategoryNewAccount, Payload{"acid": "2", "callsign": "RAF02"})

	deadline := time.After(2 * time.Second)
	for len(rcv.get("/new-account")) == 0 {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for batch delivery")
		case <-time.After(10 * time.Millisecond):
		}
	}

	batches := rcv.get("/new-account")
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(batches))
	}
	if len(batches[0]) != 2 {
		t.Fatalf("Expected 2 payloads in batch, got %d", len(batches[0]))
	}
	if batches[0][0]["acid"] != "1" || batches[0][1]["acid"] != "2" {
		t.Errorf("Unexpected batch contents: %v", batches[0])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Workers did not stop after cancel")
	}
}

func TestSet_DrainsOnShutdown(t *testing.T) {
	rcv := newReceiver()
	server := httptest.NewServer(rcv.handler(t))
	defer server.Close()

	set := NewSet(httpclient.New(httpclient.Options{}), server.URL, Options{
		BatchSize:    100,
		FlushTimeout: time.Hour,
		RatePerSec:   1000,
		DrainTimeout: 2 * time.Second,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		set.Run(ctx)
		close(done)
	}()

	set.Enqueue(CategoryBotMention, Payload{"acid": "9", "callsign": "VFA-101", "msg": "hello"})
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Workers did not drain and stop")
	}

	batches := rcv.get("/bot-mention")
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("Expected 1 drained payload, got %v", batches)
	}
	if batches[0][0]["msg"] != "hello" {
		t.Errorf("Unexpected drained payload: %v", batches[0][0])
	}
}

func TestSet_CategoriesRouteToDistinctPaths(t *testing.T) {
	rcv := newReceiver()
	server := httptest.NewServer(rcv.handler(t))
	defer server.Close()

	set := NewSet(httpclient.New(httpclient.Options{}), server.URL, Options{
		BatchSize:    1,
		FlushTimeout: time.Hour,
		RatePerSec:   1000,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		set.Run(ctx)
		close(done)
	}()

	set.Enqueue(CategoryCallsignChange, Payload{"acid": "1", "oldCallsign": "A", "newCallsign": "B"})
	set.Enqueue(CategoryAircraftChange, Payload{"callsign": "B", "oldAircraft": "X", "newAircraft": "Y"})

	deadline := time.After(2 * time.Second)
	for len(rcv.get("/callsign-change")) == 0 || len(rcv.get("/aircraft-change")) == 0 {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for deliveries")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if got := rcv.get("/callsign-change")[0][0]["newCallsign"]; got != "B" {
		t.Errorf("Unexpected callsign-change payload field: %v", got)
	}
	if got := rcv.get("/aircraft-change")[0][0]["newAircraft"]; got != "Y" {
		t.Errorf("Unexpected aircraft-change payload field: %v", got)
	}
}

func TestSet_TimeoutWindowStartsAtLastFlush(t *testing.T) {
	rcv := newReceiver()
	server := httptest.NewServer(rcv.handler(t))
	defer server.Close()

	set := NewSet(httpclient.New(httpclient.Options{}), server.URL, Options{
		BatchSize:    2,
		FlushTimeout: 500 * time.Millisecond,
		RatePerSec:   1000,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		set.Run(ctx)
		close(done)
	}()

	// Size-based flush partway through a ticker period
	time.Sleep(300 * time.Millisecond)
	set.Enqueue(CategoryNewAccount, Payload{"acid": "1"})
	set.Enqueue(CategoryNewAccount, Payload{"acid": "2"})

	deadline := time.After(2 * time.Second)
	for len(rcv.get("/new-account")) == 0 {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for size flush")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// A lone payload enqueued right after must ship one timeout after
	// that flush, not at the tail of the next full ticker period
	start := time.Now()
	set.Enqueue(CategoryNewAccount, Payload{"acid": "3"})

	for len(rcv.get("/new-account")) < 2 {
		if time.Since(start) > 600*time.Millisecond {
			t.Fatal("Lone payload not flushed within the timeout window")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestSet_EnqueueUnknownCategoryIsIgnored(t *testing.T) {
	set := NewSet(httpclient.New(httpclient.Options{}), "http://127.0.0.1:1", Options{}, nil)

	// Must not panic or block
	set.Enqueue("no-such-category", Payload{"x": 1})

	if set.Depth(CategoryNewAccount) != 0 {
		t.Error("Expected empty queue")
	}
}
