package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPTransportRoundTrip(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer "+deriveBearerToken("shh") {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":"0x2a"}`))
	}))
	defer srv.Close()

	c, err := Dial(srv.URL, WithBearerSecret("shh"), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	raw, err := c.Call(context.Background(), "eth_blockNumber", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got != "0x2a" {
		t.Fatalf("expected 0x2a, got %s", got)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("expected exactly 1 upstream call, got %d", calls)
	}
}

// TestCallCoalescesConcurrentIdenticalRequests covers spec.md §5: "one
// pending request per (endpoint, key) is coalesced into a single in-flight
// call — subsequent callers observe the same response."
func TestCallCoalescesConcurrentIdenticalRequests(t *testing.T) {
	var calls int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":"0x1"}`))
	}))
	defer srv.Close()

	c, err := Dial(srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	const n = 8
	results := make(chan json.RawMessage, n)
	for i := 0; i < n; i++ {
		go func() {
			raw, err := c.Call(context.Background(), "eth_chainId", nil)
			if err != nil {
				t.Errorf("call: %v", err)
				results <- nil
				return
			}
			results <- raw
		}()
	}

	time.Sleep(50 * time.Millisecond) // let all callers enqueue into singleflight
	close(release)

	for i := 0; i < n; i++ {
		<-results
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected exactly 1 upstream call from %d coalesced callers, got %d", n, got)
	}
}

func TestDialUnsupportedScheme(t *testing.T) {
	if _, err := Dial("ftp://example.com"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
