package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/noxcast/internal/observe"
	"github.com/MrWong99/noxcast/pkg/event"
)

func newTestHub(t *testing.T) (*Hub, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return NewHub(WithMetrics(m)), reader
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	h, _ := newTestHub(t)
	a, b := NewQueue("a", 4), NewQueue("b", 4)
	h.Register(a)
	h.Register(b)

	n := h.Broadcast(context.Background(), event.New(event.Speaking, map[string]any{"text": "hi"}))
	if n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	for _, q := range []*Queue{a, b} {
		frame := <-q.C()
		var env struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("%s: %v", q.ID(), err)
		}
		if env.Type != "speaking" || env.Payload["text"] != "hi" {
			t.Errorf("%s: got %+v", q.ID(), env)
		}
	}
}

func TestHub_SlowClientDropsWithoutBlocking(t *testing.T) {
	h, reader := newTestHub(t)
	slow, fast := NewQueue("slow", 1), NewQueue("fast", 8)
	h.Register(slow)
	h.Register(fast)
	ctx := context.Background()

	for range 3 {
		h.BroadcastRaw(ctx, []byte(`{}`))
	}
	if got := len(fast.C()); got != 3 {
		t.Errorf("fast queue = %d, want 3", got)
	}
	if got := len(slow.C()); got != 1 {
		t.Errorf("slow queue = %d, want 1", got)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}
	var drops int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "noxcast.broadcast.drops" {
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					drops += dp.Value
				}
			}
		}
	}
	if drops != 2 {
		t.Errorf("drops = %d, want 2", drops)
	}
}

func TestHub_Unregister(t *testing.T) {
	h, _ := newTestHub(t)
	q := NewQueue("x", 1)
	h.Register(q)
	h.Unregister(q)
	h.Unregister(q)

	if h.Len() != 0 {
		t.Fatalf("Len = %d, want 0", h.Len())
	}
	if n := h.BroadcastRaw(context.Background(), []byte("x")); n != 0 {
		t.Errorf("delivered = %d after unregister", n)
	}
}

func TestHub_UnregisterStaleDoesNotRemoveReplacement(t *testing.T) {
	h, _ := newTestHub(t)
	old, replacement := NewQueue("same", 1), NewQueue("same", 1)
	h.Register(old)
	h.Register(replacement)
	h.Unregister(old)

	if h.Len() != 1 {
		t.Fatalf("Len = %d, want 1", h.Len())
	}
}

func TestHub_ConcurrentUse(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(2)
		q := NewQueue(fmt.Sprintf("c%d", i), 64)
		go func() {
			defer wg.Done()
			h.Register(q)
			h.BroadcastRaw(ctx, []byte("x"))
			h.Unregister(q)
		}()
		go func() {
			defer wg.Done()
			h.Broadcast(ctx, event.New(event.Idle, nil))
		}()
	}
	wg.Wait()
	if h.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.Len())
	}
}

func TestQueue_ClosedRejects(t *testing.T) {
	q := NewQueue("q", 2)
	q.Close()
	q.Close()
	if q.Send([]byte("x")) {
		t.Fatal("Send succeeded on closed queue")
	}
	select {
	case <-q.Done():
	default:
		t.Fatal("Done not closed")
	}
}
