package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/mmalkit/component"
	"github.com/kbukum/mmalkit/logger"
)

func runningHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(logger.Nop())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func receive(t *testing.T, c *Client) (frame, bool) {
	t.Helper()
	select {
	case f, ok := <-c.frames:
		return f, ok
	case <-time.After(time.Second):
		return frame{}, false
	}
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClientMatches(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"", "port:camera:out:2", true},
		{"port:*", "port:camera:out:2", true},
		{"port:encoder*", "port:camera:out:2", false},
		{"capture:still", "capture:still", true},
		{"[", "capture:still", false},
	}
	for _, tc := range tests {
		if got := NewClient("c", tc.filter).matches(tc.topic); got != tc.want {
			t.Errorf("filter %q topic %q = %v, want %v", tc.filter, tc.topic, got, tc.want)
		}
	}
}

func TestHubRoutesByTopic(t *testing.T) {
	hub := runningHub(t)
	ports := NewClient("ports", "port:*")
	captures := NewClient("captures", "capture:*")
	hub.Register(ports)
	hub.Register(captures)
	waitClients(t, hub, 2)

	hub.Publish(Event{Type: EventStarvation, Topic: "port:encoder:out:0", Message: "pool exhausted"})

	f, ok := receive(t, ports)
	if !ok {
		t.Fatal("expected starvation event for port subscriber")
	}
	if f.event != EventStarvation {
		t.Errorf("expected %s frame, got %s", EventStarvation, f.event)
	}
	var ev Event
	if err := json.Unmarshal(f.data, &ev); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if ev.Topic != "port:encoder:out:0" || ev.Message != "pool exhausted" || ev.Time.IsZero() {
		t.Errorf("unexpected event %+v", ev)
	}

	select {
	case f := <-captures.frames:
		t.Errorf("capture subscriber got %s", f.event)
	case <-time.After(20 * time.Millisecond):
	}
	if hub.Stats().Published != 1 {
		t.Errorf("expected 1 published, got %d", hub.Stats().Published)
	}
}

func TestSlowClientDrops(t *testing.T) {
	c := NewClient("slow", "*")
	for i := 0; i < clientBuffer; i++ {
		if !c.send(frame{event: "x"}) {
			t.Fatalf("send %d failed early", i)
		}
	}
	if c.send(frame{event: "overflow"}) {
		t.Error("expected full client to reject")
	}
	if c.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", c.Dropped())
	}
}

func TestHubReplacesClientID(t *testing.T) {
	hub := runningHub(t)
	first := NewClient("dup", "*")
	second := NewClient("dup", "*")
	hub.Register(first)
	hub.Register(second)
	waitClients(t, hub, 1)

	if _, ok := <-first.frames; ok {
		t.Error("expected replaced client closed")
	}
	hub.Unregister(first)
	hub.Publish(Event{Type: EventCaptureDone, Topic: "capture:still"})
	if _, ok := receive(t, second); !ok {
		t.Error("replacement client must stay subscribed")
	}
}

func TestHubStop(t *testing.T) {
	hub := NewHub(logger.Nop())
	go hub.Run()
	c := NewClient("c", "*")
	hub.Register(c)
	waitClients(t, hub, 1)

	hub.Stop()
	hub.Stop()
	if _, ok := receive(t, c); ok {
		t.Error("expected client closed on stop")
	}
	if hub.Register(NewClient("late", "*")) {
		t.Error("register after stop must fail")
	}
	hub.Publish(Event{Type: EventDropped})
}

func TestComponentLifecycle(t *testing.T) {
	comp := NewComponent(logger.Nop())
	ctx := context.Background()
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	comp.Hub().Register(NewClient("c", "*"))
	waitClients(t, comp.Hub(), 1)

	h := comp.Health(ctx)
	if h.Status != component.StatusHealthy || !strings.Contains(h.Message, "1 clients") {
		t.Errorf("unexpected health %+v", h)
	}
	if err := comp.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if comp.Hub().ClientCount() != 0 {
		t.Error("expected clients closed after stop")
	}
}

func TestServe(t *testing.T) {
	hub := runningHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(hub, w, r, "viewer", r.URL.Query().Get("topic"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?topic=capture:*", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, "event: ") {
				return strings.TrimPrefix(l, "event: ")
			}
		}
		return ""
	}
	if got := next(); got != EventConnected {
		t.Fatalf("expected connected event, got %q", got)
	}

	waitClients(t, hub, 1)
	hub.Publish(Event{Type: EventStarvation, Topic: "port:camera:out:1"})
	hub.Publish(Event{Type: EventCaptureDone, Topic: "capture:still"})
	if got := next(); got != EventCaptureDone {
		t.Errorf("expected only the capture event, got %q", got)
	}
}
