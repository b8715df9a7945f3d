package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fastOptions() Options {
	return Options{
		InitialBackoff:   5 * time.Millisecond,
		MaxBackoff:       40 * time.Millisecond,
		PollInterval:     20 * time.Millisecond,
		ResumeInterval:   150 * time.Millisecond,
		KeepaliveIdle:    time.Hour, // keep the probe out of the way unless a test wants it
		FailureThreshold: 3,
	}
}

func TestClientAppliesStreamFrames(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"rows":[{"id":"m1","body":"snapshot"}]}`)
	})
	mux.HandleFunc("/v1/messages/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "id: 1\nevent: insert\ndata: {\"id\":\"m2\",\"body\":\"streamed\"}\n\n")
		fmt.Fprint(w, "id: 2\nevent: update\ndata: {\"id\":\"m1\",\"body\":\"patched\"}\n\n")
		fmt.Fprint(w, "event: bogus frame\ndata: not json\n\n")
		fl.Flush()
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "messages", fastOptions())
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	waitFor(t, 2*time.Second, "streamed frames", func() bool {
		row, ok := c.Collection().Get("m1")
		if !ok || row["body"] != "patched" {
			return false
		}
		_, ok = c.Collection().Get("m2")
		return ok
	})

	if c.Mode() != ModeLive {
		t.Fatalf("Mode = %q, want live", c.Mode())
	}
	if c.LastEventID() != "2" {
		t.Fatalf("LastEventID = %q, want 2", c.LastEventID())
	}
}

func TestClientFallsBackToPolling(t *testing.T) {
	var snapshots atomic.Int32
	var modeMu sync.Mutex
	var modes []Mode

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		snapshots.Add(1)
		fmt.Fprint(w, `{"rows":[{"id":"a1"}]}`)
	})
	mux.HandleFunc("/v1/agents/stream", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no streaming today", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := fastOptions()
	opts.OnMode = func(m Mode) {
		modeMu.Lock()
		modes = append(modes, m)
		modeMu.Unlock()
	}

	c := New(srv.URL, "agents", opts)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	waitFor(t, 2*time.Second, "polling mode", func() bool {
		return c.Mode() == ModePolling
	})

	before := snapshots.Load()
	waitFor(t, 2*time.Second, "polling refetches", func() bool {
		return snapshots.Load() >= before+2
	})

	modeMu.Lock()
	defer modeMu.Unlock()
	sawRetrying := false
	for _, m := range modes {
		if m == ModeRetrying {
			sawRetrying = true
		}
	}
	if !sawRetrying {
		t.Fatalf("expected a retrying transition before polling, got %v", modes)
	}
}

func TestClientResumesWithLastEventID(t *testing.T) {
	var conns atomic.Int32
	resumeID := make(chan string, 4)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"rows":[]}`)
	})
	mux.HandleFunc("/v1/messages/stream", func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		if n == 1 {
			fmt.Fprint(w, "id: 7\nevent: insert\ndata: {\"id\":\"m7\"}\n\n")
			fl.Flush()
			return // clean end; client reconnects
		}
		resumeID <- r.Header.Get("Last-Event-ID")
		fl.Flush()
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "messages", fastOptions())
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	select {
	case id := <-resumeID:
		if id != "7" {
			t.Fatalf("Last-Event-ID = %q, want 7", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect")
	}
}

func TestClientKeepaliveProbeFailureForcesReconnect(t *testing.T) {
	var conns atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"rows":[]}`)
	})
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unhealthy", http.StatusInternalServerError)
	})
	mux.HandleFunc("/v1/messages/stream", func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done() // silent stream, never sends a frame
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := fastOptions()
	opts.KeepaliveIdle = 30 * time.Millisecond
	// A backoff sleep before the reconnect would blow past the wait
	// window below.
	opts.InitialBackoff = 2 * time.Second
	opts.MaxBackoff = 2 * time.Second

	c := New(srv.URL, "messages", opts)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	waitFor(t, time.Second, "immediate reconnect after failed probe", func() bool {
		return conns.Load() >= 2
	})
}

func TestClientStopReleasesEverything(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"rows":[]}`)
	})
	mux.HandleFunc("/v1/messages/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "messages", fastOptions())
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, "live mode", func() bool { return c.Mode() == ModeLive })

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return promptly")
	}

	if c.Mode() != ModeDisconnected {
		t.Fatalf("Mode after Stop = %q, want disconnected", c.Mode())
	}
	// Stop twice is safe.
	c.Stop()
}
