package immich_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mirrorsync/internal/immich"
	"mirrorsync/internal/mirror"
)

func TestPing(t *testing.T) {
	t.Parallel()

	t.Run("healthy server", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/server/ping" {
				t.Errorf("path = %q, want /api/server/ping", r.URL.Path)
			}
			if got := r.Header.Get("x-api-key"); got != "key-1" {
				t.Errorf("x-api-key = %q, want key-1", got)
			}
			w.Write([]byte(`{"res":"pong"}`))
		}))
		defer srv.Close()

		c := immich.NewClient(srv.URL, "key-1")
		if !c.Ping(context.Background()) {
			t.Error("Ping() = false, want true")
		}
	})

	t.Run("unhealthy server", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := immich.NewClient(srv.URL, "key-1")
		if c.Ping(context.Background()) {
			t.Error("Ping() = true, want false")
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		t.Parallel()
		c := immich.NewClient("http://127.0.0.1:1", "key-1")
		if c.Ping(context.Background()) {
			t.Error("Ping() = true, want false")
		}
	})
}

func TestLibraries(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/libraries" {
			t.Errorf("path = %q, want /api/libraries", r.URL.Path)
		}
		w.Write([]byte(`[
			{"id":"lib-1","name":"Admin","ownerId":"user-1"},
			{"id":"lib-2","name":"Partner","ownerId":"user-2"}
		]`))
	}))
	defer srv.Close()

	c := immich.NewClient(srv.URL, "key-1")
	libs, err := c.Libraries(context.Background())
	if err != nil {
		t.Fatalf("Libraries() error = %v", err)
	}
	if len(libs) != 2 {
		t.Fatalf("libraries = %d, want 2", len(libs))
	}
	if libs[0].ID != "lib-1" || libs[0].OwnerID != "user-1" {
		t.Errorf("libs[0] = %+v, want lib-1 owned by user-1", libs[0])
	}
}

func TestScanLibrary(t *testing.T) {
	t.Parallel()

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		var gotPath, gotMethod string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotMethod = r.Method
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		c := immich.NewClient(srv.URL, "key-1")
		if err := c.ScanLibrary(context.Background(), "lib-1"); err != nil {
			t.Fatalf("ScanLibrary() error = %v", err)
		}
		if gotMethod != http.MethodPost {
			t.Errorf("method = %q, want POST", gotMethod)
		}
		if gotPath != "/api/libraries/lib-1/scan" {
			t.Errorf("path = %q, want /api/libraries/lib-1/scan", gotPath)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		c := immich.NewClient(srv.URL, "key-1")
		if err := c.ScanLibrary(context.Background(), "lib-1"); err == nil {
			t.Error("ScanLibrary() = nil, want error on 403")
		}
	})
}

func TestWaitUntilReady(t *testing.T) {
	t.Parallel()

	t.Run("recovers after failures", func(t *testing.T) {
		t.Parallel()
		var mu sync.Mutex
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"res":"pong"}`))
		}))
		defer srv.Close()

		c := immich.NewClient(srv.URL, "key-1")
		err := c.WaitUntilReady(context.Background(), 5, time.Millisecond, mirror.NewNopLogger())
		if err != nil {
			t.Fatalf("WaitUntilReady() error = %v", err)
		}
	})

	t.Run("gives up after retries", func(t *testing.T) {
		t.Parallel()
		c := immich.NewClient("http://127.0.0.1:1", "key-1")
		err := c.WaitUntilReady(context.Background(), 2, time.Millisecond, mirror.NewNopLogger())
		if err == nil {
			t.Error("WaitUntilReady() = nil, want error")
		}
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := immich.NewClient("http://127.0.0.1:1", "key-1")
		err := c.WaitUntilReady(ctx, 10, time.Minute, mirror.NewNopLogger())
		if err != context.Canceled {
			t.Errorf("WaitUntilReady() error = %v, want context.Canceled", err)
		}
	})
}

func TestScanAllExcept(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	scanned := make(map[string]bool)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/libraries":
			w.Write([]byte(`[
				{"id":"lib-1","name":"Admin","ownerId":"user-1"},
				{"id":"lib-2","name":"Partner Mirror","ownerId":"user-2"},
				{"id":"lib-3","name":"Other","ownerId":"user-3"}
			]`))
		case "/api/libraries/lib-1/scan", "/api/libraries/lib-3/scan":
			mu.Lock()
			scanned[r.URL.Path] = true
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		case "/api/libraries/lib-2/scan":
			t.Error("excluded library was scanned")
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := immich.NewClient(srv.URL, "key-1")
	m := immich.NewScanManager(c, mirror.NewNopLogger())

	count, err := m.ScanAllExcept(context.Background(), map[string]struct{}{"lib-2": {}})
	if err != nil {
		t.Fatalf("ScanAllExcept() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if !scanned["/api/libraries/lib-1/scan"] || !scanned["/api/libraries/lib-3/scan"] {
		t.Errorf("scanned = %v, want lib-1 and lib-3", scanned)
	}
}
