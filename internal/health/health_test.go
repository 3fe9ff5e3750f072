package health_test

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"mirrorsync/internal/health"
	"mirrorsync/internal/mirror"
)

func TestServerAnswersProbes(t *testing.T) {
	t.Parallel()
	srv, err := health.Start("127.0.0.1:0", mirror.NewNopLogger())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Close()

	for i := 0; i < 3; i++ {
		conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		if _, err := conn.Write([]byte("GET /health HTTP/1.1\r\n\r\n")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		got, err := io.ReadAll(conn)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !strings.HasPrefix(string(got), "HTTP/1.1 200 OK") {
			t.Errorf("response %d = %q, want a 200 status line", i, got)
		}
		if !strings.HasSuffix(string(got), "OK") {
			t.Errorf("response %d = %q, want OK body", i, got)
		}
		conn.Close()
	}
}

func TestServerCloseStopsListening(t *testing.T) {
	t.Parallel()
	srv, err := health.Start("127.0.0.1:0", mirror.NewNopLogger())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	addr := srv.Addr()
	srv.Close()

	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Error("dial after Close() succeeded, want refusal")
	}
}
