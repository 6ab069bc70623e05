package sidechannel

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sc.sock")
	srv, err := Listen(path, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return srv, path
}

func ask(t *testing.T, path, line string) string {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp[:len(resp)-1]
}

func TestServer_RoundTrip(t *testing.T) {
	srv, path := startServer(t)

	go func() {
		for req := range srv.Requests() {
			switch req.Command {
			case GetBidi:
				req.Reply <- Response{Status: StatusOK, Data: "1"}
			default:
				req.Reply <- Response{Status: StatusNotImplemented}
			}
		}
	}()

	if got := ask(t, path, "get_bidi"); got != "OK 1" {
		t.Errorf("GET_BIDI = %q, want %q", got, "OK 1")
	}
	if got := ask(t, path, "SOFT_RESET"); got != "NOT_IMPLEMENTED" {
		t.Errorf("SOFT_RESET = %q, want NOT_IMPLEMENTED", got)
	}
}

func TestServer_MultipleRequestsPerConnection(t *testing.T) {
	srv, path := startServer(t)

	go func() {
		for req := range srv.Requests() {
			req.Reply <- Response{Status: StatusOK, Data: string(req.Command)}
		}
	}()

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck

	r := bufio.NewReader(conn)
	for _, cmd := range []string{"GET_STATE", "GET_BIDI"} {
		if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
			t.Fatal(err)
		}
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if want := "OK " + cmd + "\n"; line != want {
			t.Errorf("got %q, want %q", line, want)
		}
	}
}

func TestServer_CloseRemovesSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sc.sock")
	srv, err := Listen(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := net.Dial("unix", path); err == nil {
		t.Error("socket still accepting after Close")
	}
}

func TestListen_ReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sc.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	// Leave the file behind as a crashed job would.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close()

	srv, err := Listen(path, nil)
	if err != nil {
		t.Fatalf("Listen over stale socket: %v", err)
	}
	srv.Close()
}

func TestResponse_String(t *testing.T) {
	if got := (Response{Status: StatusOK, Data: "online"}).String(); got != "OK online" {
		t.Errorf("got %q", got)
	}
	if got := (Response{Status: StatusNone}).String(); got != "NONE" {
		t.Errorf("got %q", got)
	}
}
