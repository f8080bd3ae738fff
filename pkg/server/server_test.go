package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nimburion/monjobs/pkg/observability/logger"
)

func waitForAddr(t *testing.T, srv *Server) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if addr := srv.Addr(); addr != "" {
			return addr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not bind in time")
	return ""
}

func startServer(t *testing.T, cfg Config, handler http.Handler) (*Server, string, context.CancelFunc, <-chan error) {
	t.Helper()
	srv := NewServer(cfg, handler, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()
	addr := waitForAddr(t, srv)
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr %q: %v", addr, err)
	}
	return srv, "http://127.0.0.1:" + port, cancel, errChan
}

func TestServerStartAndShutdown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, baseURL, cancel, errChan := startServer(t, Config{ReadTimeout: 5 * time.Second}, mux)

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("server shutdown failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("server shutdown timed out")
	}
}

func TestServerWaitsForInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	_, baseURL, cancel, errChan := startServer(t, Config{ShutdownTimeout: 5 * time.Second}, mux)

	respChan := make(chan int, 1)
	go func() {
		resp, err := http.Get(baseURL + "/slow")
		if err != nil {
			respChan <- 0
			return
		}
		resp.Body.Close()
		respChan <- resp.StatusCode
	}()

	<-started
	cancel()

	if status := <-respChan; status != http.StatusOK {
		t.Errorf("expected in-flight request to complete with 200, got %d", status)
	}
	if err := <-errChan; err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestServerShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/stuck", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	})
	t.Cleanup(func() { close(release) })

	_, baseURL, cancel, errChan := startServer(t, Config{ShutdownTimeout: 50 * time.Millisecond}, mux)

	go func() {
		resp, err := http.Get(baseURL + "/stuck")
		if err == nil {
			resp.Body.Close()
		}
	}()

	<-started
	cancel()

	select {
	case err := <-errChan:
		if err == nil || !strings.Contains(err.Error(), "server shutdown failed") {
			t.Errorf("expected shutdown timeout error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("shutdown did not honour the timeout")
	}
}

func TestServerStartError(t *testing.T) {
	occupied, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	srv := NewServer(Config{Port: port}, http.NewServeMux(), logger.NewNop())
	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("expected bind error on an occupied port")
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := NewServer(Config{}, http.NewServeMux(), logger.NewNop())
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if srv.Addr() != "" {
		t.Fatalf("expected empty addr before start")
	}
}
