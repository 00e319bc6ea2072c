package util

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to find a free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port //nolint:errcheck // always a TCP listener
	_ = l.Close()                         //nolint:errcheck // test helper
	return port
}

func newTestMonitorServer(t *testing.T) (*MonitorServer, string) {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	server := newMonitorServer(func() string { return addr })
	t.Cleanup(func() { server.Shutdown(context.Background()) })
	return server, "http://" + addr
}

func waitForServer(t *testing.T, url string) *http.Response {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestNewMonitorServer(t *testing.T) {
	server := NewMonitorServer()

	if server == nil {
		t.Fatal("NewMonitorServer should return non-nil server")
	}
	if server.running == nil {
		t.Error("NewMonitorServer should initialize running mutex")
	}
	if server.mux == nil {
		t.Error("NewMonitorServer should initialize the mux")
	}

	Config.Set("details_port", 9123)
	if got := server.addr(); got != ":9123" {
		t.Errorf("addr() = %q, expected :9123", got)
	}
}

func TestMonitorServer_AddHandler(t *testing.T) {
	server := newMonitorServer(func() string { return "" })

	server.AddHandler("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("test response")) //nolint:errcheck // test helper
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "test response" {
		t.Errorf("Expected 'test response', got '%s'", body)
	}
}

func TestMonitorServer_AddRawHandler(t *testing.T) {
	server := newMonitorServer(func() string { return "" })

	server.AddRawHandler("/raw", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("raw handler response")) //nolint:errcheck // test helper
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}
	if body := w.Body.String(); body != "raw handler response" {
		t.Errorf("Expected 'raw handler response', got '%s'", body)
	}
}

func TestMonitorServer_Integration(t *testing.T) {
	server, base := newTestMonitorServer(t)

	server.AddHandler("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy")) //nolint:errcheck // test helper
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	resp := waitForServer(t, base+"/health")
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // test helper
	_ = resp.Body.Close()            //nolint:errcheck // test cleanup
	if resp.StatusCode != http.StatusOK || string(body) != "healthy" {
		t.Errorf("unexpected response %d %q", resp.StatusCode, body)
	}

	// handlers survive a restart
	server.Restart()
	resp2 := waitForServer(t, base+"/health")
	_ = resp2.Body.Close() //nolint:errcheck // test cleanup
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 after restart, got %d", resp2.StatusCode)
	}
}

func TestMonitorServer_StartTwice(t *testing.T) {
	server, base := newTestMonitorServer(t)

	if err := server.Start(); err != nil {
		t.Fatalf("Start() should not return error, got: %v", err)
	}
	resp := waitForServer(t, base+"/")
	_ = resp.Body.Close() //nolint:errcheck // test cleanup

	if err := server.Start(); err == nil {
		t.Error("Start() should return error when already running")
	}
}

func TestMonitorServer_ConcurrentAccess(t *testing.T) {
	server, _ := newTestMonitorServer(t)

	results := make(chan error, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- server.Start()
		}()
	}
	wg.Wait()
	close(results)

	var successCount, errorCount int
	for err := range results {
		if err != nil {
			errorCount++
		} else {
			successCount++
		}
	}

	if successCount != 1 {
		t.Errorf("Expected exactly 1 successful start, got %d", successCount)
	}
	if errorCount != 2 {
		t.Errorf("Expected exactly 2 'already running' errors, got %d", errorCount)
	}
}

func TestMonitorServer_Shutdown(t *testing.T) {
	server, base := newTestMonitorServer(t)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	resp := waitForServer(t, base+"/")
	_ = resp.Body.Close() //nolint:errcheck // test cleanup

	if server.running.TryLock() {
		server.running.Unlock()
		t.Error("Server should be running (mutex should be locked)")
	}

	server.Shutdown(context.Background())

	if !server.running.TryLock() {
		t.Fatal("Server should be stopped after Shutdown")
	}
	server.running.Unlock()

	if _, err := http.Get(base + "/"); err == nil {
		t.Error("expected connection failure after shutdown")
	}

	// shutting down a stopped server is harmless
	server.Shutdown(context.Background())
}
