package util

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// MonitorServer is the dashboard/API HTTP server. Handlers live on its own
// mux so a restart keeps them.
type MonitorServer struct {
	running *sync.Mutex
	srv     *http.Server
	srvMu   sync.RWMutex // protects srv field
	mux     *http.ServeMux
	addr    func() string
}

func NewMonitorServer() *MonitorServer {
	return newMonitorServer(func() string {
		return fmt.Sprintf(":%d", Config.GetInt("details_port"))
	})
}

func newMonitorServer(addr func() string) *MonitorServer {
	return &MonitorServer{
		running: &sync.Mutex{},
		srv:     &http.Server{},
		mux:     http.NewServeMux(),
		addr:    addr,
	}
}

func (s *MonitorServer) Handler() http.Handler {
	return s.mux
}

func (s *MonitorServer) Start() error {
	if !s.running.TryLock() {
		return fmt.Errorf("already running")
	}
	newSrv := &http.Server{
		Addr:              s.addr(),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srvMu.Lock()
	s.srv = newSrv
	s.srvMu.Unlock()

	go func() {
		defer s.running.Unlock()
		if err := newSrv.ListenAndServe(); err != http.ErrServerClosed {
			Logger.Warn().Msgf("Problem loading monitor server: %v", err)
		}
		Logger.Debug().Msg("monitor server shutdown")
	}()
	return nil
}

func (s *MonitorServer) AddHandler(path string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(path, handler)
}

func (s *MonitorServer) AddRawHandler(path string, handler http.Handler) {
	s.mux.Handle(path, handler)
}

// Shutdown stops the server if it is running and waits until it has.
func (s *MonitorServer) Shutdown(ctx context.Context) {
	if !s.running.TryLock() { // only shutdown if running
		Logger.Debug().Msg("monitor server running, shutting it down")

		s.srvMu.RLock()
		currentSrv := s.srv
		s.srvMu.RUnlock()

		if currentSrv != nil {
			if err := currentSrv.Shutdown(ctx); err != nil {
				Logger.Error().Msgf("Error shutting down monitor server: %v", err)
			}
		}
		Logger.Debug().Msg("waiting for shutdown")
		s.running.Lock() // released by the serving goroutine
	}
	s.running.Unlock()
}

func (s *MonitorServer) Restart() {
	Logger.Debug().Msg("restarting monitor server")
	s.Shutdown(context.TODO())
	Logger.Debug().Msg("http not running - good for startup")
	if err := s.Start(); err != nil {
		Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
}
