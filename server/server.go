package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/logprefix"
	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/cyclopcam/roadsign/pkg/nnload"
	"github.com/cyclopcam/roadsign/pkg/signdet"
	"github.com/cyclopcam/roadsign/pkg/signs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log              logs.Log
	ShutdownComplete chan error // Receives the result of Shutdown

	config       Config
	detector     nn.ObjectDetector
	pipeline     *signdet.Pipeline
	queue        *detectQueue
	signalIn     chan os.Signal
	httpServer   *http.Server
	httpRouter   *httprouter.Router
	handler      http.Handler // httpRouter, wrapped in CORS
	wsUpgrader   websocket.Upgrader
	shutdownOnce sync.Once
}

// Open loads the sign catalog and the model described by cfg, and creates a Server.
// A missing class table or model file is an error.
func Open(log logs.Log, cfg *Config) (*Server, error) {
	catalog, err := signs.LoadCatalog(logprefix.New(log, "Catalog:"), cfg.ClassFile, cfg.SignInfoFile)
	if err != nil {
		return nil, err
	}
	detector, err := nnload.LoadModel(logprefix.New(log, "NN:"), cfg.LoadOptions())
	if err != nil {
		return nil, fmt.Errorf("Failed to load model: %w", err)
	}
	s, err := NewServer(log, cfg, detector, catalog)
	if err != nil {
		detector.Close()
		return nil, err
	}
	return s, nil
}

// NewServer creates a server around an already loaded detector and catalog.
// The server takes ownership of detector, and closes it during Shutdown.
func NewServer(log logs.Log, cfg *Config, detector nn.ObjectDetector, catalog *signs.Catalog) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if catalog.NumSigns() == 0 {
		log.Warnf("No sign descriptions loaded. Every detection will have a placeholder meaning")
	}
	signImagesDir := cfg.SignImagesDir
	if signImagesDir != "" {
		if st, err := os.Stat(signImagesDir); err != nil || !st.IsDir() {
			log.Warnf("Sign images directory does not exist: %v", signImagesDir)
		} else {
			log.Infof("Serving sign images from: %v", signImagesDir)
		}
	}

	s := &Server{
		Log:              log,
		ShutdownComplete: make(chan error, 1),
		config:           *cfg,
		detector:         detector,
		pipeline:         signdet.NewPipeline(logprefix.New(log, "Detect:"), catalog, cfg.Params(), signImagesDir),
		queue:            newDetectQueue(logprefix.New(log, "Queue:"), detector, cfg.Workers, cfg.QueueSize, cfg.Tiling),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if err := s.setupHttpRoutes(); err != nil {
		return nil, err
	}
	s.queue.Start()
	return s, nil
}

// Handler returns the root HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.handler
}

// addr example: ":8000"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown() was called by something other than ourselves, and closed signalIn
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown stops accepting requests, waits briefly for in-flight requests, and then
// releases the detector. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.ShutdownComplete <- s.shutdown()
	})
}

func (s *Server) shutdown() error {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	var err error
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.httpServer.Shutdown(ctx)
		cancel()
	}
	s.queue.Close()
	s.detector.Close()
	if err != nil {
		s.Log.Warnf("Shutdown complete, with error: %v", err)
	} else {
		s.Log.Infof("Shutdown complete")
	}
	return err
}
