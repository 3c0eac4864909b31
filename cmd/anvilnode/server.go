package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"evmforge/pkg/telemetry"
)

// loggingMiddleware mirrors the teacher's own walletserver/middleware.Logger
// shape (method, path, duration via logrus), adapted to chi's handler type.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.Infof("%s %s %s", r.Method, r.RequestURI, time.Since(start))
	})
}

// server exposes node over HTTP (chi) for the JSON-RPC-ish POST surface and
// over a gorilla/mux-routed endpoint for the WS subscribe_blocks upgrade.
type server struct {
	httpServer *http.Server
	node       *nodeState
	logger     *telemetry.Logger
	upgrader   websocket.Upgrader
}

func newServer(addr string, node *nodeState, logger *telemetry.Logger) *server {
	s := &server{node: node, logger: logger}

	chiRouter := chi.NewRouter()
	chiRouter.Use(loggingMiddleware)
	chiRouter.Post("/", s.handleRPC)

	wsRouter := mux.NewRouter()
	wsRouter.HandleFunc("/ws", s.handleWS)
	wsRouter.PathPrefix("/").Handler(chiRouter)

	s.httpServer = &http.Server{Addr: addr, Handler: wsRouter}
	return s
}

func (s *server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
