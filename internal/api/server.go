// Package api serves the engine over a loopback-only HTTP API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/user/lanscope/internal/engine"
	"github.com/user/lanscope/internal/util"
)

// Server is the local API server.
type Server struct {
	svc    *engine.Service
	port   int
	engine *gin.Engine
	server *http.Server

	// monitorCtx outlives requests so traffic monitoring started over
	// the API keeps running after the response is written.
	monitorCtx context.Context
}

// NewServer creates an API server for svc listening on 127.0.0.1:port.
func NewServer(svc *engine.Service, port int) *Server {
	s := &Server{
		svc:        svc,
		port:       port,
		monitorCtx: context.Background(),
	}
	s.engine = s.setupRoutes()
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() *gin.Engine {
	if util.GetLogger().GetLevel() == log.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	// ClientIP must come from the socket, never from forwarding headers.
	_ = r.SetTrustedProxies(nil)

	h := &handlers{svc: s.svc, monitorCtx: s.monitorCtx}

	group := r.Group("/api", OnlyAllowLocal)
	{
		group.GET("/network", h.network)
		group.GET("/devices", h.devices)
		group.POST("/speedtest", h.speedTest)
		group.GET("/speedtest/ws", h.speedTestWS)
		group.GET("/traffic", h.traffic)
		group.POST("/traffic/start", h.trafficStart)
		group.POST("/traffic/stop", h.trafficStop)
		group.GET("/status", h.status)
	}

	return r
}

// Addr is the loopback address the server binds.
func (s *Server) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.port)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks serving the API. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) ListenAndServe() error {
	util.Info("API listening on http://%s", s.Addr())
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
