// Package server exposes the control and streaming surface over HTTP: a JSON
// API for lifecycle and settings, Prometheus metrics, and a WebSocket feed of
// stream events.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/epglabs/epgio/internal/ble"
	"github.com/epglabs/epgio/internal/hub"
	"github.com/epglabs/epgio/internal/observability"
	"github.com/epglabs/epgio/internal/protocol/command"
	"github.com/epglabs/epgio/internal/stream"
)

// Config holds the HTTP surface settings.
type Config struct {
	Listen        string
	AllowOrigins  []string
	DefaultTarget ble.Target
}

// Server wires the stream handler and the WebSocket hub behind gin routes.
type Server struct {
	cfg      Config
	handler  *stream.Handler
	hub      *hub.Hub
	upgrader websocket.Upgrader
	http     *http.Server
}

func New(cfg Config, handler *stream.Handler, h *hub.Hub) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8095"
	}
	s := &Server{
		cfg:     cfg,
		handler: handler,
		hub:     h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.http = &http.Server{
		Addr:    cfg.Listen,
		Handler: s.router(),
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger())
	r.Use(observability.RequestMetrics())

	corsCfg := cors.DefaultConfig()
	if len(s.cfg.AllowOrigins) == 0 || (len(s.cfg.AllowOrigins) == 1 && s.cfg.AllowOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.cfg.AllowOrigins
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.getHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.getWS)

	api := r.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.POST("/connect", s.postConnect)
		api.POST("/disconnect", s.postDisconnect)
		api.POST("/command", s.postCommand)
		api.POST("/stream/start", s.postStreamStart)
		api.PUT("/settings", s.putSettings)
	}
	return r
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStatus(c *gin.Context) {
	st := s.handler.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"stream":     st,
		"ws_clients": s.hub.ClientCount(),
	})
}

type connectRequest struct {
	Address    string `json:"address"`
	NotifyUUID string `json:"notify_uuid"`
	WriteUUID  string `json:"write_uuid"`
}

func (s *Server) postConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target := s.cfg.DefaultTarget
	if req.Address != "" {
		target.Address = req.Address
	}
	if req.NotifyUUID != "" {
		target.NotifyUUID = req.NotifyUUID
	}
	if req.WriteUUID != "" {
		target.WriteUUID = req.WriteUUID
	}
	if err := s.handler.Connect(target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"address": target.Address})
}

func (s *Server) postDisconnect(c *gin.Context) {
	if err := s.handler.Disconnect(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "disconnecting"})
}

type commandRequest struct {
	Key   string   `json:"key"`
	Label string   `json:"label"`
	Value *float64 `json:"value"`
	Raw   string   `json:"raw"`
	Tag   string   `json:"tag"`
	Sync  *bool    `json:"sync"`
}

func (s *Server) postCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		tag string
		err error
	)
	switch {
	case req.Raw != "" && req.Sync != nil:
		tag, err = s.handler.SendCommand(req.Raw, req.Tag, *req.Sync)
	case req.Raw != "":
		tag, err = s.handler.SendRaw(req.Raw)
	case req.Key != "" && req.Label != "":
		var key command.Key
		if key, err = command.ParseKey(req.Key); err == nil {
			tag, err = s.handler.SendLabel(key, req.Label)
		}
	case req.Key != "" && req.Value != nil:
		var key command.Key
		if key, err = command.ParseKey(req.Key); err == nil {
			tag, err = s.handler.SendValue(key, *req.Value)
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "need raw, or key with label or value"})
		return
	}
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, stream.ErrNotConnected) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"tag": tag})
}

func (s *Server) postStreamStart(c *gin.Context) {
	if err := s.handler.StartStream(); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, stream.ErrNotConnected) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "starting"})
}

type settingsRequest struct {
	DropPolicy    string `json:"drop_policy"`
	MaxBuffered   string `json:"max_buffered"`
	BatchInterval string `json:"batch_interval"`
	WriteSync     *bool  `json:"write_sync"`
}

func (s *Server) putSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DropPolicy != "" {
		if err := s.handler.SetDropPolicy(req.DropPolicy); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.MaxBuffered != "" {
		d, err := time.ParseDuration(req.MaxBuffered)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.handler.SetMaxBuffered(d); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.WriteSync != nil {
		s.handler.SetDefaultWriteSync(*req.WriteSync)
	}
	if req.BatchInterval != "" {
		d, err := time.ParseDuration(req.BatchInterval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.handler.SetBatchInterval(d); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// getWS upgrades the connection and parks it in the hub. Inbound frames are
// read only to detect close; all traffic is server to client.
func (s *Server) getWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.hub.AddClient(conn)
	go func() {
		defer s.hub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.cfg.Listen).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	s.hub.Close()
	return <-errCh
}
