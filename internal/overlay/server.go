// Package overlay serves the published state to overlay renderers over
// WebSocket and plain HTTP.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/bryanveloso/landale-sub014/internal/events"
	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 4096
)

// StateSource provides the latest committed snapshot.
type StateSource interface {
	CurrentSnapshot() *model.Snapshot
}

type Server struct {
	cfg      model.OverlayConfig
	src      StateSource
	pub      *events.Publisher
	logger   zerolog.Logger
	router   *gin.Engine
	upgrader websocket.Upgrader
	encode   singleflight.Group

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

func New(cfg model.OverlayConfig, src StateSource, pub *events.Publisher, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		src:    src,
		pub:    pub,
		logger: logger.With().Str("component", "overlay").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.logger))
	r.Use(observability.RequestMetrics())
	corsCfg := cors.Config{
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(cfg.CorsOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CorsOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", s.handleHealth)
	r.GET("/state", s.handleState)
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	r.GET("/ws", s.handleWS)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.srv = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("overlay server stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("overlay server listening")
	return nil
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight HTTP handlers.
// Hijacked WebSocket connections end when the publisher closes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.CorsOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CorsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.src.CurrentSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     snap.Version,
		"subscribers": s.pub.Len(),
	})
}

func (s *Server) handleState(c *gin.Context) {
	data, err := s.encodedSnapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// encodedSnapshot marshals the current snapshot once per version no matter
// how many readers ask at the same time.
func (s *Server) encodedSnapshot() ([]byte, error) {
	snap := s.src.CurrentSnapshot()
	v, err, _ := s.encode.Do(strconv.FormatUint(snap.Version, 10), func() (any, error) {
		return json.Marshal(snap)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
