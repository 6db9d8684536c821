package web

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourorg/traffic-bridge/internal/camera"
	"github.com/yourorg/traffic-bridge/internal/hub"
	"github.com/yourorg/traffic-bridge/internal/imagestore"
	"github.com/yourorg/traffic-bridge/internal/ingest"
	"github.com/yourorg/traffic-bridge/internal/latest"
	"github.com/yourorg/traffic-bridge/internal/logger"
	"github.com/yourorg/traffic-bridge/internal/metrics"
	"github.com/yourorg/traffic-bridge/internal/model"
)

// Dashboard page aliases, each also served with a trailing slash.
var dashboardPaths = []string{
	"/Ponce-de-Leon",
	"/ponce-de-leon",
	"/Ponce-and-Clifton",
	"/ponce-and-clifton",
}

type Config struct {
	Addr        string
	FrontendDir string
	BrandingDir string
	// MaxBodyBytes caps webhook bodies. Zero means 32 MiB.
	MaxBodyBytes int64
}

type Ingester interface {
	Ingest(ctx context.Context, body []byte) (ingest.Result, error)
}

type CameraOpener interface {
	Open(ctx context.Context, arm string) (*camera.Stream, error)
}

// SnapshotStore is the read side of persistence.
type SnapshotStore interface {
	RecentSnapshots(ctx context.Context, limit int) ([]model.Snapshot, error)
	Ping(ctx context.Context) error
}

// Server is the public HTTP surface.
type Server struct {
	config     Config
	logger     *logger.Logger
	router     *gin.Engine
	httpServer *http.Server
	routesOnce sync.Once

	slot      *latest.Slot
	pipeline  Ingester
	images    *imagestore.Store
	cameras   CameraOpener
	snapshots SnapshotStore // optional
	live      *hub.Hub      // optional
}

func NewServer(cfg Config, slot *latest.Slot, pipeline Ingester, images *imagestore.Store, cameras CameraOpener, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}

	router := gin.New()
	router.Use(requestID())
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(metricsMiddleware())

	return &Server{
		config:   cfg,
		logger:   log,
		router:   router,
		slot:     slot,
		pipeline: pipeline,
		images:   images,
		cameras:  cameras,
	}
}

// SetSnapshotStore enables /api/snapshots and the database check in /healthz.
func (s *Server) SetSnapshotStore(store SnapshotStore) {
	s.snapshots = store
}

// SetLiveFeed enables /ws/latest and exports its client count.
func (s *Server) SetLiveFeed(h *hub.Hub) {
	s.live = h
	metrics.ObserveLiveClients(h.ClientCount)
}

// Handler returns the router with all routes registered.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Start listens in the background. Streaming responses have no write
// timeout; they end when the client or the camera goes away.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}
	go func() {
		s.logger.Info("Starting web server", "address", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server error", "address", s.config.Addr, "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.POST("/webhook", s.handleWebhook)
	s.router.POST("/webhook/", s.handleWebhook)
	s.router.GET("/latest", s.handleLatest)

	s.router.GET("/images/:filename", s.handleImage)
	s.router.GET("/current-image", s.handleCurrentImage)
	s.router.GET("/current-image/", s.handleCurrentImage)

	api := s.router.Group("/api")
	{
		api.GET("/camera/:arm", s.handleCameraStream)
		api.GET("/snapshots", s.handleListSnapshots)
	}

	s.router.GET("/ws/latest", s.handleLiveFeed)
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.router.GET("/", s.handlePage("index.html"))
	for _, p := range dashboardPaths {
		s.router.GET(p, s.handlePage("ponce-de-leon.html"))
		s.router.GET(p+"/", s.handlePage("ponce-de-leon.html"))
	}
	s.router.Static("/static", filepath.Join(s.config.FrontendDir, "static"))

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
