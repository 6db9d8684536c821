package web

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/traffic-bridge/internal/camera"
	"github.com/yourorg/traffic-bridge/internal/imagestore"
	"github.com/yourorg/traffic-bridge/internal/ingest"
	"github.com/yourorg/traffic-bridge/internal/jsonvalue"
)

const (
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 200
)

func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read request body"})
		return
	}

	res, err := s.pipeline.Ingest(c.Request.Context(), body)
	if err != nil {
		s.logger.Warn("Rejected webhook", "error", err, "request_id", c.GetString("request_id"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	for _, issue := range res.Issues {
		if errors.Is(issue, ingest.ErrPersistenceDisabled) {
			s.logger.Debug("Webhook not persisted", "reason", issue)
			continue
		}
		s.logger.Warn("Webhook partially processed", "issue", issue, "request_id", c.GetString("request_id"))
	}
	s.logger.Info("Webhook received",
		"bytes", len(body),
		"total_vehicles", res.Snapshot.TotalVehicles,
		"queued", res.Queued,
		"image", res.Image != nil,
	)

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "JSON received"})
}

func (s *Server) handleLatest(c *gin.Context) {
	b, err := jsonvalue.Marshal(s.slot.Get())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode payload"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", b)
}

// handleImage serves a stored image, falling back to the branding directory
// for assets such as logo.png.
func (s *Server) handleImage(c *gin.Context) {
	name := c.Param("filename")
	if p, err := s.images.Open(name); err == nil {
		c.File(p)
		return
	}
	if s.config.BrandingDir != "" {
		if p, err := imagestore.Resolve(s.config.BrandingDir, name); err == nil {
			c.File(p)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
}

func (s *Server) handleCurrentImage(c *gin.Context) {
	if url, ok := s.slot.ImageURL(); ok {
		c.Redirect(http.StatusFound, url)
		return
	}
	name, err := s.images.Newest()
	if err != nil {
		if !errors.Is(err, imagestore.ErrNoImageAvailable) {
			s.logger.Warn("Listing images failed", "error", err)
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "No image available yet. Send a webhook with image data first."})
		return
	}
	c.Redirect(http.StatusFound, s.images.URLFor(name))
}

func (s *Server) handleCameraStream(c *gin.Context) {
	arm := c.Param("arm")
	stream, err := s.cameras.Open(c.Request.Context(), arm)
	if err != nil {
		status, body := cameraError(arm, err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("Camera proxy error", "arm", arm, "status", status, "error", err)
		}
		c.JSON(status, body)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", stream.ContentType)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	if err := stream.Relay(c.Writer, c.Writer.Flush); err != nil {
		if c.Request.Context().Err() != nil {
			s.logger.Debug("Camera viewer disconnected", "arm", stream.Arm)
			return
		}
		s.logger.Warn("Camera stream ended with error", "arm", stream.Arm, "error", err)
	}
}

// cameraError maps a proxy error to its status code and JSON body.
func cameraError(arm string, err error) (int, gin.H) {
	var statusErr *camera.UpstreamStatusError
	switch {
	case errors.Is(err, camera.ErrInvalidArm):
		return http.StatusBadRequest, gin.H{"error": "Invalid arm. Must be: north, south, east, or west", "camera": arm}
	case errors.As(err, &statusErr):
		code := statusErr.Code
		if code < 100 || code > 599 {
			code = http.StatusBadGateway
		}
		return code, gin.H{"error": "Camera returned status " + strconv.Itoa(statusErr.Code), "camera": arm, "url": statusErr.URL}
	case errors.Is(err, camera.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, gin.H{"error": "Camera connection timeout", "camera": arm}
	case errors.Is(err, camera.ErrUpstreamUnreachable):
		return http.StatusServiceUnavailable, gin.H{"error": "Could not connect to camera", "camera": arm}
	default:
		return http.StatusInternalServerError, gin.H{"error": err.Error(), "camera": arm}
	}
}

func (s *Server) handleLiveFeed(c *gin.Context) {
	if s.live == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live feed not available"})
		return
	}
	initial, err := jsonvalue.Marshal(s.slot.Get())
	if err != nil {
		initial = nil
	}
	s.live.Serve(c.Writer, c.Request, initial)
}

func (s *Server) handleListSnapshots(c *gin.Context) {
	if s.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Persistence is not configured"})
		return
	}

	limit := defaultSnapshotLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxSnapshotLimit {
		limit = maxSnapshotLimit
	}

	items, err := s.snapshots.RecentSnapshots(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Listing snapshots failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list snapshots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": items, "count": len(items)})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.snapshots != nil {
		if err := s.snapshots.Ping(c.Request.Context()); err != nil {
			s.logger.Warn("healthz: db ping failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "reason": "db unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handlePage(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := imagestore.Resolve(s.config.FrontendDir, name)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Page not found"})
			return
		}
		c.File(filepath.Clean(p))
	}
}
