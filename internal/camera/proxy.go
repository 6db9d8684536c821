// Package camera relays live MJPEG streams from the intersection cameras.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/yourorg/traffic-bridge/internal/config"
	"github.com/yourorg/traffic-bridge/internal/logger"
	"github.com/yourorg/traffic-bridge/internal/metrics"
)

const DefaultContentType = "multipart/x-mixed-replace; boundary=myboundary"

var (
	ErrInvalidArm          = errors.New("invalid arm")
	ErrUpstreamTimeout     = errors.New("camera connection timeout")
	ErrUpstreamUnreachable = errors.New("could not connect to camera")
)

// UpstreamStatusError is returned when the camera answers with anything but
// 200 OK.
type UpstreamStatusError struct {
	Code int
	URL  string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("camera returned status %d", e.Code)
}

// Proxy opens authenticated streams to the configured cameras.
type Proxy struct {
	cfg    config.CameraConfig
	client *http.Client
	logger *logger.Logger
}

// NewProxy builds a client whose timeout covers connecting and waiting for
// response headers only. The body of a live stream has no deadline.
func NewProxy(cfg config.CameraConfig, log *logger.Logger) *Proxy {
	dialer := &net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024
	}
	return &Proxy{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		logger: log,
	}
}

// ParseArm normalizes an arm name. It fails for anything outside the four
// approaches, even when a host is configured.
func ParseArm(name string) (string, error) {
	arm := strings.ToLower(strings.TrimSpace(name))
	for _, a := range config.Arms {
		if a == arm {
			return arm, nil
		}
	}
	return "", ErrInvalidArm
}

// URL returns the stream address for arm.
func (p *Proxy) URL(arm string) (string, error) {
	arm, err := ParseArm(arm)
	if err != nil {
		return "", err
	}
	host, ok := p.cfg.Hosts[arm]
	if !ok || host == "" {
		return "", ErrInvalidArm
	}
	return "http://" + host + p.cfg.StreamPath, nil
}

// Stream is an open upstream response. Callers must Close it.
type Stream struct {
	Arm         string
	URL         string
	ContentType string

	body      io.ReadCloser
	chunkSize int
}

// Open connects to the camera for arm. ctx bounds the whole stream: cancelling
// it aborts the upstream read.
func (p *Proxy) Open(ctx context.Context, arm string) (*Stream, error) {
	arm, err := ParseArm(arm)
	if err != nil {
		return nil, err
	}
	url, err := p.URL(arm)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.cfg.Username, p.cfg.Password)

	resp, err := p.client.Do(req)
	if err != nil {
		err = classify(err)
		p.logger.Warn("Camera request failed", "arm", arm, "url", url, "error", err)
		metrics.CameraErrorsTotal.WithLabelValues(arm, errorKind(err)).Inc()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		metrics.CameraErrorsTotal.WithLabelValues(arm, "status").Inc()
		return nil, &UpstreamStatusError{Code: resp.StatusCode, URL: url}
	}

	p.logger.Debug("Camera stream opened", "arm", arm, "url", url)
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = DefaultContentType
	}
	return &Stream{
		Arm:         arm,
		URL:         url,
		ContentType: ct,
		body:        resp.Body,
		chunkSize:   p.cfg.ChunkSize,
	}, nil
}

// Relay copies the stream to w one chunk at a time, calling flush after each
// write. It returns nil when the camera ends the stream.
func (s *Stream) Relay(w io.Writer, flush func()) error {
	metrics.CameraActiveStreams.Inc()
	defer metrics.CameraActiveStreams.Dec()
	relayed := metrics.CameraBytesTotal.WithLabelValues(s.Arm)

	buf := make([]byte, s.chunkSize)
	for {
		n, rerr := s.body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("write to client: %w", err)
			}
			if flush != nil {
				flush()
			}
			relayed.Add(float64(n))
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read from camera: %w", rerr)
		}
	}
}

func (s *Stream) Close() error {
	return s.body.Close()
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	return err
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, ErrUpstreamUnreachable):
		return "unreachable"
	default:
		return "other"
	}
}
