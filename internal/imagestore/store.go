// Package imagestore turns detected base64 payloads into image files that the
// HTTP layer can serve.
package imagestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourorg/traffic-bridge/internal/logger"
	"github.com/yourorg/traffic-bridge/internal/worker"
)

var (
	ErrDecode           = errors.New("image payload is not valid base64")
	ErrNoImageAvailable = errors.New("no image available")
	ErrNotFound         = errors.New("image not found")
)

// DefaultExt is used when neither the MIME hint nor the content identify the
// format.
const DefaultExt = ".png"

const (
	mirrorQueueSize = 32
	mirrorTimeout   = 30 * time.Second
)

// Ref points at a fully written image file.
type Ref struct {
	Filename   string `json:"filename"`
	URLPath    string `json:"url_path"`
	SourcePath string `json:"source_path,omitempty"`
}

// Mirror receives a copy of every stored image.
type Mirror interface {
	PutImage(ctx context.Context, key string, data []byte, contentType string) error
}

// Store writes images into a single flat directory.
type Store struct {
	dir       string
	urlPrefix string
	now       func() time.Time
	mirror    Mirror
	uploads   *worker.Queue
	logger    *logger.Logger

	mu         sync.Mutex
	lastMillis int64
}

type Option func(*Store)

// WithClock replaces time.Now for filename generation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMirror uploads each stored image to m after the local write succeeds.
// Uploads run in the background; Close waits for them.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// New creates dir if needed. urlPrefix is the public path images are served
// under, e.g. "/images".
func New(dir, urlPrefix string, log *logger.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}
	s := &Store{
		dir:       dir,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
		now:       time.Now,
		logger:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mirror != nil {
		s.uploads = worker.NewQueue("mirror", mirrorQueueSize, mirrorTimeout, log)
	}
	return s, nil
}

// Close waits for pending mirror uploads until ctx expires.
func (s *Store) Close(ctx context.Context) error {
	if s.uploads == nil {
		return nil
	}
	return s.uploads.Close(ctx)
}

func (s *Store) Dir() string { return s.dir }

// Materialize decodes payload and writes it under a time-based name. No Ref
// is returned unless the whole file is in place.
func (s *Store) Materialize(_ context.Context, payload, mimeHint string) (Ref, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	ext := ExtensionFor(mimeHint, data)
	filename := strconv.FormatInt(s.nextMillis(), 10) + ext

	if err := writeAtomic(filepath.Join(s.dir, filename), data); err != nil {
		return Ref{}, fmt.Errorf("write image %s: %w", filename, err)
	}

	if s.uploads != nil {
		contentType := mimetype.Detect(data).String()
		err := s.uploads.Submit(func(ctx context.Context) error {
			if err := s.mirror.PutImage(ctx, filename, data, contentType); err != nil {
				return fmt.Errorf("mirror %s: %w", filename, err)
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("Image mirror upload skipped", "filename", filename, "error", err)
		}
	}

	return Ref{
		Filename: filename,
		URLPath:  path.Join(s.urlPrefix, filename),
	}, nil
}

// ExtensionFor resolves a file extension from the MIME hint first, then from
// the leading bytes of data, then falls back to DefaultExt.
func ExtensionFor(mimeHint string, data []byte) string {
	if ext := extensionForMIME(mimeHint); ext != "" {
		return ext
	}
	if ext := probe(data); ext != "" {
		return ext
	}
	return DefaultExt
}

func extensionForMIME(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return ""
	}
	var ext string
	if m := mimetype.Lookup(hint); m != nil {
		ext = m.Extension()
	}
	if ext == "" {
		if exts, err := mime.ExtensionsByType(hint); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	switch ext {
	case ".jpe", ".jpeg", ".jfif":
		return ".jpg"
	}
	return ext
}

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
)

func probe(b []byte) string {
	switch {
	case bytes.HasPrefix(b, pngMagic):
		return ".png"
	case bytes.HasPrefix(b, jpegMagic):
		return ".jpg"
	case bytes.HasPrefix(b, []byte("GIF87a")), bytes.HasPrefix(b, []byte("GIF89a")):
		return ".gif"
	case len(b) >= 12 && bytes.HasPrefix(b, []byte("RIFF")) && string(b[8:12]) == "WEBP":
		return ".webp"
	}
	return ""
}

// nextMillis returns the current epoch milliseconds, bumped past the last
// value handed out so names never repeat within the process.
func (s *Store) nextMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.lastMillis {
		ms = s.lastMillis + 1
	}
	s.lastMillis = ms
	return ms
}

func writeAtomic(dst string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
}

// Newest returns the lexically greatest image filename in the directory,
// which for time-based names is the most recent one.
func (s *Store) Newest() (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoImageAvailable
		}
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", ErrNoImageAvailable
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names[0], nil
}

// URLFor returns the public path of a stored filename.
func (s *Store) URLFor(filename string) string {
	return path.Join(s.urlPrefix, filename)
}

// Open resolves filename to a path inside the store. Names containing path
// separators or starting with a dot are rejected.
func (s *Store) Open(filename string) (string, error) {
	return Resolve(s.dir, filename)
}

// Resolve joins a flat filename onto dir, refusing traversal and hidden files.
func Resolve(dir, filename string) (string, error) {
	if filename == "" || strings.HasPrefix(filename, ".") ||
		strings.ContainsAny(filename, `/\`) || filename != filepath.Base(filename) {
		return "", ErrNotFound
	}
	p := filepath.Join(dir, filename)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return p, nil
}
