// Package latest holds the most recently received webhook payload.
package latest

import (
	"sync"
	"sync/atomic"

	"github.com/yourorg/traffic-bridge/internal/jsonvalue"
)

// Reserved keys added to the payload once its image has been stored.
const (
	ImageURLKey   = "image_url"
	ImageFieldKey = "_image_field"
)

// Generation identifies one Replace call.
type Generation uint64

type snapshot struct {
	gen   Generation
	value jsonvalue.Value
}

// Slot is a single last-write-wins holder. Readers always see a complete
// snapshot; writers never block readers.
type Slot struct {
	current atomic.Pointer[snapshot]
	seq     atomic.Uint64

	// mu orders Annotate against Replace so an annotation is never applied
	// to a payload newer than the one it was computed for.
	mu sync.Mutex

	imageURL atomic.Pointer[string]
}

func New() *Slot {
	return &Slot{}
}

// Replace stores v as the latest payload. A nil or JSON null value is stored
// as an empty object.
func (s *Slot) Replace(v jsonvalue.Value) Generation {
	if v == nil || v.Kind() == jsonvalue.KindNull {
		v = jsonvalue.Object{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := Generation(s.seq.Add(1))
	s.current.Store(&snapshot{gen: gen, value: v})
	return gen
}

// Annotate records where the image of generation gen was stored. The image
// URL is always remembered for the current-image lookup. The payload itself
// is annotated only if gen is still current and the payload is an object.
// It reports whether the payload was annotated.
func (s *Slot) Annotate(gen Generation, urlPath, sourcePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := urlPath
	s.imageURL.Store(&u)

	cur := s.current.Load()
	if cur == nil || cur.gen != gen {
		return false
	}
	obj, ok := cur.value.(jsonvalue.Object)
	if !ok {
		return false
	}
	obj = obj.With(ImageURLKey, jsonvalue.String(urlPath)).
		With(ImageFieldKey, jsonvalue.String(sourcePath))
	s.current.Store(&snapshot{gen: gen, value: obj})
	return true
}

// Get returns the latest payload, or an empty object before the first
// Replace.
func (s *Slot) Get() jsonvalue.Value {
	cur := s.current.Load()
	if cur == nil {
		return jsonvalue.Object{}
	}
	return cur.value
}

// Generation returns the generation of the current payload, zero if none.
func (s *Slot) Generation() Generation {
	if cur := s.current.Load(); cur != nil {
		return cur.gen
	}
	return 0
}

// ImageURL returns the URL of the most recently stored image.
func (s *Slot) ImageURL() (string, bool) {
	p := s.imageURL.Load()
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}
