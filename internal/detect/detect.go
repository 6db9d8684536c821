// Package detect locates an embedded image in an arbitrary JSON document.
//
// The search is a heuristic rather than a validator: any long string made of
// base64 characters is accepted as a candidate, so non-image blobs can match.
package detect

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yourorg/traffic-bridge/internal/jsonvalue"
)

// RootPath is reported when the document itself is the matching string.
const RootPath = "<root>"

// minRawLength is the length a bare base64 string must exceed to match
// without a data URI prefix or a known image signature.
const minRawLength = 200

var dataURIPattern = regexp.MustCompile(`(?i)^data:(image/[^;]+);base64,(.+)$`)

// Result describes the first image candidate found.
type Result struct {
	Payload    string
	MIMEHint   string
	SourcePath string
}

// Find walks v depth-first in document order and returns the first string
// that looks like an image.
func Find(v jsonvalue.Value) (Result, bool) {
	return walk(v, "")
}

func walk(v jsonvalue.Value, path string) (Result, bool) {
	switch t := v.(type) {
	case jsonvalue.String:
		payload, hint, ok := classify(string(t))
		if !ok {
			return Result{}, false
		}
		if path == "" {
			path = RootPath
		}
		return Result{Payload: payload, MIMEHint: hint, SourcePath: path}, true
	case jsonvalue.Object:
		for _, m := range t {
			child := m.Key
			if path != "" {
				child = path + "." + m.Key
			}
			if r, ok := walk(m.Value, child); ok {
				return r, true
			}
		}
	case jsonvalue.Array:
		for i, item := range t {
			if r, ok := walk(item, path+"["+strconv.Itoa(i)+"]"); ok {
				return r, true
			}
		}
	}
	return Result{}, false
}

func classify(raw string) (payload, hint string, ok bool) {
	s := strings.TrimSpace(raw)
	if m := dataURIPattern.FindStringSubmatch(s); m != nil {
		return m[2], m[1], true
	}
	if len(s) > minRawLength && isBase64Alphabet(s) {
		return s, "", true
	}
	if strings.HasPrefix(s, "iVBOR") || strings.HasPrefix(s, "/9j/") {
		return s, "", true
	}
	return "", "", false
}

func isBase64Alphabet(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=', c == '\n', c == '\r':
		default:
			return false
		}
	}
	return true
}
