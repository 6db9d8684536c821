package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/traffic-bridge/internal/jsonvalue"
)

func mustParse(t *testing.T, doc string) jsonvalue.Value {
	t.Helper()
	v, err := jsonvalue.Parse([]byte(doc))
	require.NoError(t, err)
	return v
}

func TestFind_NestedDataURI(t *testing.T) {
	v := mustParse(t, `{"a": {"b": ["x", "data:image/jpeg;base64,AAAA"]}}`)

	r, ok := Find(v)
	require.True(t, ok)
	assert.Equal(t, "a.b[1]", r.SourcePath)
	assert.Equal(t, "image/jpeg", r.MIMEHint)
	assert.Equal(t, "AAAA", r.Payload)
}

func TestFind_DataURIIsCaseInsensitiveAndKeepsDeclaredForm(t *testing.T) {
	v := mustParse(t, `{"img": "  DATA:Image/PNG;BASE64,iVBORw0K  "}`)

	r, ok := Find(v)
	require.True(t, ok)
	assert.Equal(t, "Image/PNG", r.MIMEHint)
	assert.Equal(t, "iVBORw0K", r.Payload)
	assert.Equal(t, "img", r.SourcePath)
}

func TestFind_LongBase64WithoutHint(t *testing.T) {
	blob := strings.Repeat("QUJD", 60) + "\r\n" + strings.Repeat("REVG", 2) + "=="
	v := mustParse(t, `{"frame": {"raw": "`+strings.ReplaceAll(strings.ReplaceAll(blob, "\r", `\r`), "\n", `\n`)+`"}}`)

	r, ok := Find(v)
	require.True(t, ok)
	assert.Equal(t, "frame.raw", r.SourcePath)
	assert.Empty(t, r.MIMEHint)
	assert.Equal(t, blob, r.Payload)
}

func TestFind_ShortBase64IsIgnoredUnlessSigned(t *testing.T) {
	v := mustParse(t, `{"token": "QUJDREVGR0hJSktM", "count": 3}`)
	_, ok := Find(v)
	assert.False(t, ok)

	v = mustParse(t, `{"token": "QUJD", "png": "iVBORw0KGgo", "jpg": "/9j/4AAQ"}`)
	r, ok := Find(v)
	require.True(t, ok)
	assert.Equal(t, "png", r.SourcePath)
}

func TestFind_FirstMatchInDocumentOrder(t *testing.T) {
	v := mustParse(t, `{
		"later": {"deep": [{"x": "/9j/second"}]},
		"after": "data:image/gif;base64,R0lG"
	}`)

	r, ok := Find(v)
	require.True(t, ok)
	assert.Equal(t, "later.deep[0].x", r.SourcePath)
	assert.Equal(t, "/9j/second", r.Payload)
}

func TestFind_RootString(t *testing.T) {
	r, ok := Find(jsonvalue.String("iVBORw0KGgoAAAANSUhEUg"))
	require.True(t, ok)
	assert.Equal(t, RootPath, r.SourcePath)
}

func TestFind_RootArrayPath(t *testing.T) {
	r, ok := Find(mustParse(t, `[1, ["nope", "/9j/abc"]]`))
	require.True(t, ok)
	assert.Equal(t, "[1][1]", r.SourcePath)
}

func TestFind_NoCandidates(t *testing.T) {
	docs := []string{
		`{}`,
		`[]`,
		`null`,
		`12345`,
		`{"a": true, "b": null, "c": 1.5, "d": ["plain text", {"e": "data:text/plain;base64,QUJD"}]}`,
		`{"long": "` + strings.Repeat("not base64! ", 30) + `"}`,
	}
	for _, doc := range docs {
		_, ok := Find(mustParse(t, doc))
		assert.False(t, ok, "doc %s", doc)
	}
}

func TestFind_DataURIWithNewlineInPayloadFallsThrough(t *testing.T) {
	v := mustParse(t, `{"img": "data:image/png;base64,AAAA\nBBBB"}`)
	_, ok := Find(v)
	assert.False(t, ok)
}
