package latest

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/traffic-bridge/internal/jsonvalue"
)

func encode(t *testing.T, v jsonvalue.Value) string {
	t.Helper()
	b, err := jsonvalue.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestSlot_EmptyByDefault(t *testing.T) {
	s := New()
	assert.Equal(t, `{}`, encode(t, s.Get()))
	assert.Equal(t, Generation(0), s.Generation())

	_, ok := s.ImageURL()
	assert.False(t, ok)
}

func TestSlot_NullBecomesEmptyObject(t *testing.T) {
	s := New()
	s.Replace(jsonvalue.Null{})
	assert.Equal(t, `{}`, encode(t, s.Get()))

	s.Replace(nil)
	assert.Equal(t, `{}`, encode(t, s.Get()))
}

func TestSlot_AnnotateCurrentGeneration(t *testing.T) {
	s := New()
	gen := s.Replace(jsonvalue.Object{{Key: "a", Value: jsonvalue.Number("1")}})

	ok := s.Annotate(gen, "/images/1.png", "frame.raw")
	require.True(t, ok)
	assert.Equal(t, `{"a":1,"image_url":"/images/1.png","_image_field":"frame.raw"}`, encode(t, s.Get()))

	url, ok := s.ImageURL()
	require.True(t, ok)
	assert.Equal(t, "/images/1.png", url)
}

func TestSlot_StaleAnnotationIsDropped(t *testing.T) {
	s := New()
	first := s.Replace(jsonvalue.Object{{Key: "n", Value: jsonvalue.Number("1")}})
	s.Replace(jsonvalue.Object{{Key: "n", Value: jsonvalue.Number("2")}})

	assert.False(t, s.Annotate(first, "/images/1.png", "img"))
	assert.Equal(t, `{"n":2}`, encode(t, s.Get()))

	url, ok := s.ImageURL()
	require.True(t, ok, "image url is tracked even when the payload moved on")
	assert.Equal(t, "/images/1.png", url)
}

func TestSlot_NonObjectPayloadIsNotAnnotated(t *testing.T) {
	s := New()
	gen := s.Replace(jsonvalue.String("iVBORw0K"))

	assert.False(t, s.Annotate(gen, "/images/1.png", "<root>"))
	assert.Equal(t, `"iVBORw0K"`, encode(t, s.Get()))
}

func TestSlot_ReservedKeysOverwriteSenderValues(t *testing.T) {
	s := New()
	gen := s.Replace(jsonvalue.Object{
		{Key: "image_url", Value: jsonvalue.String("spoofed")},
		{Key: "x", Value: jsonvalue.Bool(true)},
	})
	s.Annotate(gen, "/images/2.jpg", "x")
	assert.Equal(t, `{"image_url":"/images/2.jpg","x":true,"_image_field":"x"}`, encode(t, s.Get()))
}

func TestSlot_ConcurrentReplaceIsLastWriteWins(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gen := s.Replace(jsonvalue.Object{{Key: "i", Value: jsonvalue.Number(strconv.Itoa(i))}})
			s.Annotate(gen, "/images/"+strconv.Itoa(i)+".png", "i")
			_ = s.Get()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, Generation(50), s.Generation())
	obj, ok := s.Get().(jsonvalue.Object)
	require.True(t, ok)
	_, has := obj.Get("i")
	assert.True(t, has)
}
