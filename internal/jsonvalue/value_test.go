package jsonvalue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PreservesKeyOrder(t *testing.T) {
	v, err := Parse([]byte(`{"z":1,"a":{"y":[true,null,"s"],"b":2.50}}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	require.Len(t, obj, 2)
	assert.Equal(t, "z", obj[0].Key)
	assert.Equal(t, "a", obj[1].Key)

	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":{"y":[true,null,"s"],"b":2.50}}`, string(out))
}

func TestParse_DuplicateKeysKeepFirstPositionLastValue(t *testing.T) {
	v, err := Parse([]byte(`{"a":1,"b":2,"a":3}`))
	require.NoError(t, err)

	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"b":2}`, string(out))
}

func TestParse_Scalars(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
	}{
		{`null`, KindNull},
		{`false`, KindBool},
		{`-12e3`, KindNumber},
		{`"x"`, KindString},
		{`[]`, KindArray},
		{`{}`, KindObject},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := Parse([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{``, `{`, `{"a":}`, `[1,]`, `{} {}`, `{} x`, `not json`} {
		_, err := Parse([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestParse_TooDeep(t *testing.T) {
	doc := strings.Repeat("[", maxDepth+1) + strings.Repeat("]", maxDepth+1)
	_, err := Parse([]byte(doc))
	assert.ErrorIs(t, err, ErrTooDeep)
}

func TestObject_With(t *testing.T) {
	base := Object{{Key: "a", Value: Number("1")}}

	added := base.With("b", String("x"))
	replaced := added.With("a", Bool(true))

	assert.Len(t, base, 1, "original must not change")
	out, err := Marshal(replaced)
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":"x"}`, string(out))
}

func TestMarshal_EmptyContainers(t *testing.T) {
	var obj Object
	var arr Array

	out, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(out))

	out, err = Marshal(arr)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(out))

	out, err = Marshal(nil)
	require.NoError(t, err)
	assert.Equal(t, `null`, string(out))
}

func TestIsEmpty(t *testing.T) {
	for doc, want := range map[string]bool{
		`null`:    true,
		`false`:   true,
		`0`:       true,
		`-0.0`:    true,
		`""`:      true,
		`[]`:      true,
		`{}`:      true,
		`true`:    false,
		`1`:       false,
		`" "`:     false,
		`[null]`:  false,
		`{"a":0}`: false,
	} {
		v, err := Parse([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, want, IsEmpty(v), doc)
	}
	assert.True(t, IsEmpty(nil))
}
