package executor

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDecodeValueNumbers(t *testing.T) {
	tests := []struct {
		raw  string
		want Value
	}{
		{"0", Int(0)},
		{"-9223372036854775808", Int(-9223372036854775808)},
		{"3.25", Float(3.25)},
		{"1e3", Float(1000)},
		{"2.0", Float(2)},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := decodeValue([]byte(tt.raw))
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestDecodeValueBigInt(t *testing.T) {
	got, err := decodeValue([]byte("-99999999999999999999"))
	require.NoError(t, err)

	_, fits := got.Int()
	assert.False(t, fits)
	want, _ := new(big.Int).SetString("-99999999999999999999", 10)
	assert.Equal(t, 0, want.Cmp(got.Big()))
	assert.Equal(t, "-99999999999999999999", got.String())
}

func TestDecodeValueDepth(t *testing.T) {
	ok := strings.Repeat("[", maxValueDepth) + strings.Repeat("]", maxValueDepth)
	_, err := decodeValue([]byte(ok))
	require.NoError(t, err)

	deep := strings.Repeat(`{"a":`, maxValueDepth+1) + "1" + strings.Repeat("}", maxValueDepth+1)
	_, err = decodeValue([]byte(deep))
	assert.ErrorIs(t, err, errValueTooDeep)
}

func TestDecodeValueVeryDeep(t *testing.T) {
	// Far beyond what a recursive validator survives.
	deep := strings.Repeat("[", 10_000_001)
	_, err := decodeValue([]byte(deep))
	assert.ErrorIs(t, err, errValueTooDeep)

	// Brackets inside strings do not nest.
	quoted := `["` + strings.Repeat("[", 4096) + `"]`
	_, err = decodeValue([]byte(quoted))
	require.NoError(t, err)
	assert.Equal(t, 1, nestingDepth([]byte(`["\"[[["]`)))
}

func TestDecodeValueTooLarge(t *testing.T) {
	big := strings.Repeat("[", maxValuePayload+1)
	_, err := decodeValue([]byte(big))
	assert.ErrorIs(t, err, errValueTooLarge)

	text := `"` + strings.Repeat("x", maxValuePayload) + `"`
	_, err = decodeValue([]byte(text))
	assert.ErrorIs(t, err, errValueTooLarge)
}

func TestDecodeValueMalformed(t *testing.T) {
	for _, raw := range []string{"", "{", "[1,]", "nul", `"unterminated`} {
		_, err := decodeValue([]byte(raw))
		assert.ErrorIs(t, err, errMalformedPayload, "input %q", raw)
	}
}

func TestDecodeValueDuplicateKeys(t *testing.T) {
	got, err := decodeValue([]byte(`{"a": 1, "b": 2, "a": 3}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Keys())
	a, _ := got.Get("a")
	assert.True(t, Int(3).Equal(a))
}

func TestValueString(t *testing.T) {
	v := Map([]string{"name", "scores", "ratio", "none"}, []Value{
		String("ada \"lovelace\""),
		List(Int(1), Int(2)),
		Float(1),
		Null(),
	})
	assert.Equal(t, `{"name": "ada \"lovelace\"", "scores": [1, 2], "ratio": 1.0, "none": null}`, v.String())

	out, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, v.String(), string(out))
}

func TestValueInterface(t *testing.T) {
	v := Map([]string{"xs"}, []Value{List(Bool(true), Float(0.5), String("s"))})
	assert.Equal(t, map[string]any{"xs": []any{true, 0.5, "s"}}, v.Interface())
	assert.Nil(t, Null().Interface())
}

func TestValueEqual(t *testing.T) {
	a := Map([]string{"x", "y"}, []Value{Int(1), Int(2)})
	b := Map([]string{"y", "x"}, []Value{Int(2), Int(1)})
	assert.False(t, a.Equal(b), "key order is part of a map value")
	assert.True(t, a.Equal(a))
	assert.False(t, Int(1).Equal(Float(1)))
	assert.True(t, BigInt(big.NewInt(5)).Equal(Int(5)))
}

func TestValueYAML(t *testing.T) {
	v := Map([]string{"z", "a"}, []Value{List(Int(1), Null()), Bool(false)})
	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "z:\n    - 1\n    - null\na: false\n", string(out))
}
