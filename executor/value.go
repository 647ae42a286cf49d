package executor

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// maxValueDepth bounds nesting of decoded values.
const maxValueDepth = 512

// maxValuePayload bounds the JSON text of a single result value.
const maxValuePayload = 16 << 20

var (
	errMalformedPayload     = errors.New("malformed value payload")
	errValueTooDeep         = errors.New("value nesting too deep")
	errValueUnrepresentable = errors.New("number out of float64 range")
	errValueTooLarge        = errors.New("value payload too large")
)

// Kind is the shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is the host-native form of a guest's final expression. Integers that
// do not fit in int64 are kept as big integers. Map keys keep guest order.
// The zero Value is null.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	big   *big.Int
	f     float64
	s     string
	items []Value
	keys  []string
	m     map[string]Value
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func List(items ...Value) Value { return Value{kind: KindList, items: items} }

// BigInt returns an integer Value, narrowing to int64 when it fits.
func BigInt(n *big.Int) Value {
	if n.IsInt64() {
		return Int(n.Int64())
	}
	return Value{kind: KindInt, big: new(big.Int).Set(n)}
}

// Map builds a map Value from parallel key and value slices, keeping key order.
func Map(keys []string, values []Value) Value {
	v := Value{kind: KindMap, m: make(map[string]Value, len(keys))}
	for i, k := range keys {
		if _, dup := v.m[k]; !dup {
			v.keys = append(v.keys, k)
		}
		v.m[k] = values[i]
	}
	return v
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Bool() bool { return v.b }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string { return v.s }

// Int returns the integer and whether it fits in int64.
func (v Value) Int() (int64, bool) {
	if v.kind != KindInt || v.big != nil {
		return 0, false
	}
	return v.i, true
}

// Big returns any integer Value as a big.Int, or nil for other kinds.
func (v Value) Big() *big.Int {
	if v.kind != KindInt {
		return nil
	}
	if v.big != nil {
		return new(big.Int).Set(v.big)
	}
	return big.NewInt(v.i)
}

// Len is the number of list items or map entries.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.items)
	case KindMap:
		return len(v.keys)
	}
	return 0
}

// Index returns list item i.
func (v Value) Index(i int) Value { return v.items[i] }

// Keys returns map keys in guest order.
func (v Value) Keys() []string { return append([]string(nil), v.keys...) }

// Get looks up a map key.
func (v Value) Get(key string) (Value, bool) {
	item, ok := v.m[key]
	return item, ok
}

// Interface converts to plain Go values: nil, bool, int64, *big.Int, float64,
// string, []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		if v.big != nil {
			return new(big.Int).Set(v.big)
		}
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			out[k] = v.m[k].Interface()
		}
		return out
	}
	return nil
}

// Equal reports deep equality, including map key order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.Big().Cmp(o.Big()) == 0
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.keys) != len(o.keys) {
			return false
		}
		for i, k := range v.keys {
			if o.keys[i] != k || !v.m[k].Equal(o.m[k]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value as JSON.
func (v Value) String() string {
	var buf bytes.Buffer
	v.writeJSON(&buf)
	return buf.String()
}

// MarshalJSON implements json.Marshaler, preserving map key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	v.writeJSON(&buf)
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		if v.big != nil {
			buf.WriteString(v.big.String())
		} else {
			buf.WriteString(strconv.FormatInt(v.i, 10))
		}
	case KindFloat:
		buf.WriteString(formatFloat(v.f))
	case KindString:
		writeJSONString(buf, v.s)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteString(", ")
			}
			item.writeJSON(buf)
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			writeJSONString(buf, k)
			buf.WriteString(": ")
			v.m[k].writeJSON(buf)
		}
		buf.WriteByte('}')
	}
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc, _ := json.Marshal(s)
	buf.Write(enc)
}

// formatFloat keeps integral floats recognisable as floats, e.g. 1.0.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// MarshalYAML implements yaml.Marshaler, preserving map key order.
func (v Value) MarshalYAML() (any, error) {
	return v.yamlNode(), nil
}

func (v Value) yamlNode() *yaml.Node {
	switch v.kind {
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.b)}
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: v.Big().String()}
	case KindFloat:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatFloat(v.f)}
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.s}
	case KindList:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.items {
			n.Content = append(n.Content, item.yamlNode())
		}
		return n
	case KindMap:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range v.keys {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				v.m[k].yamlNode())
		}
		return n
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

// decodeValue parses a JSON payload produced by a guest. A payload that is
// not valid JSON is errMalformedPayload; one nested beyond maxValueDepth is
// errValueTooDeep. Depth is checked before gjson sees the payload: its
// validator recurses once per level.
func decodeValue(payload []byte) (Value, error) {
	if len(payload) > maxValuePayload {
		return Value{}, errValueTooLarge
	}
	if nestingDepth(payload) > maxValueDepth {
		return Value{}, errValueTooDeep
	}
	if !gjson.ValidBytes(payload) {
		return Value{}, errMalformedPayload
	}
	return fromJSON(gjson.ParseBytes(payload), 0)
}

// nestingDepth returns the deepest array/object nesting in b, ignoring
// brackets inside strings. It does not validate.
func nestingDepth(b []byte) int {
	var depth, deepest int
	inString, escaped := false, false
	for _, c := range b {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
			if depth > deepest {
				deepest = depth
			}
		case ']', '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return deepest
}

func fromJSON(r gjson.Result, depth int) (Value, error) {
	if depth > maxValueDepth {
		return Value{}, errValueTooDeep
	}

	switch r.Type {
	case gjson.Null:
		return Null(), nil
	case gjson.True:
		return Bool(true), nil
	case gjson.False:
		return Bool(false), nil
	case gjson.String:
		return String(r.Str), nil
	case gjson.Number:
		return numberFromJSON(r.Raw)
	}

	var (
		out Value
		err error
	)
	switch {
	case r.IsArray():
		out = Value{kind: KindList, items: []Value{}}
		r.ForEach(func(_, item gjson.Result) bool {
			var v Value
			if v, err = fromJSON(item, depth+1); err != nil {
				return false
			}
			out.items = append(out.items, v)
			return true
		})
	case r.IsObject():
		out = Value{kind: KindMap, m: map[string]Value{}}
		r.ForEach(func(key, item gjson.Result) bool {
			var v Value
			if v, err = fromJSON(item, depth+1); err != nil {
				return false
			}
			if _, dup := out.m[key.Str]; !dup {
				out.keys = append(out.keys, key.Str)
			}
			out.m[key.Str] = v
			return true
		})
	default:
		return Value{}, errMalformedPayload
	}
	if err != nil {
		return Value{}, err
	}
	return out, nil
}

func numberFromJSON(raw string) (Value, error) {
	if !strings.ContainsAny(raw, ".eE") {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return Int(i), nil
		}
		n, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return Value{}, errMalformedPayload
		}
		return BigInt(n), nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// Out of float64 range.
		return Value{}, errValueUnrepresentable
	}
	return Float(f), nil
}
