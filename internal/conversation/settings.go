package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Built-in value kinds.
const (
	KindNull    = "null"
	KindString  = "string"
	KindInt     = "int"
	KindFloat   = "float"
	KindBool    = "bool"
	KindStrings = "strings"
	KindInts    = "ints"
	KindTime    = "time"
	KindList    = "list"
	KindMap     = "map"
)

// Value is a tagged settings value. It encodes as {"kind": ..., "value": ...}.
type Value struct {
	kind string
	data any
}

// Kind returns the discriminant.
func (v Value) Kind() string {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// Interface returns the payload. Lists are []Value and maps map[string]Value.
func (v Value) Interface() any { return v.data }

// IsNull reports whether the value is empty.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// As returns the payload of v as T.
func As[T any](v Value) (T, bool) {
	t, ok := v.data.(T)
	return t, ok
}

func String(s string) Value { return Value{kind: KindString, data: s} }
func Int(i int64) Value { return Value{kind: KindInt, data: i} }
func Float(f float64) Value { return Value{kind: KindFloat, data: f} }
func Bool(b bool) Value { return Value{kind: KindBool, data: b} }
func Strings(s []string) Value { return Value{kind: KindStrings, data: s} }
func Ints(i []int64) Value { return Value{kind: KindInts, data: i} }
func Time(t time.Time) Value { return Value{kind: KindTime, data: t.UTC()} }
func List(items ...Value) Value { return Value{kind: KindList, data: items} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, data: m} }
func Null() Value { return Value{kind: KindNull} }

// Of wraps a Go value. Registered domain types keep their kind; unknown
// types are converted through their JSON form.
func Of(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case string:
		return String(x)
	case int:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case bool:
		return Bool(x)
	case []string:
		return Strings(x)
	case []int64:
		return Ints(x)
	case []int:
		out := make([]int64, len(x))
		for i, n := range x {
			out[i] = int64(n)
		}
		return Ints(out)
	case time.Time:
		return Time(x)
	case []Value:
		return List(x...)
	case map[string]Value:
		return Map(x)
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = Of(item)
		}
		return List(items...)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[k] = Of(item)
		}
		return Map(m)
	}
	if spec, ok := kindByType(reflect.TypeOf(v)); ok {
		return Value{kind: spec.name, data: v}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Null()
	}
	val, err := decodeUntagged(raw)
	if err != nil {
		return Null()
	}
	return val
}

type envelope struct {
	Kind  string `json:"kind"`
	Value any    `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsNull() {
		return json.Marshal(envelope{Kind: KindNull})
	}
	return json.Marshal(envelope{Kind: v.kind, Value: v.data})
}

// UnmarshalJSON implements json.Unmarshaler. Tagged envelopes decode by kind;
// anything else goes through the legacy shape decoders.
func (v *Value) UnmarshalJSON(data []byte) error {
	if kind, payload, ok := splitEnvelope(data); ok {
		if dec, found := decoderFor(kind); found {
			val, err := dec(payload)
			if err != nil {
				return fmt.Errorf("decode %s value: %w", kind, err)
			}
			*v = val
			return nil
		}
	}
	val, err := decodeUntagged(data)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func splitEnvelope(data []byte) (string, json.RawMessage, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return "", nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", nil, false
	}
	rawKind, ok := fields["kind"]
	if !ok || len(fields) > 2 {
		return "", nil, false
	}
	if _, hasValue := fields["value"]; len(fields) == 2 && !hasValue {
		return "", nil, false
	}
	var kind string
	if err := json.Unmarshal(rawKind, &kind); err != nil {
		return "", nil, false
	}
	return kind, fields["value"], true
}

type decodeFunc func(json.RawMessage) (Value, error)

func decodeAs[T any](wrap func(T) Value) decodeFunc {
	return func(raw json.RawMessage) (Value, error) {
		var t T
		if err := json.Unmarshal(raw, &t); err != nil {
			return Value{}, err
		}
		return wrap(t), nil
	}
}

var builtinDecoders = map[string]decodeFunc{
	KindNull:    func(json.RawMessage) (Value, error) { return Null(), nil },
	KindString:  decodeAs(String),
	KindInt:     decodeAs(Int),
	KindFloat:   decodeAs(Float),
	KindBool:    decodeAs(Bool),
	KindStrings: decodeAs(Strings),
	KindInts:    decodeAs(Ints),
	KindTime:    decodeAs(Time),
	KindList:    decodeAs(func(items []Value) Value { return List(items...) }),
	KindMap:     decodeAs(Map),
}

// kindSpec describes a registered domain type.
type kindSpec struct {
	name  string
	typ   reflect.Type
	sniff func(json.RawMessage) bool
}

var (
	kindsMu    sync.RWMutex
	kinds      = map[string]kindSpec{}
	kindTypes  = map[reflect.Type]string{}
	sniffOrder []string
)

// RegisterKind makes T a settings kind. sniff, when set, recognizes legacy
// untagged JSON of this shape; sniffers run in registration order.
func RegisterKind[T any](name string, sniff func(json.RawMessage) bool) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, builtin := builtinDecoders[name]; builtin {
		panic(fmt.Sprintf("conversation: kind %q is built in", name))
	}
	if _, dup := kinds[name]; dup {
		panic(fmt.Sprintf("conversation: kind %q already registered", name))
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()
	kinds[name] = kindSpec{name: name, typ: typ, sniff: sniff}
	kindTypes[typ] = name
	if sniff != nil {
		sniffOrder = append(sniffOrder, name)
	}
}

func kindByType(t reflect.Type) (kindSpec, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	name, ok := kindTypes[t]
	if !ok {
		return kindSpec{}, false
	}
	return kinds[name], true
}

func decoderFor(kind string) (decodeFunc, bool) {
	if dec, ok := builtinDecoders[kind]; ok {
		return dec, true
	}
	kindsMu.RLock()
	spec, ok := kinds[kind]
	kindsMu.RUnlock()
	if !ok {
		return nil, false
	}
	return spec.decode, true
}

func (k kindSpec) decode(raw json.RawMessage) (Value, error) {
	ptr := reflect.New(k.typ)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return Value{}, err
	}
	return Value{kind: k.name, data: ptr.Elem().Interface()}, nil
}

// decodeUntagged tries the registered shape sniffers in order and falls back
// to a generic scalar/list/map value.
func decodeUntagged(data []byte) (Value, error) {
	kindsMu.RLock()
	specs := make([]kindSpec, 0, len(sniffOrder))
	for _, name := range sniffOrder {
		specs = append(specs, kinds[name])
	}
	kindsMu.RUnlock()

	for _, spec := range specs {
		if spec.sniff(data) {
			if val, err := spec.decode(data); err == nil {
				return val, nil
			}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return Value{}, fmt.Errorf("decode settings value: %w", err)
	}
	return fromGeneric(generic), nil
}

func fromGeneric(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case json.Number:
		if i, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			return Int(i)
		}
		f, _ := x.Float64()
		return Float(f)
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = fromGeneric(item)
		}
		return List(items...)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[k] = fromGeneric(item)
		}
		return Map(m)
	default:
		return Null()
	}
}

func (v Value) clone() Value {
	switch x := v.data.(type) {
	case []string:
		return Strings(append([]string(nil), x...))
	case []int64:
		return Ints(append([]int64(nil), x...))
	case []Value:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = item.clone()
		}
		return List(items...)
	case map[string]Value:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[k] = item.clone()
		}
		return Map(m)
	default:
		return v
	}
}

// Settings is a conversation's key/value bag.
type Settings map[string]Value

// Set stores v under key, wrapping it with Of.
func (s Settings) Set(key string, v any) {
	s[key] = Of(v)
}

// Get returns the payload under key as T.
func Get[T any](s Settings, key string) (T, bool) {
	v, ok := s[key]
	if !ok {
		var zero T
		return zero, false
	}
	return As[T](v)
}

// Has reports whether key is set.
func (s Settings) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// String returns the string under key, or "".
func (s Settings) String(key string) string {
	v, _ := Get[string](s, key)
	return v
}

// Int returns the integer under key, or 0.
func (s Settings) Int(key string) int64 {
	v, _ := Get[int64](s, key)
	return v
}

// Bool returns the bool under key, or false.
func (s Settings) Bool(key string) bool {
	v, _ := Get[bool](s, key)
	return v
}

// Keys returns the sorted keys.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone copies the bag. Registered domain values are shared.
func (s Settings) Clone() Settings {
	if s == nil {
		return Settings{}
	}
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v.clone()
	}
	return out
}

// Encode serializes the bag for storage.
func (s Settings) Encode() (string, error) {
	if s == nil {
		s = Settings{}
	}
	data, err := json.Marshal(map[string]Value(s))
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}
	return string(data), nil
}

// DecodeSettings parses stored settings text. Empty text yields an empty bag.
func DecodeSettings(text string) (Settings, error) {
	if len(bytes.TrimSpace([]byte(text))) == 0 {
		return Settings{}, nil
	}
	var m map[string]Value
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if m == nil {
		return Settings{}, nil
	}
	return Settings(m), nil
}
