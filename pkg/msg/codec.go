package msg

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire values are msgpack. Registered extension types travel as tagged maps
// so both ends rebuild the concrete Go type without a schema.
const (
	extKey     = "$ext"
	payloadKey = "$payload"
)

// Ext describes a value type that the codec carries as a tagged variant.
type Ext struct {
	// Tag names the variant on the wire.
	Tag string
	// Lower converts a value of the extension type into a plain payload
	// map. It reports false when the value is not of this type.
	Lower func(v any) (map[string]any, bool)
	// Lift rebuilds the value from a decoded payload map.
	Lift func(payload map[string]any) (any, error)
}

var extensions []Ext

// Register adds an extension type to the codec. Call from package init;
// registration is not synchronized.
func Register(e Ext) {
	extensions = append(extensions, e)
}

type wireMessage struct {
	Cmd    string         `msgpack:"cmd"`
	Args   []any          `msgpack:"args"`
	Kwargs map[string]any `msgpack:"kwargs"`
}

// Encode serializes a message. Registered extension values are lowered into
// tagged maps anywhere inside Args and Kwargs.
func Encode(m *Message) ([]byte, error) {
	w := wireMessage{Cmd: m.Cmd}

	seen := make(map[uintptr]struct{})
	var err error
	if w.Args, err = lowerSlice(m.Args, seen); err != nil {
		return nil, err
	}
	if w.Kwargs, err = lowerMap(m.Kwargs, seen); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes a message. Scalars normalize to int64 (uint64 for
// unsigned values)/float64/bool/string, containers to []any and
// map[string]any, and tagged maps lift back
// into their registered Go types.
func Decode(b []byte) (*Message, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)

	var w wireMessage
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if w.Cmd == "" {
		return nil, fmt.Errorf("decode message: missing cmd")
	}

	m := &Message{Cmd: w.Cmd}
	var err error
	if m.Args, err = liftSlice(w.Args); err != nil {
		return nil, err
	}
	if m.Kwargs, err = liftMap(w.Kwargs); err != nil {
		return nil, err
	}
	return m, nil
}

func lower(v any, seen map[uintptr]struct{}) (any, error) {
	if v == nil {
		return nil, nil
	}

	for _, e := range extensions {
		if payload, ok := e.Lower(v); ok {
			lowered, err := lowerMap(payload, seen)
			if err != nil {
				return nil, err
			}
			return map[string]any{extKey: e.Tag, payloadKey: lowered}, nil
		}
	}

	if b, ok := v.([]byte); ok {
		return b, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if err := enter(rv, seen); err != nil {
				return nil, err
			}
			defer leave(rv, seen)
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			lv, err := lower(rv.Index(i).Interface(), seen)
			if err != nil {
				return nil, err
			}
			out[i] = lv
		}
		return out, nil
	case reflect.Map:
		if err := enter(rv, seen); err != nil {
			return nil, err
		}
		defer leave(rv, seen)
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, ok := iter.Key().Interface().(string)
			if !ok {
				return nil, fmt.Errorf("encode message: map key %v is not a string", iter.Key())
			}
			lv, err := lower(iter.Value().Interface(), seen)
			if err != nil {
				return nil, err
			}
			out[k] = lv
		}
		return out, nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return lower(rv.Elem().Interface(), seen)
	default:
		return v, nil
	}
}

func lowerSlice(in []any, seen map[uintptr]struct{}) ([]any, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]any, len(in))
	for i, v := range in {
		lv, err := lower(v, seen)
		if err != nil {
			return nil, err
		}
		out[i] = lv
	}
	return out, nil
}

func lowerMap(in map[string]any, seen map[uintptr]struct{}) (map[string]any, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		lv, err := lower(v, seen)
		if err != nil {
			return nil, err
		}
		out[k] = lv
	}
	return out, nil
}

func enter(rv reflect.Value, seen map[uintptr]struct{}) error {
	p := rv.Pointer()
	if p == 0 {
		return nil
	}
	if _, ok := seen[p]; ok {
		return fmt.Errorf("encode message: cyclic container")
	}
	seen[p] = struct{}{}
	return nil
}

func leave(rv reflect.Value, seen map[uintptr]struct{}) {
	if p := rv.Pointer(); p != 0 {
		delete(seen, p)
	}
}

func lift(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if tag, ok := t[extKey].(string); ok {
			payload, _ := t[payloadKey].(map[string]any)
			lifted, err := liftMap(payload)
			if err != nil {
				return nil, err
			}
			for _, e := range extensions {
				if e.Tag == tag {
					return e.Lift(lifted)
				}
			}
			return nil, fmt.Errorf("decode message: unknown extension %q", tag)
		}
		return liftMap(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, mv := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("decode message: map key %v is not a string", k)
			}
			lv, err := lift(mv)
			if err != nil {
				return nil, err
			}
			out[ks] = lv
		}
		return lift(out)
	case []any:
		return liftSlice(t)
	default:
		return v, nil
	}
}

func liftSlice(in []any) ([]any, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]any, len(in))
	for i, v := range in {
		lv, err := lift(v)
		if err != nil {
			return nil, err
		}
		out[i] = lv
	}
	return out, nil
}

func liftMap(in map[string]any) (map[string]any, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		lv, err := lift(v)
		if err != nil {
			return nil, err
		}
		out[k] = lv
	}
	return out, nil
}
