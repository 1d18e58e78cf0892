// Package value implements Strata's tagged Value union (spec.md §3):
// Null, Bool, Int, Float, String, Bytes, Array, Object, with recursive
// structural equality and a wire encoding shared by every primitive's
// WAL payload.
package value

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Kind tags a Value's active variant.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindObject
)

// Value is Strata's recursive tagged union. Exactly one field is
// meaningful per Kind; callers should use the constructors below rather
// than building a Value by hand.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	arr  []Value
	obj  map[string]Value
}

func Null() Value              { return Value{kind: KindNull} }
func Bool(v bool) Value        { return Value{kind: KindBool, b: v} }
func Int(v int64) Value        { return Value{kind: KindInt, i: v} }
func Float(v float64) Value    { return Value{kind: KindFloat, f: v} }
func String(v string) Value    { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value     { return Value{kind: KindBytes, by: append([]byte(nil), v...)} }
func Array(v []Value) Value    { return Value{kind: KindArray, arr: v} }
func Object(v map[string]Value) Value {
	return Value{kind: KindObject, obj: v}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)          { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)          { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)      { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool)      { return v.s, v.kind == KindString }
func (v Value) AsBytes() ([]byte, bool)       { return v.by, v.kind == KindBytes }
func (v Value) AsArray() ([]Value, bool)      { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Equal implements spec.md §3's structural equality: NaN is never equal
// to itself, even to another NaN.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		if math.IsNaN(v.f) || math.IsNaN(other.f) {
			return false
		}
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindBytes:
		if len(v.by) != len(other.by) {
			return false
		}
		for i := range v.by {
			if v.by[i] != other.by[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, lv := range v.obj {
			rv, ok := other.obj[k]
			if !ok || !lv.Equal(rv) {
				return false
			}
		}
		return true
	}
	return false
}

// toBSON / fromBSON recurse through Array/Object so the mongo-driver
// bson codec (the teacher's document codec, pkg/storage/bson.go) does
// the structural recursion for us instead of a hand-rolled walker.
func toBSON(v Value) interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.by
	case KindArray:
		a := make(bson.A, len(v.arr))
		for i, e := range v.arr {
			a[i] = toBSON(e)
		}
		return a
	case KindObject:
		d := bson.D{}
		for k, e := range v.obj {
			d = append(d, bson.E{Key: k, Value: toBSON(e)})
		}
		return d
	}
	return nil
}

func fromBSON(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case int:
		return Int(int64(t))
	case float64:
		return Float(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case bson.Binary:
		return Bytes(t.Data)
	case bson.A:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = fromBSON(e)
		}
		return Array(out)
	case bson.D:
		out := make(map[string]Value, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return Object(out)
	case bson.M:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = fromBSON(e)
		}
		return Object(out)
	default:
		return Null()
	}
}

// wireTag mirrors the Kind enum so the wire format is stable regardless
// of future Kind reordering.
const (
	wireNull uint8 = iota
	wireBool
	wireInt
	wireFloat
	wireString
	wireBytes
	wireContainer // Array or Object, disambiguated by the BSON payload itself
)

// Encode produces the WAL wire representation: one tag byte followed by
// a length-prefixed payload (spec.md §9 design note). Scalars are
// encoded directly; Array/Object recurse through BSON.
func Encode(v Value) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte{wireNull}, nil
	case KindBool:
		b := byte(0)
		if v.b {
			b = 1
		}
		return []byte{wireBool, b}, nil
	case KindInt:
		buf := make([]byte, 9)
		buf[0] = wireInt
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.i))
		return buf, nil
	case KindFloat:
		buf := make([]byte, 9)
		buf[0] = wireFloat
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.f))
		return buf, nil
	case KindString:
		return encodeLenPrefixed(wireString, []byte(v.s)), nil
	case KindBytes:
		return encodeLenPrefixed(wireBytes, v.by), nil
	case KindArray, KindObject:
		// Wrap so bson.Marshal always sees a document at the top level.
		payload, err := bson.Marshal(bson.D{{Key: "v", Value: toBSON(v)}})
		if err != nil {
			return nil, errors.Wrap(err, "value: encode container")
		}
		return encodeLenPrefixed(wireContainer, payload), nil
	}
	return nil, errors.Newf("value: unknown kind %d", v.kind)
}

func encodeLenPrefixed(tag uint8, payload []byte) []byte {
	buf := make([]byte, 5+len(payload))
	buf[0] = tag
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)
	return buf
}

// Decode parses the wire representation produced by Encode.
func Decode(buf []byte) (Value, error) {
	if len(buf) == 0 {
		return Value{}, errors.New("value: empty buffer")
	}
	switch buf[0] {
	case wireNull:
		return Null(), nil
	case wireBool:
		if len(buf) < 2 {
			return Value{}, errors.New("value: truncated bool")
		}
		return Bool(buf[1] == 1), nil
	case wireInt:
		if len(buf) < 9 {
			return Value{}, errors.New("value: truncated int")
		}
		return Int(int64(binary.LittleEndian.Uint64(buf[1:9]))), nil
	case wireFloat:
		if len(buf) < 9 {
			return Value{}, errors.New("value: truncated float")
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(buf[1:9]))), nil
	case wireString:
		payload, err := decodeLenPrefixed(buf)
		if err != nil {
			return Value{}, err
		}
		return String(string(payload)), nil
	case wireBytes:
		payload, err := decodeLenPrefixed(buf)
		if err != nil {
			return Value{}, err
		}
		return Bytes(payload), nil
	case wireContainer:
		payload, err := decodeLenPrefixed(buf)
		if err != nil {
			return Value{}, err
		}
		var wrapper bson.D
		if err := bson.Unmarshal(payload, &wrapper); err != nil {
			return Value{}, errors.Wrap(err, "value: decode container")
		}
		for _, e := range wrapper {
			if e.Key == "v" {
				return fromBSON(e.Value), nil
			}
		}
		return Value{}, errors.New("value: container missing payload")
	}
	return Value{}, errors.Newf("value: unknown wire tag %d", buf[0])
}

func decodeLenPrefixed(buf []byte) ([]byte, error) {
	if len(buf) < 5 {
		return nil, errors.New("value: truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(buf[1:5])
	if uint32(len(buf)-5) < n {
		return nil, errors.New("value: truncated payload")
	}
	return buf[5 : 5+n], nil
}

// ToJSONString renders a Value as an extended-JSON-ish string for
// callers that want a human-readable form (used by the JSON primitive's
// debug helpers and examples).
func ToJSONString(v Value) (string, error) {
	payload, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: toBSON(v)}}, false, false)
	if err != nil {
		return "", errors.Wrap(err, "value: marshal json")
	}
	return string(payload), nil
}
