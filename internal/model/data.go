package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DataType is the declared type of an assemblage column.
type DataType int

const (
	TypeUnknown DataType = iota
	TypeBoolean
	TypeInteger
	TypeLong
	TypeFloat
	TypeDouble
	TypeString
	TypeUUID
	TypeNID
	TypeByteArray
	// TypePolymorphic columns accept a value of any concrete type.
	TypePolymorphic
)

var dataTypeNames = map[DataType]string{
	TypeBoolean:     "boolean",
	TypeInteger:     "integer",
	TypeLong:        "long",
	TypeFloat:       "float",
	TypeDouble:      "double",
	TypeString:      "string",
	TypeUUID:        "uuid",
	TypeNID:         "nid",
	TypeByteArray:   "byte-array",
	TypePolymorphic: "polymorphic",
}

// String returns the lowercase name used in schema files and storage.
func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// ParseDataType parses a type name as written by DataType.String.
// "bytes" and "bytearray" are accepted as aliases for byte-array.
func ParseDataType(s string) (DataType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "bytes", "bytearray":
		return TypeByteArray, nil
	}
	for t, n := range dataTypeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown data type %q", s)
}

// Data is a sealed interface over the decoded value of one refex column.
// Only the Dyn* types in this file implement it.
type Data interface {
	Type() DataType
	dynData() // Sealed
}

// DynBoolean is a boolean column value.
type DynBoolean bool

// DynInteger is a 32-bit integer column value.
type DynInteger int32

// DynLong is a 64-bit integer column value.
type DynLong int64

// DynFloat is a 32-bit float column value.
type DynFloat float32

// DynDouble is a 64-bit float column value.
type DynDouble float64

// DynString is a string column value.
type DynString string

// DynUUID references a component by persistent identity.
type DynUUID uuid.UUID

// DynNID references a component by process-local identity.
type DynNID NID

// DynByteArray is an opaque binary column value.
type DynByteArray []byte

// DynUndecodable holds a stored value that could not be decoded.
// It keeps the raw bytes so the row can still be shown and reported.
type DynUndecodable struct {
	Raw []byte
	Err error
}

func (DynBoolean) Type() DataType     { return TypeBoolean }
func (DynInteger) Type() DataType     { return TypeInteger }
func (DynLong) Type() DataType        { return TypeLong }
func (DynFloat) Type() DataType       { return TypeFloat }
func (DynDouble) Type() DataType      { return TypeDouble }
func (DynString) Type() DataType      { return TypeString }
func (DynUUID) Type() DataType        { return TypeUUID }
func (DynNID) Type() DataType         { return TypeNID }
func (DynByteArray) Type() DataType   { return TypeByteArray }
func (DynUndecodable) Type() DataType { return TypeUnknown }

func (DynBoolean) dynData()     {}
func (DynInteger) dynData()     {}
func (DynLong) dynData()        {}
func (DynFloat) dynData()       {}
func (DynDouble) dynData()      {}
func (DynString) dynData()      {}
func (DynUUID) dynData()        {}
func (DynNID) dynData()         {}
func (DynByteArray) dynData()   {}
func (DynUndecodable) dynData() {}

// Accepts reports whether a value of type v may be stored in a column
// declared as t.
func (t DataType) Accepts(v DataType) bool {
	if v == TypeUnknown {
		return false
	}
	return t == TypePolymorphic || t == v
}

// ParseData converts the textual form of a value into Data of type t.
// Polymorphic columns take "type:value", e.g. "long:42".
// Byte arrays are base64 encoded.
func ParseData(t DataType, text string) (Data, error) {
	switch t {
	case TypeBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("parse boolean %q: %w", text, err)
		}
		return DynBoolean(b), nil
	case TypeInteger:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse integer %q: %w", text, err)
		}
		return DynInteger(n), nil
	case TypeLong:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse long %q: %w", text, err)
		}
		return DynLong(n), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", text, err)
		}
		return DynFloat(f), nil
	case TypeDouble:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("parse double %q: %w", text, err)
		}
		return DynDouble(f), nil
	case TypeString:
		return DynString(text), nil
	case TypeUUID:
		id, err := uuid.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse uuid %q: %w", text, err)
		}
		return DynUUID(id), nil
	case TypeNID:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse nid %q: %w", text, err)
		}
		return DynNID(n), nil
	case TypeByteArray:
		b, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("parse byte-array: %w", err)
		}
		return DynByteArray(b), nil
	case TypePolymorphic:
		name, value, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf("polymorphic value %q must be written as type:value", text)
		}
		inner, err := ParseDataType(name)
		if err != nil {
			return nil, err
		}
		if inner == TypePolymorphic {
			return nil, fmt.Errorf("polymorphic value %q needs a concrete type", text)
		}
		return ParseData(inner, value)
	default:
		return nil, fmt.Errorf("cannot parse value of type %s", t)
	}
}

// storedData is the tagged JSON envelope for one Data value.
type storedData struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v"`
}

// MarshalData encodes a value as {"t": <type>, "v": <value>}.
// A nil Data encodes as JSON null (an unset column).
func MarshalData(d Data) ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var v any
	switch val := d.(type) {
	case DynBoolean:
		v = bool(val)
	case DynInteger:
		v = int32(val)
	case DynLong:
		v = int64(val)
	case DynFloat:
		v = float32(val)
	case DynDouble:
		v = float64(val)
	case DynString:
		v = string(val)
	case DynUUID:
		v = uuid.UUID(val).String()
	case DynNID:
		v = int32(val)
	case DynByteArray:
		v = []byte(val)
	case DynUndecodable:
		// Round-trip the original bytes untouched.
		if len(val.Raw) == 0 {
			return []byte("null"), nil
		}
		return val.Raw, nil
	default:
		return nil, fmt.Errorf("unknown Data type: %T", d)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s value: %w", d.Type(), err)
	}
	return json.Marshal(storedData{T: d.Type().String(), V: raw})
}

// UnmarshalData decodes one tagged value. JSON null yields (nil, nil).
func UnmarshalData(data []byte) (Data, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var env storedData
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode data envelope: %w", err)
	}
	t, err := ParseDataType(env.T)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(env.V))
	dec.UseNumber()

	switch t {
	case TypeBoolean:
		var b bool
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("decode boolean: %w", err)
		}
		return DynBoolean(b), nil
	case TypeInteger, TypeLong, TypeNID:
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("decode %s %q: %w", t, n, err)
		}
		switch t {
		case TypeInteger:
			return DynInteger(i), nil
		case TypeNID:
			return DynNID(i), nil
		}
		return DynLong(i), nil
	case TypeFloat, TypeDouble:
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("decode %s %q: %w", t, n, err)
		}
		if t == TypeFloat {
			return DynFloat(f), nil
		}
		return DynDouble(f), nil
	case TypeString:
		var s string
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("decode string: %w", err)
		}
		return DynString(s), nil
	case TypeUUID:
		var s string
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("decode uuid: %w", err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("decode uuid %q: %w", s, err)
		}
		return DynUUID(id), nil
	case TypeByteArray:
		var b []byte
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("decode byte-array: %w", err)
		}
		return DynByteArray(b), nil
	default:
		return nil, fmt.Errorf("type %s cannot be stored", t)
	}
}

// MarshalDataList encodes an ordered column array as a JSON array.
func MarshalDataList(list []Data) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, d := range list {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalData(d)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalDataList decodes a JSON array written by MarshalDataList.
// A slot that fails to decode becomes DynUndecodable; the remaining slots
// are still decoded.
func UnmarshalDataList(data []byte) ([]Data, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode data list: %w", err)
	}
	out := make([]Data, len(raw))
	for i, r := range raw {
		d, err := UnmarshalData(r)
		if err != nil {
			out[i] = DynUndecodable{Raw: append([]byte(nil), r...), Err: err}
			continue
		}
		out[i] = d
	}
	return out, nil
}
