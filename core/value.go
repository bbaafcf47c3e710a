package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// BinType identifies the concrete type carried by a BinValue. The tag
// byte is the first byte of the binary encoding and must stay stable
// across engine versions. Values 0xE0 and above are reserved for the
// expiration codec and must never be assigned to a value type.
type BinType byte

const (
	BinTypeNil    BinType = 0x00
	BinTypeInt    BinType = 0x01
	BinTypeFloat  BinType = 0x02
	BinTypeString BinType = 0x03
	BinTypeBool   BinType = 0x04
	BinTypeBytes  BinType = 0x05
	BinTypeList   BinType = 0x06
	BinTypeMap    BinType = 0x07
)

// BinValue holds a typed bin value. The data field holds the actual Go
// type (int64, float64, string, bool, []byte, []BinValue or
// map[string]BinValue).
type BinValue struct {
	binType BinType
	data    any
}

// NewBinValue creates a BinValue from a native Go value, promoting
// narrower numeric types the way the wire format expects.
func NewBinValue(data any) (BinValue, error) {
	switch v := data.(type) {
	case nil:
		return BinValue{binType: BinTypeNil}, nil
	case int:
		return BinValue{binType: BinTypeInt, data: int64(v)}, nil
	case int32:
		return BinValue{binType: BinTypeInt, data: int64(v)}, nil
	case int64:
		return BinValue{binType: BinTypeInt, data: v}, nil
	case float32:
		return BinValue{binType: BinTypeFloat, data: float64(v)}, nil
	case float64:
		return BinValue{binType: BinTypeFloat, data: v}, nil
	case string:
		return BinValue{binType: BinTypeString, data: v}, nil
	case bool:
		return BinValue{binType: BinTypeBool, data: v}, nil
	case []byte:
		return BinValue{binType: BinTypeBytes, data: v}, nil
	case []any:
		list := make([]BinValue, 0, len(v))
		for i, elem := range v {
			bv, err := NewBinValue(elem)
			if err != nil {
				return BinValue{}, fmt.Errorf("invalid list element %d: %w", i, err)
			}
			list = append(list, bv)
		}
		return BinValue{binType: BinTypeList, data: list}, nil
	case []BinValue:
		return BinValue{binType: BinTypeList, data: v}, nil
	case map[string]any:
		m := make(map[string]BinValue, len(v))
		for k, elem := range v {
			bv, err := NewBinValue(elem)
			if err != nil {
				return BinValue{}, fmt.Errorf("invalid map entry '%s': %w", k, err)
			}
			m[k] = bv
		}
		return BinValue{binType: BinTypeMap, data: m}, nil
	case map[string]BinValue:
		return BinValue{binType: BinTypeMap, data: v}, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return BinValue{binType: BinTypeInt, data: i}, nil
		}
		f, err := v.Float64()
		if err != nil {
			return BinValue{}, fmt.Errorf("invalid numeric value '%s': %w", v, err)
		}
		return BinValue{binType: BinTypeFloat, data: f}, nil
	default:
		return BinValue{}, &UnsupportedTypeError{Message: fmt.Sprintf("unsupported value type: %T", data)}
	}
}

// MustBinValue is a test/demo helper that panics on conversion failure.
func MustBinValue(data any) BinValue {
	bv, err := NewBinValue(data)
	if err != nil {
		panic(err)
	}
	return bv
}

// NilValue returns the nil BinValue.
func NilValue() BinValue {
	return BinValue{binType: BinTypeNil}
}

// Type returns the value's type tag.
func (bv BinValue) Type() BinType {
	return bv.binType
}

// IsNull reports whether the value is the nil value.
func (bv BinValue) IsNull() bool {
	return bv.binType == BinTypeNil
}

// Interface returns the value as a plain Go value (the inverse of
// NewBinValue, with lists and maps converted recursively).
func (bv BinValue) Interface() any {
	switch bv.binType {
	case BinTypeList:
		list := bv.data.([]BinValue)
		out := make([]any, 0, len(list))
		for _, elem := range list {
			out = append(out, elem.Interface())
		}
		return out
	case BinTypeMap:
		m := bv.data.(map[string]BinValue)
		out := make(map[string]any, len(m))
		for k, elem := range m {
			out[k] = elem.Interface()
		}
		return out
	default:
		return bv.data
	}
}

func (bv BinValue) ValueInt64() (int64, bool) {
	v, ok := bv.data.(int64)
	return v, ok
}

func (bv BinValue) ValueFloat64() (float64, bool) {
	v, ok := bv.data.(float64)
	return v, ok
}

func (bv BinValue) ValueString() (string, bool) {
	v, ok := bv.data.(string)
	return v, ok
}

func (bv BinValue) ValueBool() (bool, bool) {
	v, ok := bv.data.(bool)
	return v, ok
}

func (bv BinValue) ValueBytes() ([]byte, bool) {
	v, ok := bv.data.([]byte)
	return v, ok
}

func (bv BinValue) ValueList() ([]BinValue, bool) {
	v, ok := bv.data.([]BinValue)
	return v, ok
}

func (bv BinValue) ValueMap() (map[string]BinValue, bool) {
	v, ok := bv.data.(map[string]BinValue)
	return v, ok
}

// Equal reports deep equality of two values including their types.
func (bv BinValue) Equal(other BinValue) bool {
	if bv.binType != other.binType {
		return false
	}
	switch bv.binType {
	case BinTypeBytes:
		a, _ := bv.ValueBytes()
		b, _ := other.ValueBytes()
		return bytes.Equal(a, b)
	case BinTypeList:
		a, _ := bv.ValueList()
		b, _ := other.ValueList()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case BinTypeMap:
		a, _ := bv.ValueMap()
		b, _ := other.ValueMap()
		if len(a) != len(b) {
			return false
		}
		for k, av := range a {
			ov, ok := b[k]
			if !ok || !av.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return bv.data == other.data
	}
}

// MarshalJSON implements the json.Marshaler interface for BinValue.
func (bv BinValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(bv.Interface())
}

// UnmarshalJSON implements the json.Unmarshaler interface. Numbers
// without a fractional part become int64, everything else float64.
func (bv *BinValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := NewBinValue(raw)
	if err != nil {
		return err
	}
	*bv = parsed
	return nil
}

// Encode serializes the value into its stable binary representation:
// a type tag byte followed by a type-specific payload.
func (bv BinValue) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := bv.encodeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (bv BinValue) encodeTo(buf *bytes.Buffer) error {
	buf.WriteByte(byte(bv.binType))
	switch bv.binType {
	case BinTypeNil:
		return nil
	case BinTypeInt:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(bv.data.(int64)))
		buf.Write(b[:])
		return nil
	case BinTypeFloat:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(bv.data.(float64)))
		buf.Write(b[:])
		return nil
	case BinTypeString:
		return encodeLenPrefixed(buf, []byte(bv.data.(string)))
	case BinTypeBytes:
		return encodeLenPrefixed(buf, bv.data.([]byte))
	case BinTypeBool:
		if bv.data.(bool) {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		return nil
	case BinTypeList:
		list := bv.data.([]BinValue)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(list)))
		buf.Write(b[:])
		for i, elem := range list {
			if err := elem.encodeTo(buf); err != nil {
				return fmt.Errorf("failed to encode list element %d: %w", i, err)
			}
		}
		return nil
	case BinTypeMap:
		m := bv.data.(map[string]BinValue)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(m)))
		buf.Write(b[:])
		for k, elem := range m {
			if err := encodeLenPrefixed(buf, []byte(k)); err != nil {
				return fmt.Errorf("failed to encode map key '%s': %w", k, err)
			}
			if err := elem.encodeTo(buf); err != nil {
				return fmt.Errorf("failed to encode map value for '%s': %w", k, err)
			}
		}
		return nil
	default:
		return &UnsupportedTypeError{Message: fmt.Sprintf("unsupported type tag 0x%02x", byte(bv.binType))}
	}
}

func encodeLenPrefixed(buf *bytes.Buffer, data []byte) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(len(data)))
	buf.Write(b[:])
	buf.Write(data)
	return nil
}

// DecodeValue deserializes a value from a reader.
func DecodeValue(r io.Reader) (BinValue, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return BinValue{}, fmt.Errorf("failed to read value type tag: %w", err)
	}
	t := BinType(tag[0])
	switch t {
	case BinTypeNil:
		return BinValue{binType: BinTypeNil}, nil
	case BinTypeInt:
		var v int64
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return BinValue{}, fmt.Errorf("failed to read int value: %w", err)
		}
		return BinValue{binType: BinTypeInt, data: v}, nil
	case BinTypeFloat:
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return BinValue{}, fmt.Errorf("failed to read float value: %w", err)
		}
		return BinValue{binType: BinTypeFloat, data: math.Float64frombits(bits)}, nil
	case BinTypeString:
		b, err := decodeLenPrefixed(r)
		if err != nil {
			return BinValue{}, fmt.Errorf("failed to read string value: %w", err)
		}
		return BinValue{binType: BinTypeString, data: string(b)}, nil
	case BinTypeBytes:
		b, err := decodeLenPrefixed(r)
		if err != nil {
			return BinValue{}, fmt.Errorf("failed to read bytes value: %w", err)
		}
		return BinValue{binType: BinTypeBytes, data: b}, nil
	case BinTypeBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return BinValue{}, fmt.Errorf("failed to read bool value: %w", err)
		}
		return BinValue{binType: BinTypeBool, data: b[0] == 1}, nil
	case BinTypeList:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return BinValue{}, fmt.Errorf("failed to read list length: %w", err)
		}
		list := make([]BinValue, 0, n)
		for i := uint32(0); i < n; i++ {
			elem, err := DecodeValue(r)
			if err != nil {
				return BinValue{}, fmt.Errorf("failed to decode list element %d: %w", i, err)
			}
			list = append(list, elem)
		}
		return BinValue{binType: BinTypeList, data: list}, nil
	case BinTypeMap:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return BinValue{}, fmt.Errorf("failed to read map length: %w", err)
		}
		m := make(map[string]BinValue, n)
		for i := uint32(0); i < n; i++ {
			k, err := decodeLenPrefixed(r)
			if err != nil {
				return BinValue{}, fmt.Errorf("failed to decode map key %d: %w", i, err)
			}
			elem, err := DecodeValue(r)
			if err != nil {
				return BinValue{}, fmt.Errorf("failed to decode map value for '%s': %w", k, err)
			}
			m[string(k)] = elem
		}
		return BinValue{binType: BinTypeMap, data: m}, nil
	default:
		return BinValue{}, &UnsupportedTypeError{Message: fmt.Sprintf("unsupported type tag 0x%02x", tag[0])}
	}
}

// DecodeValueBytes is a helper to decode a value from a byte slice.
func DecodeValueBytes(data []byte) (BinValue, error) {
	return DecodeValue(bytes.NewReader(data))
}

func decodeLenPrefixed(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
