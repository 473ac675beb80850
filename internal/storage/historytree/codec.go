package historytree

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
)

// Interval record format (binary, little-endian):
// - Type (1 byte, see type codes)
// - Start (8 bytes)
// - End (8 bytes)
// - Quark (4 bytes)
// - Payload: int 4 bytes, long/double 8 bytes,
//   string 2 bytes length + bytes, none for null and booleans
const (
	typeNull   int8 = -1
	typeInt    int8 = 0
	typeString int8 = 1
	typeLong   int8 = 2
	typeDouble int8 = 3
	typeTrue   int8 = 4
	typeFalse  int8 = 5

	intervalHeaderSize = 1 + 8 + 8 + 4

	maxStringLen = math.MaxUint16
)

// intervalSize returns the encoded size of iv.
func intervalSize(iv state.Interval) int {
	return intervalHeaderSize + payloadSize(iv.Value)
}

func payloadSize(v state.Value) int {
	switch v.Kind() {
	case state.KindInt:
		return 4
	case state.KindLong, state.KindDouble:
		return 8
	case state.KindString:
		s, _ := v.AsString()
		return 2 + len(s)
	default:
		return 0
	}
}

// checkEncodable rejects values the record format cannot represent.
func checkEncodable(v state.Value) error {
	if v.Kind() != state.KindString {
		return nil
	}
	s, _ := v.AsString()
	if len(s) > maxStringLen {
		return fmt.Errorf("string of %d bytes: %w", len(s), errors.ErrIntervalTooLarge)
	}
	return nil
}

// appendInterval appends the encoded record to buf.
func appendInterval(buf []byte, iv state.Interval) []byte {
	v := iv.Value
	code := typeNull

	switch v.Kind() {
	case state.KindInt:
		code = typeInt
	case state.KindString:
		code = typeString
	case state.KindLong:
		code = typeLong
	case state.KindDouble:
		code = typeDouble
	case state.KindBool:
		if b, _ := v.AsBool(); b {
			code = typeTrue
		} else {
			code = typeFalse
		}
	}

	buf = append(buf, byte(code))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(iv.Start))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(iv.End))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(iv.Quark)))

	switch code {
	case typeInt:
		i, _ := v.AsInt()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(i))
	case typeLong:
		l, _ := v.AsLong()
		buf = binary.LittleEndian.AppendUint64(buf, uint64(l))
	case typeDouble:
		d, _ := v.AsDouble()
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(d))
	case typeString:
		s, _ := v.AsString()
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}

	return buf
}

// readInterval decodes one record at offset and returns the next offset.
func readInterval(data []byte, offset int) (state.Interval, int, error) {
	if offset+intervalHeaderSize > len(data) {
		return state.Interval{}, offset, fmt.Errorf("data too short for interval header")
	}

	code := int8(data[offset])
	iv := state.Interval{
		Start: int64(binary.LittleEndian.Uint64(data[offset+1:])),
		End:   int64(binary.LittleEndian.Uint64(data[offset+9:])),
		Quark: int(int32(binary.LittleEndian.Uint32(data[offset+17:]))),
	}
	offset += intervalHeaderSize

	switch code {
	case typeNull:
		iv.Value = state.Null()
	case typeTrue:
		iv.Value = state.Bool(true)
	case typeFalse:
		iv.Value = state.Bool(false)
	case typeInt:
		if offset+4 > len(data) {
			return iv, offset, fmt.Errorf("data too short for int value")
		}
		iv.Value = state.Int(int32(binary.LittleEndian.Uint32(data[offset:])))
		offset += 4
	case typeLong:
		if offset+8 > len(data) {
			return iv, offset, fmt.Errorf("data too short for long value")
		}
		iv.Value = state.Long(int64(binary.LittleEndian.Uint64(data[offset:])))
		offset += 8
	case typeDouble:
		if offset+8 > len(data) {
			return iv, offset, fmt.Errorf("data too short for double value")
		}
		iv.Value = state.Double(math.Float64frombits(binary.LittleEndian.Uint64(data[offset:])))
		offset += 8
	case typeString:
		s, next, err := readString(data, offset)
		if err != nil {
			return iv, offset, err
		}
		iv.Value = state.String(s)
		offset = next
	default:
		return iv, offset, fmt.Errorf("unknown value type %d", code)
	}

	return iv, offset, nil
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length")
	}

	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content")
	}

	s := string(data[offset : offset+length])
	return s, offset + length, nil
}
