package codec

import (
	"bytes"
	"math"
	"strconv"
	"unicode/utf8"
)

const indentUnit = "  "

// Encode renders v as pretty-printed JSON text with two-space indentation.
// Object keys keep their insertion order. Non-finite floats are written as null.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v, 0)
	return buf.Bytes()
}

// EncodeCompact renders v on a single line with no insignificant whitespace.
func EncodeCompact(v Value) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v, -1)
	return buf.Bytes()
}

// depth < 0 selects compact output.
func encodeValue(buf *bytes.Buffer, v Value, depth int) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if v.isFloat {
			writeFloat(buf, v.f)
		} else {
			buf.WriteString(strconv.FormatInt(v.i, 10))
		}
	case KindString:
		writeString(buf, v.s)
	case KindArray:
		if len(v.arr) == 0 {
			buf.WriteString("[]")
			return
		}
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			newline(buf, child(depth))
			encodeValue(buf, item, child(depth))
		}
		newline(buf, depth)
		buf.WriteByte(']')
	case KindObject:
		if v.obj.Len() == 0 {
			buf.WriteString("{}")
			return
		}
		buf.WriteByte('{')
		for i, key := range v.obj.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			newline(buf, child(depth))
			writeString(buf, key)
			buf.WriteByte(':')
			if depth >= 0 {
				buf.WriteByte(' ')
			}
			encodeValue(buf, v.obj.vals[i], child(depth))
		}
		newline(buf, depth)
		buf.WriteByte('}')
	}
}

func child(depth int) int {
	if depth < 0 {
		return depth
	}
	return depth + 1
}

func newline(buf *bytes.Buffer, depth int) {
	if depth < 0 {
		return
	}
	buf.WriteByte('\n')
	for i := 0; i < depth; i++ {
		buf.WriteString(indentUnit)
	}
}

func writeFloat(buf *bytes.Buffer, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		buf.WriteString("null")
		return
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	buf.WriteString(s)
	if !bytes.ContainsAny([]byte(s), ".eE") {
		// Keep the float tag across a round trip.
		buf.WriteString(".0")
	}
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			default:
				if c < 0x20 || c == 0x7f {
					buf.WriteString(`\u00`)
					buf.WriteByte(hexDigits[c>>4])
					buf.WriteByte(hexDigits[c&0xf])
				} else {
					buf.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf.WriteString(`\ufffd`)
		} else {
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}
