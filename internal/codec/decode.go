package codec

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// ErrSyntax is matched by every *SyntaxError via errors.Is.
var ErrSyntax = errors.New("codec: syntax error")

// maxDepth bounds container nesting so hostile input cannot exhaust the stack.
const maxDepth = 512

// SyntaxError reports malformed input and the byte offset where parsing stopped.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("codec: %s at offset %d", e.Msg, e.Offset)
}

// Unwrap lets callers match with errors.Is(err, ErrSyntax).
func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// Decoder parses JSON text into a Value.
//
// In strict mode (the zero value) any malformed or truncated input yields a
// *SyntaxError. With Lenient set the decoder never fails: it tolerates missing
// separators, unknown escapes and truncation, returning whatever structure was
// parsed before the input ran out or stopped making sense.
type Decoder struct {
	Lenient bool
}

// Decode parses data according to the decoder's mode.
func (d Decoder) Decode(data []byte) (Value, error) {
	p := &parser{data: data, lenient: d.Lenient}
	p.skipSpace()
	v, err := p.value(0)
	if d.Lenient {
		return v, nil
	}
	if err != nil {
		return Null(), err
	}
	p.skipSpace()
	if p.pos < len(p.data) {
		return Null(), p.errorf("unexpected trailing data %q", p.data[p.pos])
	}
	return v, nil
}

// Decode parses data strictly.
func Decode(data []byte) (Value, error) {
	return Decoder{}.Decode(data)
}

// DecodeLenient parses data best-effort and never fails.
func DecodeLenient(data []byte) Value {
	v, _ := Decoder{Lenient: true}.Decode(data)
	return v
}

type parser struct {
	data    []byte
	pos     int
	lenient bool
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.data) {
		switch p.data[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) eof() bool { return p.pos >= len(p.data) }

func (p *parser) value(depth int) (Value, error) {
	if depth > maxDepth {
		return Null(), p.errorf("nesting deeper than %d", maxDepth)
	}
	p.skipSpace()
	if p.eof() {
		return Null(), p.errorf("unexpected end of input")
	}
	switch c := p.data[p.pos]; {
	case c == '{':
		return p.object(depth)
	case c == '[':
		return p.array(depth)
	case c == '"':
		s, err := p.str()
		if err != nil {
			return Null(), err
		}
		return String(s), nil
	case c == 't':
		return p.literal("true", Bool(true))
	case c == 'f':
		return p.literal("false", Bool(false))
	case c == 'n':
		return p.literal("null", Null())
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return Null(), p.errorf("unexpected character %q", c)
	}
}

func (p *parser) literal(word string, v Value) (Value, error) {
	end := p.pos + len(word)
	if end <= len(p.data) && string(p.data[p.pos:end]) == word {
		p.pos = end
		return v, nil
	}
	return Null(), p.errorf("invalid literal, expected %s", word)
}

// keep reports whether a child that failed to parse still carries content
// worth attaching to its lenient parent.
func keep(v Value) bool {
	switch v.Kind() {
	case KindArray, KindObject, KindString:
		return true
	default:
		return false
	}
}

func (p *parser) object(depth int) (Value, error) {
	obj := NewObject()
	out := ObjectValue(obj)
	p.pos++ // '{'
	for {
		p.skipSpace()
		if p.eof() {
			return out, p.errorf("unterminated object")
		}
		if p.data[p.pos] == '}' {
			p.pos++
			return out, nil
		}
		if p.data[p.pos] != '"' {
			return out, p.errorf("expected string key, found %q", p.data[p.pos])
		}
		key, err := p.str()
		if err != nil {
			return out, err
		}
		p.skipSpace()
		if !p.eof() && p.data[p.pos] == ':' {
			p.pos++
		} else if !p.lenient {
			return out, p.errorf("expected ':' after object key")
		}
		val, err := p.value(depth + 1)
		if err != nil {
			if keep(val) {
				obj.Set(key, val)
			}
			return out, err
		}
		obj.Set(key, val)

		p.skipSpace()
		if p.eof() {
			return out, p.errorf("unterminated object")
		}
		switch p.data[p.pos] {
		case ',':
			p.pos++
			p.skipSpace()
			if !p.eof() && p.data[p.pos] == '}' && !p.lenient {
				return out, p.errorf("trailing comma in object")
			}
		case '}':
		default:
			if !p.lenient {
				return out, p.errorf("expected ',' or '}' in object, found %q", p.data[p.pos])
			}
		}
	}
}

func (p *parser) array(depth int) (Value, error) {
	items := []Value{}
	p.pos++ // '['
	for {
		p.skipSpace()
		if p.eof() {
			return Array(items...), p.errorf("unterminated array")
		}
		if p.data[p.pos] == ']' {
			p.pos++
			return Array(items...), nil
		}
		val, err := p.value(depth + 1)
		if err != nil {
			if keep(val) {
				items = append(items, val)
			}
			return Array(items...), err
		}
		items = append(items, val)

		p.skipSpace()
		if p.eof() {
			return Array(items...), p.errorf("unterminated array")
		}
		switch p.data[p.pos] {
		case ',':
			p.pos++
			p.skipSpace()
			if !p.eof() && p.data[p.pos] == ']' && !p.lenient {
				return Array(items...), p.errorf("trailing comma in array")
			}
		case ']':
		default:
			if !p.lenient {
				return Array(items...), p.errorf("expected ',' or ']' in array, found %q", p.data[p.pos])
			}
		}
	}
}

// str reads a quoted string starting at the opening quote. In lenient mode an
// unterminated string yields the text read so far.
func (p *parser) str() (string, error) {
	p.pos++ // opening quote
	buf := make([]byte, 0, 16)
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch {
		case c == '"':
			p.pos++
			return string(buf), nil
		case c == '\\':
			var err error
			buf, err = p.escape(buf)
			if err != nil {
				return string(buf), err
			}
		case c < 0x20 && !p.lenient:
			return string(buf), p.errorf("control character %#x in string", c)
		case c >= utf8.RuneSelf:
			r, size := utf8.DecodeRune(p.data[p.pos:])
			if r == utf8.RuneError && size == 1 {
				buf = utf8.AppendRune(buf, utf8.RuneError)
			} else {
				buf = append(buf, p.data[p.pos:p.pos+size]...)
			}
			p.pos += size
		default:
			buf = append(buf, c)
			p.pos++
		}
	}
	if p.lenient {
		return string(buf), nil
	}
	return string(buf), p.errorf("unterminated string")
}

// escape decodes one backslash sequence at p.pos and appends it to buf.
func (p *parser) escape(buf []byte) ([]byte, error) {
	if p.pos+1 >= len(p.data) {
		p.pos++
		if p.lenient {
			return buf, nil
		}
		return buf, p.errorf("unterminated escape")
	}
	p.pos++
	c := p.data[p.pos]
	p.pos++
	switch c {
	case '"', '\\', '/':
		return append(buf, c), nil
	case 'n':
		return append(buf, '\n'), nil
	case 'r':
		return append(buf, '\r'), nil
	case 't':
		return append(buf, '\t'), nil
	case 'b':
		return append(buf, '\b'), nil
	case 'f':
		return append(buf, '\f'), nil
	case 'u':
		r, ok := p.hex4()
		if !ok {
			if p.lenient {
				// Fewer than four hex digits: the escape is dropped.
				return buf, nil
			}
			return buf, p.errorf("invalid \\u escape")
		}
		if utf16.IsSurrogate(r) {
			if lo, ok := p.lowSurrogate(); ok {
				r = utf16.DecodeRune(r, lo)
			} else {
				r = utf8.RuneError
			}
		}
		return utf8.AppendRune(buf, r), nil
	default:
		if p.lenient {
			return append(buf, c), nil
		}
		p.pos--
		return buf, p.errorf("invalid escape character %q", c)
	}
}

func (p *parser) hex4() (rune, bool) {
	if p.pos+4 > len(p.data) {
		return 0, false
	}
	n, err := strconv.ParseUint(string(p.data[p.pos:p.pos+4]), 16, 32)
	if err != nil {
		return 0, false
	}
	p.pos += 4
	return rune(n), true
}

// lowSurrogate consumes a following \uDC00-\uDFFF escape if one is present.
func (p *parser) lowSurrogate() (rune, bool) {
	if p.pos+6 > len(p.data) || p.data[p.pos] != '\\' || p.data[p.pos+1] != 'u' {
		return 0, false
	}
	save := p.pos
	p.pos += 2
	r, ok := p.hex4()
	if !ok || r < 0xDC00 || r > 0xDFFF {
		p.pos = save
		return 0, false
	}
	return r, true
}

func (p *parser) number() (Value, error) {
	start := p.pos
	if p.data[p.pos] == '-' {
		p.pos++
	}
	intStart := p.pos
	p.digits()
	if p.pos == intStart {
		return Null(), p.errorf("expected digit")
	}
	if !p.lenient && p.data[intStart] == '0' && p.pos-intStart > 1 {
		return Null(), &SyntaxError{Offset: intStart, Msg: "leading zero in number"}
	}
	isFloat := false
	if !p.eof() && p.data[p.pos] == '.' {
		isFloat = true
		p.pos++
		fracStart := p.pos
		p.digits()
		if p.pos == fracStart && !p.lenient {
			return Null(), p.errorf("expected digit after decimal point")
		}
	}
	if !p.eof() && (p.data[p.pos] == 'e' || p.data[p.pos] == 'E') {
		isFloat = true
		p.pos++
		if !p.eof() && (p.data[p.pos] == '+' || p.data[p.pos] == '-') {
			p.pos++
		}
		expStart := p.pos
		p.digits()
		if p.pos == expStart && !p.lenient {
			return Null(), p.errorf("expected digit in exponent")
		}
	}
	text := string(p.data[start:p.pos])
	if !isFloat {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(trimDanglingNumber(text), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		if p.lenient {
			return Float(0), nil
		}
		return Null(), &SyntaxError{Offset: start, Msg: fmt.Sprintf("invalid number %q", text)}
	}
	if math.IsInf(f, 0) && !p.lenient {
		return Null(), &SyntaxError{Offset: start, Msg: fmt.Sprintf("number %q out of range", text)}
	}
	return Float(f), nil
}

func (p *parser) digits() {
	for p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		p.pos++
	}
}

// trimDanglingNumber strips a trailing '.', 'e', or sign that lenient parsing let through.
func trimDanglingNumber(s string) string {
	for len(s) > 0 {
		switch s[len(s)-1] {
		case '.', 'e', 'E', '+', '-':
			s = s[:len(s)-1]
			continue
		}
		break
	}
	if s == "" {
		return "0"
	}
	return s
}
