package engine

import (
	"bytes"
	"fmt"
	"strconv"
)

// Name is a PDF name operand without the leading slash.
type Name string

// Operation is a single content stream operator and its operands. Operands
// are float64, bool, nil, Name, []byte (strings), []any or map[string]any.
type Operation struct {
	Operator string
	Operands []any
}

type lexer struct {
	data []byte
	pos  int
}

// ParseContent splits a content stream into operations. Inline image data is
// skipped and reported as a single BI operation.
func ParseContent(data []byte) ([]Operation, error) {
	lx := &lexer{data: data}
	var ops []Operation
	var operands []any
	for {
		lx.skipSpace()
		if lx.pos >= len(lx.data) {
			break
		}
		obj, kw, err := lx.next()
		if err != nil {
			return ops, err
		}
		if kw == "" {
			operands = append(operands, obj)
			continue
		}
		switch kw {
		case "true":
			operands = append(operands, true)
			continue
		case "false":
			operands = append(operands, false)
			continue
		case "null":
			operands = append(operands, nil)
			continue
		case "BI":
			lx.skipInlineImage()
		}
		ops = append(ops, Operation{Operator: kw, Operands: operands})
		operands = nil
	}
	return ops, nil
}

func isSpace(b byte) bool {
	switch b {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelim(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (lx *lexer) skipSpace() {
	for lx.pos < len(lx.data) {
		b := lx.data[lx.pos]
		if b == '%' {
			for lx.pos < len(lx.data) && lx.data[lx.pos] != '\n' && lx.data[lx.pos] != '\r' {
				lx.pos++
			}
			continue
		}
		if !isSpace(b) {
			return
		}
		lx.pos++
	}
}

// next reads one object. A non-empty kw means a bare keyword was read.
func (lx *lexer) next() (obj any, kw string, err error) {
	b := lx.data[lx.pos]
	switch {
	case b == '/':
		return lx.name(), "", nil
	case b == '(':
		s, err := lx.literal()
		return s, "", err
	case b == '<':
		if lx.peek(1) == '<' {
			d, err := lx.dict()
			return d, "", err
		}
		h, err := lx.hex()
		return h, "", err
	case b == '[':
		a, err := lx.array()
		return a, "", err
	case b == '+' || b == '-' || b == '.' || (b >= '0' && b <= '9'):
		return lx.number(), "", nil
	case b == ']' || b == '>' || b == ')' || b == '{' || b == '}':
		lx.pos++
		return nil, "", fmt.Errorf("unexpected %q at offset %d", b, lx.pos-1)
	}
	start := lx.pos
	for lx.pos < len(lx.data) && !isSpace(lx.data[lx.pos]) && !isDelim(lx.data[lx.pos]) {
		lx.pos++
	}
	return nil, string(lx.data[start:lx.pos]), nil
}

func (lx *lexer) peek(off int) byte {
	if lx.pos+off < len(lx.data) {
		return lx.data[lx.pos+off]
	}
	return 0
}

func (lx *lexer) name() Name {
	lx.pos++
	var buf bytes.Buffer
	for lx.pos < len(lx.data) {
		b := lx.data[lx.pos]
		if isSpace(b) || isDelim(b) {
			break
		}
		if b == '#' && lx.pos+2 < len(lx.data) {
			if v, err := strconv.ParseUint(string(lx.data[lx.pos+1:lx.pos+3]), 16, 8); err == nil {
				buf.WriteByte(byte(v))
				lx.pos += 3
				continue
			}
		}
		buf.WriteByte(b)
		lx.pos++
	}
	return Name(buf.String())
}

func (lx *lexer) number() float64 {
	start := lx.pos
	lx.pos++
	for lx.pos < len(lx.data) {
		b := lx.data[lx.pos]
		if (b >= '0' && b <= '9') || b == '.' {
			lx.pos++
			continue
		}
		break
	}
	v, err := strconv.ParseFloat(string(lx.data[start:lx.pos]), 64)
	if err != nil {
		return 0
	}
	return v
}

func (lx *lexer) literal() ([]byte, error) {
	lx.pos++
	depth := 1
	var buf bytes.Buffer
	for lx.pos < len(lx.data) {
		b := lx.data[lx.pos]
		lx.pos++
		switch b {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return buf.Bytes(), nil
			}
		case '\\':
			if lx.pos >= len(lx.data) {
				continue
			}
			e := lx.data[lx.pos]
			lx.pos++
			switch e {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if lx.peek(0) == '\n' {
					lx.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && lx.pos < len(lx.data); i++ {
						d := lx.data[lx.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						lx.pos++
					}
					buf.WriteByte(byte(v))
					continue
				}
				buf.WriteByte(e)
			}
			continue
		}
		buf.WriteByte(b)
	}
	return nil, fmt.Errorf("unterminated string")
}

func (lx *lexer) hex() ([]byte, error) {
	lx.pos++
	var digits []byte
	for lx.pos < len(lx.data) {
		b := lx.data[lx.pos]
		lx.pos++
		if b == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			out := make([]byte, len(digits)/2)
			for i := range out {
				v, err := strconv.ParseUint(string(digits[2*i:2*i+2]), 16, 8)
				if err != nil {
					return nil, fmt.Errorf("bad hex string: %w", err)
				}
				out[i] = byte(v)
			}
			return out, nil
		}
		if !isSpace(b) {
			digits = append(digits, b)
		}
	}
	return nil, fmt.Errorf("unterminated hex string")
}

func (lx *lexer) array() ([]any, error) {
	lx.pos++
	out := []any{}
	for {
		lx.skipSpace()
		if lx.pos >= len(lx.data) {
			return nil, fmt.Errorf("unterminated array")
		}
		if lx.data[lx.pos] == ']' {
			lx.pos++
			return out, nil
		}
		obj, kw, err := lx.next()
		if err != nil {
			return nil, err
		}
		if kw != "" {
			obj = keywordValue(kw)
		}
		out = append(out, obj)
	}
}

func (lx *lexer) dict() (map[string]any, error) {
	lx.pos += 2
	out := map[string]any{}
	for {
		lx.skipSpace()
		if lx.pos >= len(lx.data) {
			return nil, fmt.Errorf("unterminated dictionary")
		}
		if lx.data[lx.pos] == '>' && lx.peek(1) == '>' {
			lx.pos += 2
			return out, nil
		}
		if lx.data[lx.pos] != '/' {
			return nil, fmt.Errorf("dictionary key expected at offset %d", lx.pos)
		}
		key := lx.name()
		lx.skipSpace()
		if lx.pos >= len(lx.data) {
			return nil, fmt.Errorf("unterminated dictionary")
		}
		val, kw, err := lx.next()
		if err != nil {
			return nil, err
		}
		if kw != "" {
			val = keywordValue(kw)
		}
		out[string(key)] = val
	}
}

func keywordValue(kw string) any {
	switch kw {
	case "true":
		return true
	case "false":
		return false
	}
	return nil
}

// skipInlineImage moves past "... ID <data> EI".
func (lx *lexer) skipInlineImage() {
	idx := bytes.Index(lx.data[lx.pos:], []byte("ID"))
	if idx < 0 {
		lx.pos = len(lx.data)
		return
	}
	lx.pos += idx + 2
	for lx.pos < len(lx.data) {
		i := bytes.Index(lx.data[lx.pos:], []byte("EI"))
		if i < 0 {
			lx.pos = len(lx.data)
			return
		}
		at := lx.pos + i
		before := at == 0 || isSpace(lx.data[at-1])
		after := at+2 >= len(lx.data) || isSpace(lx.data[at+2])
		lx.pos = at + 2
		if before && after {
			return
		}
	}
}
