package fez

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type parser struct {
	input []rune
	pos   int
}

// Read parses exactly one expression.
func Read(input string) (Value, error) {
	p := &parser{input: []rune(input), pos: 0}
	p.skipWhitespace()
	if p.pos >= len(p.input) {
		return Value{}, fmt.Errorf("empty input")
	}
	v, err := p.parseValue()
	if err != nil {
		return Value{}, err
	}
	p.skipWhitespace()
	if p.pos < len(p.input) {
		return Value{}, fmt.Errorf("unexpected input after expression at position %d", p.pos)
	}
	return v, nil
}

// ReadAll parses every top-level expression in input.
func ReadAll(input string) ([]Value, error) {
	p := &parser{input: []rune(input), pos: 0}
	var out []Value
	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			return out, nil
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

// Balanced reports whether input has no unclosed lists or strings.
// The REPL uses it to decide when to ask for a continuation line.
func Balanced(input string) bool {
	depth := 0
	inString := false
	inComment := false
	escaped := false
	for _, ch := range input {
		switch {
		case inComment:
			if ch == '\n' {
				inComment = false
			}
		case inString:
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
		case ch == ';':
			inComment = true
		case ch == '"':
			inString = true
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		}
	}
	return depth <= 0 && !inString
}

func (p *parser) parseValue() (Value, error) {
	if p.pos >= len(p.input) {
		return Value{}, fmt.Errorf("unexpected end of input")
	}
	ch := p.input[p.pos]
	switch {
	case ch == '\'':
		return p.parseQuote()
	case ch == '(':
		p.pos++ // skip '('
		return p.parseListTail()
	case ch == ')':
		return Value{}, fmt.Errorf("unexpected ')' at position %d", p.pos)
	case ch == '"':
		return p.parseString()
	case ch == '#' && p.pos+1 < len(p.input) && p.input[p.pos+1] == '(':
		return p.parseVector()
	default:
		return p.parseAtom()
	}
}

func (p *parser) parseQuote() (Value, error) {
	p.pos++ // skip '\''
	p.skipWhitespace()
	inner, err := p.parseValue()
	if err != nil {
		return Value{}, err
	}
	return List(Sym("quote"), inner), nil
}

// parseListTail reads elements up to the closing ')', handling a dotted tail.
func (p *parser) parseListTail() (Value, error) {
	var elems []Value
	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			return Value{}, fmt.Errorf("unclosed list")
		}
		if p.input[p.pos] == ')' {
			p.pos++ // skip ')'
			return List(elems...), nil
		}
		if p.atDot() {
			if len(elems) == 0 {
				return Value{}, fmt.Errorf("unexpected '.' at position %d", p.pos)
			}
			p.pos++ // skip '.'
			p.skipWhitespace()
			tail, err := p.parseValue()
			if err != nil {
				return Value{}, err
			}
			p.skipWhitespace()
			if p.pos >= len(p.input) || p.input[p.pos] != ')' {
				return Value{}, fmt.Errorf("expected ')' after dotted tail")
			}
			p.pos++ // skip ')'
			return ListWithTail(elems, tail), nil
		}
		v, err := p.parseValue()
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
	}
}

func (p *parser) atDot() bool {
	if p.input[p.pos] != '.' {
		return false
	}
	return p.pos+1 >= len(p.input) || isDelimiter(p.input[p.pos+1])
}

func (p *parser) parseVector() (Value, error) {
	p.pos += 2 // skip '#('
	var elems []Value
	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			return Value{}, fmt.Errorf("unclosed vector")
		}
		if p.input[p.pos] == ')' {
			p.pos++
			return VectorVal(elems), nil
		}
		v, err := p.parseValue()
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
	}
}

func (p *parser) parseString() (Value, error) {
	p.pos++ // skip opening '"'
	var buf strings.Builder
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if ch == '\\' {
			p.pos++
			if p.pos >= len(p.input) {
				return Value{}, fmt.Errorf("unexpected end of input in string escape")
			}
			esc := p.input[p.pos]
			switch esc {
			case 'n':
				buf.WriteRune('\n')
			case 't':
				buf.WriteRune('\t')
			case '\\':
				buf.WriteRune('\\')
			case '"':
				buf.WriteRune('"')
			default:
				return Value{}, fmt.Errorf("unknown escape sequence: \\%c", esc)
			}
			p.pos++
			continue
		}
		if ch == '"' {
			p.pos++ // skip closing '"'
			return StringVal(buf.String()), nil
		}
		buf.WriteRune(ch)
		p.pos++
	}
	return Value{}, fmt.Errorf("unclosed string")
}

func (p *parser) parseAtom() (Value, error) {
	start := p.pos
	for p.pos < len(p.input) && !isDelimiter(p.input[p.pos]) {
		p.pos++
	}
	token := string(p.input[start:p.pos])
	if token == "" {
		return Value{}, fmt.Errorf("unexpected character: %c", p.input[start])
	}

	switch token {
	case "#t", "#true":
		return True, nil
	case "#f", "#false":
		return False, nil
	}
	if token[0] == '#' {
		return Value{}, fmt.Errorf("unknown syntax: %s", token)
	}

	if i, err := strconv.ParseInt(token, 10, 64); err == nil {
		return IntVal(i), nil
	}

	if looksNumeric(token) {
		if f, err := strconv.ParseFloat(token, 64); err == nil {
			return FloatVal(f), nil
		}
	}

	return Sym(token), nil
}

// looksNumeric keeps symbols like "inf" and "nan" from parsing as floats.
func looksNumeric(token string) bool {
	for _, r := range token {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func (p *parser) skipWhitespace() {
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if ch == ';' {
			for p.pos < len(p.input) && p.input[p.pos] != '\n' {
				p.pos++
			}
			continue
		}
		if !unicode.IsSpace(ch) {
			break
		}
		p.pos++
	}
}

func isDelimiter(ch rune) bool {
	return unicode.IsSpace(ch) || ch == '(' || ch == ')' || ch == '"' || ch == ';' || ch == '\''
}
