package orm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/kernelci/kcidb/internal/schema"
)

// Pattern is one fragment of a chain.
type Pattern struct {
	Type *schema.Type

	// IDs is the explicit id selector. Nil means wildcard.
	IDs []string

	Parents  bool
	Children bool
}

// Chain is a sequence of fragments joined by "#".
type Chain []Pattern

// Query is a set of chains plus optional per-type fetch limits.
type Query struct {
	Chains []Chain

	// Limits caps the objects fetched per hop for a type. Zero or absent
	// means unlimited.
	Limits map[*schema.Type]int
}

// String renders the pattern in canonical form.
func (p Pattern) String() string {
	var b strings.Builder
	b.WriteString(p.Type.Name)
	if p.IDs != nil {
		b.WriteByte('[')
		for i, id := range p.IDs {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quoteID(id))
		}
		b.WriteByte(']')
	}
	if p.Parents {
		b.WriteByte('<')
	}
	if p.Children {
		b.WriteByte('>')
	}
	return b.String()
}

// String renders the chain in canonical form.
func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, p := range c {
		parts[i] = p.String()
	}
	return strings.Join(parts, "#")
}

func quoteID(id string) string {
	if id != "" && !strings.ContainsFunc(id, isSpecial) {
		return id
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(id) + `"`
}

func isSpecial(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(`,[]"#<>%`, r)
}

// Parse parses one chain.
func Parse(pattern string) (Chain, error) {
	p := &parser{src: pattern}
	return p.chain()
}

// ParseQuery parses every pattern into a Query with no limits.
func ParseQuery(patterns ...string) (Query, error) {
	q := Query{Chains: make([]Chain, 0, len(patterns))}
	for _, s := range patterns {
		c, err := Parse(s)
		if err != nil {
			return Query{}, err
		}
		q.Chains = append(q.Chains, c)
	}
	return q, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) chain() (Chain, error) {
	var c Chain
	for {
		frag, err := p.fragment()
		if err != nil {
			return nil, err
		}
		c = append(c, frag)

		p.skipSpace()
		if p.eof() {
			return c, nil
		}
		if p.peek() != '#' {
			return nil, p.errorf("unexpected character")
		}
		if !frag.Parents && !frag.Children {
			return nil, p.errorf("continuation without traversal marker")
		}
		p.pos++
	}
}

func (p *parser) fragment() (Pattern, error) {
	p.skipSpace()
	start := p.pos
	for !p.eof() && (isLower(p.peek()) || p.peek() == '_') {
		p.pos++
	}
	name := p.src[start:p.pos]
	if name == "" {
		return Pattern{}, p.errorf("expected object type")
	}
	t, ok := schema.LookupType(name)
	if !ok {
		return Pattern{}, &UnknownTypeError{Pattern: p.src, Name: name, Pos: start}
	}
	frag := Pattern{Type: t}

	p.skipSpace()
	switch {
	case p.eof():
		return frag, nil
	case p.peek() == '%':
		p.pos++
	case p.peek() == '[':
		p.pos++
		ids, err := p.idList()
		if err != nil {
			return Pattern{}, err
		}
		frag.IDs = ids
	}

	for {
		p.skipSpace()
		if p.eof() {
			return frag, nil
		}
		switch p.peek() {
		case '<':
			if frag.Parents {
				return Pattern{}, p.errorf("duplicate parent marker")
			}
			frag.Parents = true
		case '>':
			if frag.Children {
				return Pattern{}, p.errorf("duplicate child marker")
			}
			frag.Children = true
		default:
			return frag, nil
		}
		p.pos++
	}
}

func (p *parser) idList() ([]string, error) {
	ids := []string{}
	for {
		p.skipSpace()
		id, err := p.id()
		if err != nil {
			return nil, err
		}
		ids = append(ids, norm.NFC.String(id))

		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated id list")
		}
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return ids, nil
		default:
			return nil, p.errorf("expected ',' or ']'")
		}
	}
}

func (p *parser) id() (string, error) {
	if p.eof() {
		return "", p.errorf("expected id")
	}
	if p.peek() != '"' {
		start := p.pos
		for !p.eof() {
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			if isSpecial(r) {
				break
			}
			p.pos += size
		}
		if p.pos == start {
			return "", p.errorf("expected id")
		}
		return p.src[start:p.pos], nil
	}

	start := p.pos
	p.pos++
	var b strings.Builder
	for !p.eof() {
		c := p.peek()
		switch c {
		case '"':
			p.pos++
			return b.String(), nil
		case '\\':
			if p.pos+1 >= len(p.src) || (p.src[p.pos+1] != '"' && p.src[p.pos+1] != '\\') {
				return "", p.errorf("invalid escape")
			}
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	p.pos = start
	return "", p.errorf("unterminated quoted id")
}

func (p *parser) skipSpace() {
	for !p.eof() {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		p.pos += size
	}
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	return p.src[p.pos]
}

func (p *parser) errorf(msg string) *SyntaxError {
	near := p.src[p.pos:]
	if len(near) > 16 {
		near = near[:16]
	}
	return &SyntaxError{Pattern: p.src, Pos: p.pos, Near: near, Msg: msg}
}

func isLower(c byte) bool {
	return c >= 'a' && c <= 'z'
}
