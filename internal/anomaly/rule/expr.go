// Package rule compiles operator-defined anomaly rules. A rule is a boolean
// expression over snapshot fields, for example
//
//	heart_rate > 140 AND NOT (activity == "exercise")
package rule

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// -----------------------------------------------------------------------
// AST
// -----------------------------------------------------------------------

// Expr is a node of a compiled rule expression.
type Expr interface {
	exprNode()
}

// Logical is AND or OR.
type Logical struct {
	Op          string
	Left, Right Expr
}

// Not negates its operand.
type Not struct {
	X Expr
}

// Comparison is <operand> <op> <operand>.
type Comparison struct {
	Left  Operand
	Op    Operator
	Right Operand
}

func (*Logical) exprNode()    {}
func (*Not) exprNode()        {}
func (*Comparison) exprNode() {}

// Operand is a literal or a field path.
type Operand interface {
	operandNode()
}

// Literal is a constant parsed at compile time.
type Literal struct {
	Value any
}

// Field is a dotted path into the snapshot fields.
type Field struct {
	Path []string
}

func (*Literal) operandNode() {}
func (*Field) operandNode()   {}

// -----------------------------------------------------------------------
// Lexer
// -----------------------------------------------------------------------

type tokKind int

const (
	tIdent tokKind = iota
	tOp
	tString
	tNumber
	tBool
	tLParen
	tRParen
	tEOF
)

type tok struct {
	kind tokKind
	text string
	pos  int
}

func lex(src string) ([]tok, error) {
	var out []tok
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '(':
			out = append(out, tok{tLParen, "(", i})
			i++
		case c == ')':
			out = append(out, tok{tRParen, ")", i})
			i++
		case strings.IndexByte("=!<>", c) >= 0:
			start := i
			i++
			if i < len(src) && src[i] == '=' {
				i++
			}
			op := src[start:i]
			if op == "=" || op == "!" {
				return nil, fmt.Errorf("unknown operator %q at position %d", op, start)
			}
			out = append(out, tok{tOp, op, start})
		case c == '"' || c == '\'':
			start := i
			var sb strings.Builder
			i++
			for i < len(src) && src[i] != c {
				if src[i] == '\\' && i+1 < len(src) {
					i++
				}
				sb.WriteByte(src[i])
				i++
			}
			if i >= len(src) {
				return nil, fmt.Errorf("unterminated string at position %d", start)
			}
			i++
			out = append(out, tok{tString, sb.String(), start})
		case unicode.IsDigit(rune(c)) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			start := i
			i++
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			out = append(out, tok{tNumber, src[start:i], start})
		case unicode.IsLetter(rune(c)) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i])) || src[i] == '_' || src[i] == '.') {
				i++
			}
			word := src[start:i]
			if w := strings.ToLower(word); w == "true" || w == "false" {
				out = append(out, tok{tBool, w, start})
			} else {
				out = append(out, tok{tIdent, word, start})
			}
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	return append(out, tok{tEOF, "", len(src)}), nil
}

// -----------------------------------------------------------------------
// Parser
// -----------------------------------------------------------------------

type parser struct {
	toks []tok
	pos  int
}

func (p *parser) peek() tok { return p.toks[p.pos] }

func (p *parser) next() tok {
	t := p.toks[p.pos]
	if t.kind != tEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tIdent && strings.EqualFold(t.text, kw)
}

// Parse compiles src into an expression tree.
func Parse(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
	return e, nil
}

// or = and { "OR" and }
func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

// and = unary { "AND" unary }
func (p *parser) and() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

// unary = "NOT" unary | "(" or ")" | comparison
func (p *parser) unary() (Expr, error) {
	switch {
	case p.keyword("NOT"):
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Not{X: x}, nil
	case p.peek().kind == tLParen:
		p.next()
		x, err := p.or()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tRParen {
			return nil, fmt.Errorf("expected ) at position %d, got %q", t.pos, t.text)
		}
		return x, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Expr, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	t := p.next()
	var op Operator
	switch {
	case t.kind == tOp:
		op = Operator(t.text)
	case t.kind == tIdent && strings.EqualFold(t.text, "contains"):
		op = OpContains
	default:
		return nil, fmt.Errorf("expected comparison operator at position %d, got %q", t.pos, t.text)
	}
	right, err := p.operand()
	if err != nil {
		return nil, err
	}
	return &Comparison{Left: left, Op: op, Right: right}, nil
}

func (p *parser) operand() (Operand, error) {
	t := p.next()
	switch t.kind {
	case tString:
		return &Literal{Value: t.text}, nil
	case tNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.text, t.pos)
		}
		return &Literal{Value: f}, nil
	case tBool:
		return &Literal{Value: t.text == "true"}, nil
	case tIdent:
		return &Field{Path: strings.Split(t.text, ".")}, nil
	}
	return nil, fmt.Errorf("expected operand at position %d, got %q", t.pos, t.text)
}
