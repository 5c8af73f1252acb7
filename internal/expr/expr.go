package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Env resolves an identifier to its value. The second return reports
// whether the name exists; unknown names make evaluation fail.
type Env func(name string) (any, bool)

// ErrUnknownIdentifier is wrapped into evaluation errors caused by a
// name the environment cannot resolve.
var ErrUnknownIdentifier = errors.New("expr: unknown identifier")

// ErrDivisionByZero is wrapped into evaluation errors for a zero
// divisor or modulus.
var ErrDivisionByZero = errors.New("expr: division by zero")

// Eval parses and evaluates one expression against env. Supported
// forms are numeric arithmetic (+ - * / %), comparisons
// (== != < <= > >=), boolean negation and connectives (! && ||), the
// C-style conditional (cond ? a : b), parentheses, single- or
// double-quoted string literals, numeric literals, the keywords true
// and false, and identifiers looked up through env.
//
// The result is a float64, string or bool. There is no function call,
// indexing, assignment or attribute access: the grammar above is the
// whole language.
func Eval(input string, env Env) (any, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, fmt.Errorf("expr %q: %w", input, err)
	}
	p := &parser{toks: toks}
	node, err := p.parseExpr(0)
	if err != nil {
		return nil, fmt.Errorf("expr %q: %w", input, err)
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("expr %q: unexpected %q", input, p.peek().text)
	}
	v, err := node.eval(env)
	if err != nil {
		return nil, fmt.Errorf("expr %q: %w", input, err)
	}
	return v, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
)

type token struct {
	kind tokenKind
	text string
}

func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c >= '0' && c <= '9' || c == '.' && i+1 < len(input) && input[i+1] >= '0' && input[i+1] <= '9':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, input[i:j]})
			i = j
		case c == '\'' || c == '"':
			j := i + 1
			for j < len(input) && input[j] != c {
				j++
			}
			if j >= len(input) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{tokString, input[i+1 : j]})
			i = j + 1
		case isIdentStart(rune(c)):
			j := i
			for j < len(input) && isIdentPart(rune(input[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, input[i:j]})
			i = j
		default:
			two := ""
			if i+1 < len(input) {
				two = input[i : i+2]
			}
			switch two {
			case "==", "!=", "<=", ">=", "&&", "||":
				toks = append(toks, token{tokOp, two})
				i += 2
				continue
			}
			switch c {
			case '+', '-', '*', '/', '%', '(', ')', '<', '>', '!', '?', ':':
				toks = append(toks, token{tokOp, string(c)})
				i++
			default:
				return nil, fmt.Errorf("unexpected character %q", string(c))
			}
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

type node interface {
	eval(env Env) (any, error)
}

type literal struct{ value any }

func (n literal) eval(Env) (any, error) { return n.value, nil }

type ident struct{ name string }

func (n ident) eval(env Env) (any, error) {
	if env != nil {
		if v, ok := env(n.name); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownIdentifier, n.name)
}

type unary struct {
	op      string
	operand node
}

func (n unary) eval(env Env) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "-":
		f, err := toNumber(v)
		if err != nil {
			return nil, err
		}
		return -f, nil
	case "!":
		return !truthy(v), nil
	}
	return nil, fmt.Errorf("unsupported unary operator %q", n.op)
}

type binary struct {
	op          string
	left, right node
}

func (n binary) eval(env Env) (any, error) {
	// Connectives short-circuit so the right side of a guard like
	// "defined && defined > 2" is never evaluated when the left fails.
	switch n.op {
	case "&&":
		l, err := n.left.eval(env)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case "||":
		l, err := n.left.eval(env)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	l, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	}

	if n.op == "+" {
		ls, lok := l.(string)
		rs, rok := r.(string)
		if lok && rok {
			return ls + rs, nil
		}
	}

	lf, err := toNumber(l)
	if err != nil {
		return nil, err
	}
	rf, err := toNumber(r)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, ErrDivisionByZero
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, ErrDivisionByZero
		}
		return float64(int64(lf) % int64(rf)), nil
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, fmt.Errorf("unsupported operator %q", n.op)
}

type conditional struct {
	cond, then, els node
}

func (n conditional) eval(env Env) (any, error) {
	c, err := n.cond.eval(env)
	if err != nil {
		return nil, err
	}
	if truthy(c) {
		return n.then.eval(env)
	}
	return n.els.eval(env)
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// Binding powers, loosest first. The conditional sits below the
// connectives so "a > 1 ? x : y" parses the comparison as the
// condition.
func bindingPower(op string) int {
	switch op {
	case "?":
		return 1
	case "||":
		return 2
	case "&&":
		return 3
	case "==", "!=":
		return 4
	case "<", "<=", ">", ">=":
		return 5
	case "+", "-":
		return 6
	case "*", "/", "%":
		return 7
	}
	return 0
}

func (p *parser) parseExpr(minBP int) (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		t := p.peek()
		if t.kind != tokOp {
			break
		}
		bp := bindingPower(t.text)
		if bp == 0 || bp < minBP {
			break
		}
		p.next()

		if t.text == "?" {
			then, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if colon := p.next(); colon.kind != tokOp || colon.text != ":" {
				return nil, fmt.Errorf("expected ':' in conditional, got %q", colon.text)
			}
			// Right-associative: the else branch absorbs the rest.
			els, err := p.parseExpr(bp)
			if err != nil {
				return nil, err
			}
			left = conditional{cond: left, then: then, els: els}
			continue
		}

		right, err := p.parseExpr(bp + 1)
		if err != nil {
			return nil, err
		}
		left = binary{op: t.text, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return literal{f}, nil
	case tokString:
		return literal{t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literal{true}, nil
		case "false":
			return literal{false}, nil
		}
		return ident{t.text}, nil
	case tokOp:
		switch t.text {
		case "(":
			inner, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if close := p.next(); close.kind != tokOp || close.text != ")" {
				return nil, fmt.Errorf("expected ')', got %q", close.text)
			}
			return inner, nil
		case "-", "!":
			operand, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return unary{op: t.text, operand: operand}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

// toNumber coerces a value into a float64 for arithmetic. Numeric
// strings coerce so definitions read from text documents still
// compute; anything else is an error.
func toNumber(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", val)
		}
		return f, nil
	}
	return 0, fmt.Errorf("value %v is not numeric", v)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case nil:
		return false
	}
	return true
}

// equal compares two values, numerically when both sides coerce to
// numbers so "9" == 9 holds across document syntaxes.
func equal(l, r any) bool {
	lf, lerr := toNumber(l)
	rf, rerr := toNumber(r)
	if lerr == nil && rerr == nil {
		return lf == rf
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		return ls == rs
	}
	return l == r
}
