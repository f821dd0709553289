package grader

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"unicode"
)

var (
	odsRefPattern  = regexp.MustCompile(`\[([^\]]*)\]`)
	cellRefPattern = regexp.MustCompile(`^([A-Za-z0-9_]+!)?[A-Za-z]{1,3}[0-9]+$`)
)

// maxExponent bounds integer powers expanded symbolically.
const maxExponent = 16

// normalizeFormula strips the formula marker and rewrites OpenDocument
// references ([.B2], [Sheet1.B2:.B9]) and absolute markers into plain A1
// references (B2, Sheet1!B2:B9). Argument separators become commas.
func normalizeFormula(f string) string {
	f = strings.TrimSpace(f)
	if len(f) >= 3 && strings.EqualFold(f[:3], "of:") {
		f = f[3:]
	}
	f = strings.TrimLeft(f, "= ")

	f = odsRefPattern.ReplaceAllStringFunc(f, func(m string) string {
		parts := strings.Split(m[1:len(m)-1], ":")
		for i, p := range parts {
			p = strings.Trim(p, "'")
			if strings.HasPrefix(p, ".") {
				p = p[1:]
			} else if dot := strings.LastIndex(p, "."); dot > 0 {
				p = strings.Trim(p[:dot], "'$") + "!" + p[dot+1:]
			}
			parts[i] = p
		}
		return strings.Join(parts, ":")
	})

	f = strings.ReplaceAll(f, "$", "")
	return strings.ReplaceAll(f, ";", ",")
}

// formulaText is the string form used when symbolic comparison is not
// possible: no whitespace, no "=", upper case.
func formulaText(f string) string {
	f = normalizeFormula(f)
	f = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '=' {
			return -1
		}
		return r
	}, f)
	return strings.ToUpper(f)
}

// FormulasMatch reports whether two formulas are equivalent: symbolically
// when both parse as arithmetic over cell references, otherwise by their
// normalized text.
func FormulasMatch(a, b string) bool {
	if equal, err := SymbolicEqual(a, b); err == nil {
		return equal
	}
	return formulaText(a) == formulaText(b)
}

// SymbolicEqual parses both formulas as rational functions of their cell
// references and reports whether their difference is identically zero.
// Functions and ranges are treated as opaque symbols.
func SymbolicEqual(a, b string) (bool, error) {
	ea, err := parseFormula(a)
	if err != nil {
		return false, err
	}
	eb, err := parseFormula(b)
	if err != nil {
		return false, err
	}
	return ea.equal(eb)
}

func parseFormula(f string) (ratFunc, error) {
	src := normalizeFormula(f)
	toks, err := tokenize(src)
	if err != nil {
		return ratFunc{}, err
	}
	p := &parser{src: src, toks: toks}
	expr, err := p.expr()
	if err != nil {
		return ratFunc{}, err
	}
	if p.peek().kind != tokEOF {
		return ratFunc{}, fmt.Errorf("unexpected %q at %d", p.peek().text, p.peek().pos)
	}
	return expr, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokRef
	tokName
	tokFunc
	tokString
	tokOp
)

type token struct {
	kind tokKind
	text string
	pos  int
	end  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	// Positions are rune offsets into src.
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			if i < len(rs) && (rs[i] == 'e' || rs[i] == 'E') {
				j := i + 1
				if j < len(rs) && (rs[j] == '+' || rs[j] == '-') {
					j++
				}
				if j < len(rs) && unicode.IsDigit(rs[j]) {
					for j < len(rs) && unicode.IsDigit(rs[j]) {
						j++
					}
					i = j
				}
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[start:i]), pos: start, end: i})

		case unicode.IsLetter(r) || r == '_' || r == '\'':
			start := i
			var name string
			if r == '\'' {
				j := i + 1
				for j < len(rs) && rs[j] != '\'' {
					j++
				}
				if j >= len(rs) {
					return nil, errors.New("unterminated sheet name")
				}
				name = string(rs[i+1 : j])
				i = j + 1
			} else {
				for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_' || rs[i] == '.') {
					i++
				}
				name = string(rs[start:i])
			}

			if i < len(rs) && rs[i] == '!' {
				j := i + 1
				for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j])) {
					j++
				}
				name = strings.ReplaceAll(name, " ", "_") + "!" + string(rs[i+1:j])
				i = j
			}

			if i < len(rs) && rs[i] == '(' {
				toks = append(toks, token{kind: tokFunc, text: strings.ToUpper(name), pos: start, end: i})
				continue
			}

			kind := tokName
			if cellRefPattern.MatchString(name) {
				kind = tokRef
				if i+1 < len(rs) && rs[i] == ':' {
					j := i + 1
					for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '!' || rs[j] == '_') {
						j++
					}
					name += ":" + string(rs[i+1:j])
					i = j
				}
			}
			toks = append(toks, token{kind: kind, text: strings.ToLower(name), pos: start, end: i})

		case r == '"':
			start := i
			i++
			for i < len(rs) && rs[i] != '"' {
				i++
			}
			if i >= len(rs) {
				return nil, errors.New("unterminated string literal")
			}
			i++
			toks = append(toks, token{kind: tokString, text: string(rs[start:i]), pos: start, end: i})

		case strings.ContainsRune("+-*/^(),%", r):
			toks = append(toks, token{kind: tokOp, text: string(r), pos: i, end: i + 1})
			i++

		default:
			return nil, fmt.Errorf("unsupported character %q", r)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs), end: len(rs)}), nil
}

// parser evaluates the token stream directly into a rational function.
//
//	expr   = term {("+"|"-") term}
//	term   = factor {("*"|"/") factor}
//	factor = signed {"^" signed}
//	signed = ("+"|"-") signed | postfix
//	postfix = primary {"%"}
type parser struct {
	src  string
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) isOp(op string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == op
}

func (p *parser) expect(op string) error {
	if !p.isOp(op) {
		return fmt.Errorf("expected %q at %d", op, p.peek().pos)
	}
	p.next()
	return nil
}

func (p *parser) expr() (ratFunc, error) {
	left, err := p.term()
	if err != nil {
		return ratFunc{}, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.next().text
		right, err := p.term()
		if err != nil {
			return ratFunc{}, err
		}
		if op == "+" {
			left, err = left.add(right)
		} else {
			left, err = left.sub(right)
		}
		if err != nil {
			return ratFunc{}, err
		}
	}
	return left, nil
}

func (p *parser) term() (ratFunc, error) {
	left, err := p.factor()
	if err != nil {
		return ratFunc{}, err
	}
	for p.isOp("*") || p.isOp("/") {
		op := p.next().text
		right, err := p.factor()
		if err != nil {
			return ratFunc{}, err
		}
		if op == "*" {
			left, err = left.mul(right)
		} else {
			left, err = left.div(right)
		}
		if err != nil {
			return ratFunc{}, err
		}
	}
	return left, nil
}

func (p *parser) factor() (ratFunc, error) {
	base, err := p.signed()
	if err != nil {
		return ratFunc{}, err
	}
	for p.isOp("^") {
		p.next()
		exp, err := p.signed()
		if err != nil {
			return ratFunc{}, err
		}
		n, err := integerExponent(exp)
		if err != nil {
			return ratFunc{}, err
		}
		if base, err = base.pow(n); err != nil {
			return ratFunc{}, err
		}
	}
	return base, nil
}

func integerExponent(exp ratFunc) (int, error) {
	v, ok := exp.constant()
	if !ok || !v.IsInt() {
		return 0, errors.New("exponent is not an integer constant")
	}
	if !v.Num().IsInt64() {
		return 0, errTooComplex
	}
	n := v.Num().Int64()
	if n > maxExponent || n < -maxExponent {
		return 0, errTooComplex
	}
	return int(n), nil
}

func (p *parser) signed() (ratFunc, error) {
	if p.isOp("-") || p.isOp("+") {
		op := p.next().text
		operand, err := p.signed()
		if err != nil {
			return ratFunc{}, err
		}
		if op == "-" {
			return ratFunc{num: operand.num.neg(), den: operand.den}, nil
		}
		return operand, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (ratFunc, error) {
	v, err := p.primary()
	if err != nil {
		return ratFunc{}, err
	}
	for p.isOp("%") {
		p.next()
		if v, err = v.div(constRat(big.NewRat(100, 1))); err != nil {
			return ratFunc{}, err
		}
	}
	return v, nil
}

func (p *parser) primary() (ratFunc, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		r, ok := new(big.Rat).SetString(t.text)
		if !ok {
			return ratFunc{}, fmt.Errorf("invalid number %q", t.text)
		}
		return constRat(r), nil
	case tokRef, tokName:
		return varRat(t.text), nil
	case tokString:
		return varRat("str:" + t.text), nil
	case tokFunc:
		return p.call(t)
	case tokOp:
		if t.text == "(" {
			inner, err := p.expr()
			if err != nil {
				return ratFunc{}, err
			}
			return inner, p.expect(")")
		}
	}
	if t.kind == tokEOF {
		return ratFunc{}, errors.New("unexpected end of formula")
	}
	return ratFunc{}, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}

// call parses a function application and returns it as an opaque symbol
// keyed by the function name and the normalized argument text.
func (p *parser) call(fn token) (ratFunc, error) {
	if err := p.expect("("); err != nil {
		return ratFunc{}, err
	}
	start := p.peek().pos
	if !p.isOp(")") {
		for {
			if _, err := p.expr(); err != nil {
				return ratFunc{}, err
			}
			if !p.isOp(",") {
				break
			}
			p.next()
		}
	}
	end := p.peek().pos
	if err := p.expect(")"); err != nil {
		return ratFunc{}, err
	}

	args := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, string([]rune(p.src)[start:end]))
	return varRat("fn:" + fn.text + "(" + args + ")"), nil
}
