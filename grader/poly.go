package grader

import (
	"errors"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// Expressions larger than this are not compared symbolically.
const maxTerms = 2048

var errTooComplex = errors.New("expression too complex")

// term is coef * product(var^exp).
type term struct {
	coef *big.Rat
	vars map[string]int
}

// poly is a sum of terms keyed by their canonical monomial.
type poly map[string]term

func monomialKey(vars map[string]int) string {
	names := make([]string, 0, len(vars))
	for v := range vars {
		names = append(names, v)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, v := range names {
		if i > 0 {
			b.WriteByte('*')
		}
		b.WriteString(v)
		b.WriteByte('^')
		b.WriteString(strconv.Itoa(vars[v]))
	}
	return b.String()
}

func constPoly(r *big.Rat) poly {
	p := poly{}
	if r.Sign() != 0 {
		p[""] = term{coef: new(big.Rat).Set(r), vars: map[string]int{}}
	}
	return p
}

func varPoly(name string) poly {
	vars := map[string]int{name: 1}
	return poly{monomialKey(vars): term{coef: big.NewRat(1, 1), vars: vars}}
}

func (p poly) isZero() bool { return len(p) == 0 }

// constant returns the value of a polynomial without variables.
func (p poly) constant() (*big.Rat, bool) {
	switch len(p) {
	case 0:
		return new(big.Rat), true
	case 1:
		if t, ok := p[""]; ok {
			return t.coef, true
		}
	}
	return nil, false
}

func (p poly) add(q poly) poly {
	out := make(poly, len(p)+len(q))
	for k, t := range p {
		out[k] = t
	}
	for k, t := range q {
		if cur, ok := out[k]; ok {
			sum := new(big.Rat).Add(cur.coef, t.coef)
			if sum.Sign() == 0 {
				delete(out, k)
				continue
			}
			out[k] = term{coef: sum, vars: cur.vars}
			continue
		}
		out[k] = t
	}
	return out
}

func (p poly) neg() poly {
	out := make(poly, len(p))
	for k, t := range p {
		out[k] = term{coef: new(big.Rat).Neg(t.coef), vars: t.vars}
	}
	return out
}

func (p poly) mul(q poly) (poly, error) {
	if len(p)*len(q) > maxTerms*4 {
		return nil, errTooComplex
	}
	out := poly{}
	for _, a := range p {
		for _, b := range q {
			vars := make(map[string]int, len(a.vars)+len(b.vars))
			for v, e := range a.vars {
				vars[v] = e
			}
			for v, e := range b.vars {
				vars[v] += e
			}
			coef := new(big.Rat).Mul(a.coef, b.coef)
			k := monomialKey(vars)
			cur, ok := out[k]
			if !ok {
				out[k] = term{coef: coef, vars: vars}
				continue
			}
			if coef.Add(coef, cur.coef); coef.Sign() == 0 {
				delete(out, k)
			} else {
				out[k] = term{coef: coef, vars: cur.vars}
			}
		}
	}
	if len(out) > maxTerms {
		return nil, errTooComplex
	}
	return out, nil
}

// ratFunc is num/den with den never the zero polynomial. Fractions are not
// reduced; equality is decided by cross multiplication.
type ratFunc struct {
	num, den poly
}

func constRat(r *big.Rat) ratFunc {
	return ratFunc{num: constPoly(r), den: constPoly(big.NewRat(1, 1))}
}

func varRat(name string) ratFunc {
	return ratFunc{num: varPoly(name), den: constPoly(big.NewRat(1, 1))}
}

func (a ratFunc) add(b ratFunc) (ratFunc, error) {
	if sameDen(a.den, b.den) {
		return ratFunc{num: a.num.add(b.num), den: a.den}, nil
	}
	n1, err := a.num.mul(b.den)
	if err != nil {
		return ratFunc{}, err
	}
	n2, err := b.num.mul(a.den)
	if err != nil {
		return ratFunc{}, err
	}
	den, err := a.den.mul(b.den)
	if err != nil {
		return ratFunc{}, err
	}
	return ratFunc{num: n1.add(n2), den: den}, nil
}

func (a ratFunc) sub(b ratFunc) (ratFunc, error) {
	return a.add(ratFunc{num: b.num.neg(), den: b.den})
}

func (a ratFunc) mul(b ratFunc) (ratFunc, error) {
	num, err := a.num.mul(b.num)
	if err != nil {
		return ratFunc{}, err
	}
	den, err := a.den.mul(b.den)
	if err != nil {
		return ratFunc{}, err
	}
	return ratFunc{num: num, den: den}, nil
}

func (a ratFunc) inv() (ratFunc, error) {
	if a.num.isZero() {
		return ratFunc{}, errors.New("division by zero")
	}
	return ratFunc{num: a.den, den: a.num}, nil
}

func (a ratFunc) div(b ratFunc) (ratFunc, error) {
	inv, err := b.inv()
	if err != nil {
		return ratFunc{}, err
	}
	return a.mul(inv)
}

func (a ratFunc) pow(n int) (ratFunc, error) {
	if n < 0 {
		inv, err := a.inv()
		if err != nil {
			return ratFunc{}, err
		}
		return inv.pow(-n)
	}
	out := constRat(big.NewRat(1, 1))
	for i := 0; i < n; i++ {
		var err error
		if out, err = out.mul(a); err != nil {
			return ratFunc{}, err
		}
	}
	return out, nil
}

// constant returns the value of a variable-free expression.
func (a ratFunc) constant() (*big.Rat, bool) {
	n, ok := a.num.constant()
	if !ok {
		return nil, false
	}
	d, ok := a.den.constant()
	if !ok || d.Sign() == 0 {
		return nil, false
	}
	return new(big.Rat).Quo(n, d), true
}

// equal reports whether a and b are the same rational function.
func (a ratFunc) equal(b ratFunc) (bool, error) {
	left, err := a.num.mul(b.den)
	if err != nil {
		return false, err
	}
	right, err := b.num.mul(a.den)
	if err != nil {
		return false, err
	}
	return left.add(right.neg()).isZero(), nil
}

func sameDen(p, q poly) bool {
	if len(p) != len(q) {
		return false
	}
	for k, t := range p {
		u, ok := q[k]
		if !ok || t.coef.Cmp(u.coef) != 0 {
			return false
		}
	}
	return true
}
