package relay

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	welcomeBanner = "######### Welcome to Xhell! #############"
	quitBanner    = "######### Quiting Xhell #############"

	calcAllowed = "0123456789+-*/(). \t"
)

var errCalc = errors.New("not a calculator expression")

// evalArithmetic evaluates expr, which may only contain digits, "+-*/().", and whitespace.
// Anything else, including division by zero, is an error. There is no general expression evaluation here.
func evalArithmetic(expr string) (float64, error) {
	if strings.TrimSpace(expr) == "" {
		return 0, fmt.Errorf("empty expression: %w", errCalc)
	}
	for _, r := range expr {
		if !strings.ContainsRune(calcAllowed, r) {
			return 0, fmt.Errorf("character %q not allowed: %w", r, errCalc)
		}
	}
	p := &calcParser{s: expr}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return 0, fmt.Errorf("unexpected %q at %d: %w", p.s[p.pos], p.pos, errCalc)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("result out of range: %w", errCalc)
	}
	return v, nil
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// calcParser is a recursive-descent parser for
//
//	expr   = term { ("+"|"-") term }
//	term   = factor { ("*"|"/") factor }
//	factor = ("+"|"-") factor | number | "(" expr ")"
type calcParser struct {
	s     string
	pos   int
	depth int
}

const maxCalcDepth = 64

func (p *calcParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *calcParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *calcParser) expr() (float64, error) {
	v, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.term()
			if err != nil {
				return 0, err
			}
			v += rhs
		case '-':
			p.pos++
			rhs, err := p.term()
			if err != nil {
				return 0, err
			}
			v -= rhs
		default:
			return v, nil
		}
	}
}

func (p *calcParser) term() (float64, error) {
	v, err := p.factor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			rhs, err := p.factor()
			if err != nil {
				return 0, err
			}
			v *= rhs
		case '/':
			p.pos++
			rhs, err := p.factor()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero: %w", errCalc)
			}
			v /= rhs
		default:
			return v, nil
		}
	}
}

func (p *calcParser) factor() (float64, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxCalcDepth {
		return 0, fmt.Errorf("expression nested too deeply: %w", errCalc)
	}

	switch c := p.peek(); {
	case c == '+':
		p.pos++
		return p.factor()
	case c == '-':
		p.pos++
		v, err := p.factor()
		return -v, err
	case c == '(':
		p.pos++
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis: %w", errCalc)
		}
		p.pos++
		return v, nil
	case c == '.' || (c >= '0' && c <= '9'):
		start := p.pos
		for p.pos < len(p.s) && (p.s[p.pos] == '.' || (p.s[p.pos] >= '0' && p.s[p.pos] <= '9')) {
			p.pos++
		}
		v, err := strconv.ParseFloat(p.s[start:p.pos], 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q: %w", p.s[start:p.pos], errCalc)
		}
		return v, nil
	case c == 0:
		return 0, fmt.Errorf("unexpected end of expression: %w", errCalc)
	default:
		return 0, fmt.Errorf("unexpected %q at %d: %w", c, p.pos, errCalc)
	}
}
