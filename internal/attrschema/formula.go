package attrschema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	emptyParensPattern  = regexp.MustCompile(`\(\s*\)`)
	substitutedPattern  = regexp.MustCompile(`^[0-9+\-*/.() ]+$`)
	formulaResultPlaces = int32(2)
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isFormulaChar(r byte) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.IndexByte("_+-*/(). ", r) >= 0
}

func isIdentStart(r byte) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r byte) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

func isDigit(r byte) bool {
	return (r >= '0' && r <= '9') || r == '.'
}

func lex(src string) ([]token, error) {
	tokens := make([]token, 0, len(src)/2+1)
	for i := 0; i < len(src); {
		c := src[i]
		if !isFormulaChar(c) {
			return nil, newError(CodeInvalidCharacter, "formula", fmt.Sprintf("character %q at position %d is not allowed", rune(c), i))
		}
		switch {
		case c == ' ':
			i++
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[start:i], pos: start})
		case isDigit(c):
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		default:
			tokens = append(tokens, token{kind: tokOp, text: string(c), pos: i})
			i++
		}
	}
	return tokens, nil
}

// ValidateFormula checks the formula alphabet, parenthesis structure and
// that every identifier is one of available. It does not evaluate.
func ValidateFormula(formula string, available []string) error {
	if strings.TrimSpace(formula) == "" {
		return newError(CodeFormulaSyntax, "formula", "formula is empty")
	}
	for i := 0; i < len(formula); i++ {
		if !isFormulaChar(formula[i]) {
			return newError(CodeInvalidCharacter, "formula", fmt.Sprintf("character %q at position %d is not allowed", rune(formula[i]), i))
		}
	}

	depth := 0
	for i := 0; i < len(formula); i++ {
		switch formula[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return newError(CodeUnbalancedParentheses, "formula", fmt.Sprintf("unexpected ')' at position %d", i))
			}
		}
	}
	if depth != 0 {
		return newError(CodeUnbalancedParentheses, "formula", "missing ')'")
	}
	if emptyParensPattern.MatchString(formula) {
		return newError(CodeEmptyParentheses, "formula", "empty parentheses are not allowed")
	}

	tokens, err := lex(formula)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(available))
	for _, v := range available {
		known[v] = struct{}{}
	}
	for _, tok := range tokens {
		if tok.kind != tokIdent {
			continue
		}
		if _, ok := known[tok.text]; !ok {
			return &Error{Code: CodeUnknownVariable, Field: tok.text}
		}
	}

	_, err = parse(tokens)
	return err
}

// EvaluateFormula substitutes each variable with its value, checks the
// substituted expression and evaluates it. The result is rounded half away
// from zero to two decimal places.
func EvaluateFormula(formula string, values map[string]decimal.Decimal) (decimal.Decimal, error) {
	tokens, err := lex(formula)
	if err != nil {
		return decimal.Zero, err
	}

	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.kind != tokIdent {
			parts = append(parts, tok.text)
			continue
		}
		val, ok := values[tok.text]
		if !ok {
			return decimal.Zero, &Error{Code: CodeMissingVariable, Field: tok.text}
		}
		literal := val.String()
		if val.IsNegative() {
			literal = "(" + literal + ")"
		}
		parts = append(parts, literal)
	}

	expr := strings.Join(parts, " ")
	if !substitutedPattern.MatchString(expr) {
		return decimal.Zero, &Error{Code: CodeUnsafeExpression, Field: "formula", Detail: expr}
	}

	substituted, err := lex(expr)
	if err != nil {
		return decimal.Zero, &Error{Code: CodeUnsafeExpression, Field: "formula", Detail: expr}
	}
	tree, err := parse(substituted)
	if err != nil {
		return decimal.Zero, err
	}
	result, err := tree.eval()
	if err != nil {
		return decimal.Zero, err
	}
	return result.Round(formulaResultPlaces), nil
}

type node interface {
	eval() (decimal.Decimal, error)
}

type numberNode struct {
	value decimal.Decimal
}

type identNode struct {
	name string
}

type unaryNode struct {
	op      byte
	operand node
}

type binaryNode struct {
	op          byte
	left, right node
}

func (n numberNode) eval() (decimal.Decimal, error) {
	return n.value, nil
}

func (n identNode) eval() (decimal.Decimal, error) {
	return decimal.Zero, &Error{Code: CodeMissingVariable, Field: n.name}
}

func (n unaryNode) eval() (decimal.Decimal, error) {
	v, err := n.operand.eval()
	if err != nil {
		return decimal.Zero, err
	}
	if n.op == '-' {
		return v.Neg(), nil
	}
	return v, nil
}

func (n binaryNode) eval() (decimal.Decimal, error) {
	l, err := n.left.eval()
	if err != nil {
		return decimal.Zero, err
	}
	r, err := n.right.eval()
	if err != nil {
		return decimal.Zero, err
	}
	switch n.op {
	case '+':
		return l.Add(r), nil
	case '-':
		return l.Sub(r), nil
	case '*':
		return l.Mul(r), nil
	case '/':
		if r.IsZero() {
			return decimal.Zero, newError(CodeEvaluation, "formula", "division by zero")
		}
		return l.Div(r), nil
	}
	return decimal.Zero, newError(CodeEvaluation, "formula", fmt.Sprintf("unknown operator %q", n.op))
}

type parser struct {
	tokens []token
	pos    int
}

func parse(tokens []token) (node, error) {
	if len(tokens) == 0 {
		return nil, newError(CodeFormulaSyntax, "formula", "formula is empty")
	}
	p := &parser{tokens: tokens}
	tree, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, p.unexpected()
	}
	return tree, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) unexpected() error {
	tok, ok := p.peek()
	if !ok {
		return newError(CodeFormulaSyntax, "formula", "unexpected end of formula")
	}
	return newError(CodeFormulaSyntax, "formula", fmt.Sprintf("unexpected %q at position %d", tok.text, tok.pos))
}

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOp || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text[0], left: left, right: right}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOp || (tok.text != "*" && tok.text != "/") {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text[0], left: left, right: right}
	}
}

func (p *parser) unary() (node, error) {
	tok, ok := p.peek()
	if ok && tok.kind == tokOp && (tok.text == "-" || tok.text == "+") {
		p.pos++
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: tok.text[0], operand: operand}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, p.unexpected()
	}
	switch tok.kind {
	case tokNumber:
		value, err := decimal.NewFromString(tok.text)
		if err != nil {
			return nil, newError(CodeFormulaSyntax, "formula", fmt.Sprintf("invalid number %q at position %d", tok.text, tok.pos))
		}
		p.pos++
		return numberNode{value: value}, nil
	case tokIdent:
		p.pos++
		return identNode{name: tok.text}, nil
	case tokLParen:
		p.pos++
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, p.unexpected()
		}
		p.pos++
		return inner, nil
	}
	return nil, p.unexpected()
}
