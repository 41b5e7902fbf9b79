package query

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/porticoapi/portico/internal/model"
)

// ParseRuleFilters parses an access-rule filter expression such as
//
//	owner_id = $identity AND state != 'archived'
//	team_id IN (3, 4) OR public = true
//
// into row filters and the operator that joins them. AND and OR may not be
// mixed in one expression. Values are kept as text; lists are joined with
// commas. An empty expression yields no filters.
func ParseRuleFilters(expr string) ([]model.Filter, string, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, "", err
	}
	if len(tokens) == 0 {
		return nil, "AND", nil
	}

	p := &parser{tokens: tokens}
	var (
		filters []model.Filter
		joiner  string
	)
	for {
		f, err := p.condition()
		if err != nil {
			return nil, "", err
		}
		filters = append(filters, f)

		t := p.next()
		if t == nil {
			break
		}
		if t.typ != tokKeyword || (t.value != "AND" && t.value != "OR") {
			return nil, "", fmt.Errorf("expected AND or OR at position %d, got %q", t.pos, t.value)
		}
		if joiner != "" && joiner != t.value {
			return nil, "", fmt.Errorf("cannot mix AND and OR (position %d)", t.pos)
		}
		joiner = t.value
	}
	if joiner == "" {
		joiner = "AND"
	}
	return filters, joiner, nil
}

// ---------------------------------------------------------------------------
// Tokenizer
// ---------------------------------------------------------------------------

type tokenType int

const (
	tokIdent tokenType = iota
	tokKeyword
	tokOperator
	tokValue
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	typ   tokenType
	value string
	pos   int
}

// keywords maps uppercased words to their canonical form.
var keywords = map[string]bool{
	"AND": true, "OR": true, "IN": true, "NOT": true, "LIKE": true, "ILIKE": true,
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i, n := 0, len(input)

	for i < n {
		ch := input[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case ch == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case i+1 < n && (input[i:i+2] == "!=" || input[i:i+2] == "<>" || input[i:i+2] == ">=" || input[i:i+2] == "<="):
			tokens = append(tokens, token{tokOperator, input[i : i+2], i})
			i += 2
		case ch == '=' || ch == '<' || ch == '>':
			tokens = append(tokens, token{tokOperator, string(ch), i})
			i++
		case ch == '\'':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < n {
				if input[i] == '\'' {
					// '' is an escaped quote.
					if i+1 < n && input[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteByte(input[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string literal starting at position %d", start)
			}
			tokens = append(tokens, token{tokValue, sb.String(), start})
		case ch == '$':
			start := i
			i++
			for i < n && isIdentPart(input[i]) {
				i++
			}
			word := input[start:i]
			if word != model.IdentityPlaceholder {
				return nil, fmt.Errorf("unknown placeholder %q at position %d", word, start)
			}
			tokens = append(tokens, token{tokValue, word, start})
		case ch == '-' || (ch >= '0' && ch <= '9'):
			start := i
			i++
			for i < n && ((input[i] >= '0' && input[i] <= '9') || input[i] == '.') {
				i++
			}
			num := input[start:i]
			if num == "-" || strings.HasSuffix(num, ".") || strings.Count(num, ".") > 1 {
				return nil, fmt.Errorf("invalid number %q at position %d", num, start)
			}
			tokens = append(tokens, token{tokValue, num, start})
		case isIdentStart(ch):
			start := i
			for i < n && isIdentPart(input[i]) {
				i++
			}
			word := input[start:i]
			upper := strings.ToUpper(word)
			switch {
			case keywords[upper]:
				tokens = append(tokens, token{tokKeyword, upper, start})
			case upper == "TRUE", upper == "FALSE", upper == "NULL":
				tokens = append(tokens, token{tokValue, strings.ToLower(word), start})
			default:
				tokens = append(tokens, token{tokIdent, word, start})
			}
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
		}
	}
	return tokens, nil
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) next() *token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	t := &p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) expect(typ tokenType, what string) (*token, error) {
	t := p.next()
	if t == nil {
		return nil, fmt.Errorf("expected %s, got end of expression", what)
	}
	if t.typ != typ {
		return nil, fmt.Errorf("expected %s at position %d, got %q", what, t.pos, t.value)
	}
	return t, nil
}

// condition: ident operator value | ident [NOT] IN ( value {, value} )
func (p *parser) condition() (model.Filter, error) {
	field, err := p.expect(tokIdent, "field name")
	if err != nil {
		return model.Filter{}, err
	}
	if err := ValidateIdentifier(field.value); err != nil {
		return model.Filter{}, err
	}

	op := p.next()
	if op == nil {
		return model.Filter{}, fmt.Errorf("expected operator after %q", field.value)
	}

	switch {
	case op.typ == tokOperator:
		v, err := p.expect(tokValue, "value")
		if err != nil {
			return model.Filter{}, err
		}
		return model.Filter{Name: field.value, Operator: op.value, Value: v.value}, nil

	case op.typ == tokKeyword && (op.value == "LIKE" || op.value == "ILIKE"):
		v, err := p.expect(tokValue, "pattern")
		if err != nil {
			return model.Filter{}, err
		}
		return model.Filter{Name: field.value, Operator: strings.ToLower(op.value), Value: v.value}, nil

	case op.typ == tokKeyword && (op.value == "IN" || op.value == "NOT"):
		operator := "in"
		if op.value == "NOT" {
			if _, err := p.expectKeyword("IN"); err != nil {
				return model.Filter{}, err
			}
			operator = "not in"
		}
		values, err := p.list()
		if err != nil {
			return model.Filter{}, err
		}
		return model.Filter{Name: field.value, Operator: operator, Value: strings.Join(values, ",")}, nil
	}
	return model.Filter{}, fmt.Errorf("unexpected %q at position %d", op.value, op.pos)
}

func (p *parser) expectKeyword(kw string) (*token, error) {
	t, err := p.expect(tokKeyword, kw)
	if err != nil {
		return nil, err
	}
	if t.value != kw {
		return nil, fmt.Errorf("expected %s at position %d, got %q", kw, t.pos, t.value)
	}
	return t, nil
}

func (p *parser) list() ([]string, error) {
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	var values []string
	for {
		v, err := p.expect(tokValue, "value")
		if err != nil {
			return nil, err
		}
		if strings.Contains(v.value, ",") {
			return nil, fmt.Errorf("list value %q may not contain a comma", v.value)
		}
		values = append(values, v.value)

		t := p.next()
		if t == nil {
			return nil, fmt.Errorf("unterminated list")
		}
		if t.typ == tokRParen {
			return values, nil
		}
		if t.typ != tokComma {
			return nil, fmt.Errorf("expected , or ) at position %d, got %q", t.pos, t.value)
		}
	}
}
