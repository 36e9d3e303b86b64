package timeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// NowExpression is the sentinel start meaning "when first resolved".
const NowExpression Expression = "now"

// Expression is an enable time expression.
//
// Supported forms:
//
//	""                 unset
//	"now"              bound to the resolve time
//	"12500"            literal Unix milliseconds (a JSON/YAML number works too)
//	"#intro.end"       another object's resolved start or end
//	"#intro.end + 500" reference with an offset in milliseconds
type Expression string

// Literal returns an expression for a fixed time.
func Literal(ms int64) Expression {
	return Expression(strconv.FormatInt(ms, 10))
}

// IsEmpty reports whether the expression is unset.
func (e Expression) IsEmpty() bool {
	return strings.TrimSpace(string(e)) == ""
}

// IsNow reports whether the expression is the "now" sentinel.
func (e Expression) IsNow() bool {
	return strings.EqualFold(strings.TrimSpace(string(e)), string(NowExpression))
}

// UnmarshalJSON accepts a number, a string or null.
func (e *Expression) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = Expression(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidExpression, string(data))
	}
	*e = Expression(n.String())
	return nil
}

// UnmarshalYAML accepts any scalar.
func (e *Expression) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected a scalar", ErrInvalidExpression, node.Line)
	}
	if node.Tag == "!!null" {
		*e = ""
		return nil
	}
	*e = Expression(node.Value)
	return nil
}

type exprKind int

const (
	exprEmpty exprKind = iota
	exprNow
	exprLiteral
	exprReference
)

// parsedExpression is the compiled form of an Expression.
type parsedExpression struct {
	kind   exprKind
	value  int64  // literal value
	ref    string // referenced object id
	field  string // "start" or "end"
	offset int64
}

func parseExpression(e Expression) (parsedExpression, error) {
	s := strings.TrimSpace(string(e))
	switch {
	case s == "":
		return parsedExpression{kind: exprEmpty}, nil
	case e.IsNow():
		return parsedExpression{kind: exprNow}, nil
	case strings.HasPrefix(s, "#"):
		return parseReference(s)
	}

	v, err := parseMillis(s)
	if err != nil {
		return parsedExpression{}, fmt.Errorf("%w: %q", ErrInvalidExpression, s)
	}
	return parsedExpression{kind: exprLiteral, value: v}, nil
}

// parseReference parses "#id.field [+|- offset]". Object ids may contain
// dashes but not dots.
func parseReference(s string) (parsedExpression, error) {
	body := s[1:]
	dot := strings.IndexByte(body, '.')
	if dot <= 0 {
		return parsedExpression{}, fmt.Errorf("%w: %q must be #id.start or #id.end", ErrInvalidExpression, s)
	}
	id, rest := strings.TrimSpace(body[:dot]), body[dot+1:]

	fieldEnd := strings.IndexFunc(rest, func(r rune) bool { return r < 'a' || r > 'z' })
	if fieldEnd < 0 {
		fieldEnd = len(rest)
	}
	field, rest := rest[:fieldEnd], strings.TrimSpace(rest[fieldEnd:])
	if field != "start" && field != "end" {
		return parsedExpression{}, fmt.Errorf("%w: unknown field %q in %q", ErrInvalidExpression, field, s)
	}

	var offset int64
	if rest != "" {
		sign := int64(1)
		switch rest[0] {
		case '+':
		case '-':
			sign = -1
		default:
			return parsedExpression{}, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidExpression, rest, s)
		}
		n, err := parseMillis(strings.TrimSpace(rest[1:]))
		if err != nil {
			return parsedExpression{}, fmt.Errorf("%w: bad offset in %q", ErrInvalidExpression, s)
		}
		offset = sign * n
	}
	return parsedExpression{kind: exprReference, ref: id, field: field, offset: offset}, nil
}

// parseMillis parses an integer, tolerating a float rendering such as
// "1.5e+04" from generic JSON decoding.
func parseMillis(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
