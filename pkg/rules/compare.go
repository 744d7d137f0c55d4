package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Operator compares a predicate's value with a test's argument
type Operator string

const (
	OpTruth Operator = ""   // Boolean true, non-zero number, non-empty text
	OpEq    Operator = "="  // Glob match for text, equality for numbers; the argument may be a list
	OpNe    Operator = "!=" // Negation of OpEq
	OpLt    Operator = "<"
	OpLe    Operator = "<="
	OpGt    Operator = ">"
	OpGe    Operator = ">="
)

func (o Operator) valid() bool {
	switch o {
	case OpTruth, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

func (o Operator) ordering() bool {
	return o == OpLt || o == OpLe || o == OpGt || o == OpGe
}

// Decimal magnitudes: 1K = 1000, 1M = 1,000,000, 1G = 1,000,000,000.
var magnitudes = map[byte]float64{
	'K': 1e3,
	'M': 1e6,
	'G': 1e9,
}

// ParseMagnitude parses a number with an optional K, M or G suffix
// (case-insensitive, powers of 1000). Fractions are rounded to the nearest integer.
func ParseMagnitude(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty number", utils.ErrRuleSyntax)
	}
	mult := 1.0
	if m, ok := magnitudes[upper(s[len(s)-1])]; ok {
		mult = m
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", utils.ErrRuleSyntax, s)
	}
	return int64(math.Round(f * mult)), nil
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// splitList splits a comma separated argument, leaving commas inside {...}
// alternations alone.
func splitList(arg string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(arg); i++ {
		switch arg[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, arg[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, arg[start:])
}

// compile prepares the argument for matching. It reports configuration
// errors such as an ordering operator on a text predicate.
func (t *Test) compile() error {
	typ := t.Predicate.ValueType()
	if t.Op == OpTruth {
		if t.Arg != "" {
			return fmt.Errorf("%w: %q has an argument but no operator", utils.ErrRuleSyntax, t.String())
		}
		return nil
	}
	if t.Arg == "" {
		return fmt.Errorf("%w: %q needs an argument after %s", utils.ErrRuleSyntax, t.String(), t.Op)
	}

	switch typ {
	case ValueBool:
		return fmt.Errorf("%w: %q takes no operator, %q is a yes/no test", utils.ErrRuleSyntax, t.String(), t.Predicate.String())
	case ValueInt:
		items := []string{t.Arg}
		if !t.Op.ordering() {
			items = splitList(t.Arg)
		}
		t.numbers = t.numbers[:0]
		for _, item := range items {
			n, err := ParseMagnitude(item)
			if err != nil {
				return fmt.Errorf("%w (in %q)", err, t.String())
			}
			t.numbers = append(t.numbers, n)
		}
	case ValueText:
		if t.Op.ordering() {
			return fmt.Errorf("%w: %q: %s only applies to numeric tests", utils.ErrRuleSyntax, t.String(), t.Op)
		}
		t.patterns = t.patterns[:0]
		for _, item := range splitList(t.Arg) {
			g, err := glob.Compile(item)
			if err != nil {
				return fmt.Errorf("%w: %q: bad pattern %q: %v", utils.ErrRuleSyntax, t.String(), item, err)
			}
			t.patterns = append(t.patterns, g)
		}
	}
	return nil
}

func (t *Test) compare(v value) bool {
	if !v.defined {
		return false
	}
	switch v.typ {
	case ValueBool:
		return v.b
	case ValueInt:
		switch t.Op {
		case OpTruth:
			return v.n != 0
		case OpEq:
			return t.anyNumber(v.n)
		case OpNe:
			return !t.anyNumber(v.n)
		case OpLt:
			return v.n < t.numbers[0]
		case OpLe:
			return v.n <= t.numbers[0]
		case OpGt:
			return v.n > t.numbers[0]
		case OpGe:
			return v.n >= t.numbers[0]
		}
	case ValueText:
		switch t.Op {
		case OpTruth:
			return v.s != ""
		case OpEq:
			return t.anyPattern(v.s)
		case OpNe:
			return !t.anyPattern(v.s)
		}
	}
	return false
}

func (t *Test) anyNumber(n int64) bool {
	for _, want := range t.numbers {
		if n == want {
			return true
		}
	}
	return false
}

func (t *Test) anyPattern(s string) bool {
	for _, g := range t.patterns {
		if g.Match(s) {
			return true
		}
	}
	return false
}
