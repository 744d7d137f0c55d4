package rules

import (
	"fmt"
	"strings"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

const opChars = "<>=!~"

// ParseTest parses one test in rule syntax:
//
//	+requisite        allow when the predicate holds
//	-depth>3          deny when the comparison holds
//	++domain=*.org    allow and stop evaluating the rule
//	-                 deny unconditionally
//
// Arguments may be quoted; text arguments are comma separated glob lists.
func ParseTest(s string) (Test, error) {
	src := strings.TrimSpace(s)
	if src == "" || (src[0] != '+' && src[0] != '-') {
		return Test{}, fmt.Errorf("%w: %q must start with + or -", utils.ErrRuleSyntax, s)
	}

	pol := Deny
	if src[0] == '+' {
		pol = Allow
	}
	rest := src[1:]
	breaking := false
	if rest != "" && rest[0] == src[0] {
		breaking = true
		rest = rest[1:]
	}

	nameEnd := strings.IndexAny(rest, opChars)
	if nameEnd < 0 {
		nameEnd = len(rest)
	}
	name := rest[:nameEnd]
	rest = rest[nameEnd:]

	opEnd := 0
	for opEnd < len(rest) && strings.IndexByte(opChars, rest[opEnd]) >= 0 {
		opEnd++
	}
	op := Operator(rest[:opEnd])
	arg := unquote(rest[opEnd:])

	pred, err := LookupPredicate(name)
	if err != nil {
		return Test{}, fmt.Errorf("%w (in %q)", err, s)
	}
	if !op.valid() {
		return Test{}, fmt.Errorf("%w: unknown operator %q in %q", utils.ErrRuleSyntax, string(op), s)
	}
	return NewTest(pred, op, arg, pol, breaking)
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// ParseRule parses an ordered list of tests into a rule. Each element may
// itself hold several whitespace separated tests.
func ParseRule(kind RuleKind, specs []string) (Rule, error) {
	r := Rule{Kind: kind}
	for _, spec := range specs {
		for _, field := range strings.Fields(spec) {
			t, err := ParseTest(field)
			if err != nil {
				return Rule{}, fmt.Errorf("%s rule: %w", kind, err)
			}
			r.Tests = append(r.Tests, t)
		}
	}
	return r, nil
}

// ParseRuleSet parses the textual rules of a run.
func ParseRuleSet(rr models.RunRules) (RuleSet, error) {
	var rs RuleSet
	var err error
	if rs.Follow, err = ParseRule(Follow, rr.Follow); err != nil {
		return RuleSet{}, err
	}
	if rs.Save, err = ParseRule(Save, rr.Save); err != nil {
		return RuleSet{}, err
	}
	if rs.Stop, err = ParseRule(Stop, rr.Stop); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}
