package rules

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// Polarity is what a matching test votes for
type Polarity int

const (
	Allow Polarity = iota + 1
	Deny
)

// Outcome converts the polarity into a rule outcome
func (p Polarity) Outcome() models.Outcome {
	if p == Allow {
		return models.OutcomeAllow
	}
	return models.OutcomeDeny
}

func (p Polarity) prefix() string {
	if p == Allow {
		return "+"
	}
	return "-"
}

// Test is one entry of a rule: a predicate, how to compare its value, and
// what to vote when it matches. Build tests with NewTest or ParseTest.
type Test struct {
	Predicate PredicateKind
	Op        Operator
	Arg       string
	Polarity  Polarity
	Breaking  bool // A matching breaking test ends evaluation of its rule

	numbers  []int64
	patterns []glob.Glob
}

// NewTest builds and validates a test.
func NewTest(pred PredicateKind, op Operator, arg string, pol Polarity, breaking bool) (Test, error) {
	t := Test{Predicate: pred, Op: op, Arg: arg, Polarity: pol, Breaking: breaking}
	if err := t.validate(); err != nil {
		return Test{}, err
	}
	return t, nil
}

// MustTest is NewTest for tests known to be valid, such as the built-in defaults.
func MustTest(pred PredicateKind, op Operator, arg string, pol Polarity, breaking bool) Test {
	t, err := NewTest(pred, op, arg, pol, breaking)
	if err != nil {
		panic(err)
	}
	return t
}

// String renders the test in rule syntax, e.g. "++depth<=3".
func (t Test) String() string {
	var b strings.Builder
	b.WriteString(t.Polarity.prefix())
	if t.Breaking {
		b.WriteString(t.Polarity.prefix())
	}
	b.WriteString(t.Predicate.String())
	b.WriteString(string(t.Op))
	b.WriteString(t.Arg)
	return b.String()
}

// Matches evaluates the test's predicate against c.
func (t *Test) Matches(c *Context) (bool, error) {
	v, err := valueOf(t.Predicate, c)
	if err != nil {
		return false, err
	}
	return t.compare(v), nil
}

// RuleKind names one of the three rules
type RuleKind int

const (
	Follow RuleKind = iota
	Save
	Stop
)

func (k RuleKind) String() string {
	switch k {
	case Save:
		return "save"
	case Stop:
		return "stop"
	}
	return "follow"
}

// Rule is an ordered list of tests. Order is significant and never changed.
type Rule struct {
	Kind  RuleKind
	Tests []Test
}

// IsEmpty reports whether the rule falls back to its kind's defaults.
func (r Rule) IsEmpty() bool { return len(r.Tests) == 0 }

func (r Rule) String() string {
	parts := make([]string, len(r.Tests))
	for i := range r.Tests {
		parts[i] = r.Tests[i].String()
	}
	return strings.Join(parts, " ")
}

// Strings returns the textual form of each test.
func (r Rule) Strings() []string {
	out := make([]string, len(r.Tests))
	for i := range r.Tests {
		out[i] = r.Tests[i].String()
	}
	return out
}

// defaultTests are used in place of an empty rule. An empty follow rule lets
// only requisites of saved pages through, an empty save rule saves everything
// followed, and an empty stop rule never stops.
func defaultTests(kind RuleKind) []Test {
	switch kind {
	case Save:
		return []Test{MustTest(PredDefault, OpTruth, "", Allow, false)}
	case Stop:
		return []Test{MustTest(PredDefault, OpTruth, "", Deny, false)}
	}
	return []Test{
		MustTest(PredDefault, OpTruth, "", Deny, false),
		MustTest(PredRequisite, OpTruth, "", Allow, false),
	}
}

// RuleSet holds the three independently evaluated rules
type RuleSet struct {
	Follow Rule
	Save   Rule
	Stop   Rule
}

// Rule returns the rule of the given kind.
func (rs *RuleSet) Rule(kind RuleKind) Rule {
	switch kind {
	case Save:
		return rs.Save
	case Stop:
		return rs.Stop
	}
	return rs.Follow
}

// RunRules returns the textual form, suitable for storing with a run.
func (rs *RuleSet) RunRules() models.RunRules {
	return models.RunRules{
		Follow: rs.Follow.Strings(),
		Save:   rs.Save.Strings(),
		Stop:   rs.Stop.Strings(),
	}
}

// NeedsResponse reports whether any test of r needs post-fetch context.
func (r Rule) NeedsResponse() bool {
	for i := range r.Tests {
		if r.Tests[i].Predicate.Phase() == PostFetch {
			return true
		}
	}
	return false
}
