package rules

import (
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Evaluation records what one test did during a rule evaluation
type Evaluation struct {
	Test     Test
	Matched  bool
	Deferred bool // Needed response data that was not available yet; Matched is the assumed result
}

// Result is the outcome of a rule plus the trace that produced it
type Result struct {
	Outcome   models.Outcome
	Trace     []Evaluation
	Decisive  int  // Index in Trace of the test that set Outcome, -1 if none matched
	Defaulted bool // The rule was empty and its kind's defaults were used
	Deferred  bool // At least one test was deferred; the rule must be evaluated again after fetching
}

// Summary names the test that decided the outcome, for reporting.
func (r Result) Summary() string {
	if r.Outcome == models.OutcomeUnset {
		return ""
	}
	s := "(initial)"
	if r.Decisive >= 0 {
		s = r.Trace[r.Decisive].Test.String()
	}
	if r.Defaulted {
		s += " [default]"
	}
	if r.Deferred {
		s += " [deferred]"
	}
	return s
}

// DecidedBy reports whether a test on pred set the outcome
func (r Result) DecidedBy(pred PredicateKind) bool {
	return r.Decisive >= 0 && r.Trace[r.Decisive].Test.Predicate == pred
}

// Evaluator runs rules against context snapshots. It holds no crawl state.
type Evaluator struct {
	log *logrus.Entry
}

func NewEvaluator(log *logrus.Entry) *Evaluator {
	return &Evaluator{log: log.WithField("component", "rules")}
}

// Evaluate runs rule against c. Tests are walked in order: a matching
// breaking test decides immediately, otherwise the last matching test
// decides. If nothing matches the outcome is Deny. A test that needs response
// data on a pre-fetch context is an error.
func (e *Evaluator) Evaluate(rule Rule, c Context) (Result, error) {
	return e.evaluate(rule, &c, false)
}

// EvaluateDeferring is Evaluate for a pre-fetch follow decision. Tests that
// need response data may still go either way, so the outcome is Allow when
// some combination of their results leads to Allow. The result is marked
// Deferred so the caller re-evaluates after fetching.
func (e *Evaluator) EvaluateDeferring(rule Rule, c Context) (Result, error) {
	return e.evaluate(rule, &c, true)
}

func (e *Evaluator) evaluate(rule Rule, c *Context, deferring bool) (Result, error) {
	tests := rule.Tests
	res := Result{Outcome: models.OutcomeDeny, Decisive: -1}
	if len(tests) == 0 {
		tests = defaultTests(rule.Kind)
		res.Defaulted = true
	}
	res.Trace = make([]Evaluation, 0, len(tests))
	w := &walk{tests: tests, c: c, deferring: deferring}

	for i := range tests {
		t := &tests[i]
		deferred := w.deferred(i)
		var matched bool
		var err error
		if deferred {
			matched, err = w.assume(i, res.Outcome)
			res.Deferred = true
		} else {
			matched, err = w.match(i)
		}
		if err != nil {
			return Result{Outcome: models.OutcomeUnset, Decisive: -1},
				utils.WrapErrorf(err, "%s rule, test %s", rule.Kind, t.String())
		}
		res.Trace = append(res.Trace, Evaluation{Test: *t, Matched: matched, Deferred: deferred})
		if !matched {
			continue
		}
		res.Outcome = t.Polarity.Outcome()
		res.Decisive = len(res.Trace) - 1
		if t.Breaking {
			break
		}
	}

	if e.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		e.log.WithFields(logrus.Fields{
			"rule":    rule.Kind.String(),
			"url":     urlString(c),
			"phase":   c.Phase.String(),
			"outcome": res.Outcome.String(),
		}).Debugf("Rule decided by %s", res.Summary())
	}
	return res, nil
}

func urlString(c *Context) string {
	if c.URL == nil {
		return ""
	}
	return c.URL.String()
}

// walk evaluates the tests of one rule lazily, caching match results
type walk struct {
	tests     []Test
	c         *Context
	deferring bool
	matches   map[int]bool
	allow     map[walkState]bool
}

type walkState struct {
	next    int
	outcome models.Outcome
}

func (w *walk) deferred(i int) bool {
	return w.deferring && w.c.Phase == PreFetch && w.tests[i].Predicate.Phase() == PostFetch
}

func (w *walk) match(i int) (bool, error) {
	if m, ok := w.matches[i]; ok {
		return m, nil
	}
	m, err := w.tests[i].Matches(w.c)
	if err != nil {
		return false, err
	}
	if w.matches == nil {
		w.matches = make(map[int]bool)
	}
	w.matches[i] = m
	return m, nil
}

// assume picks the result of deferred test i: the one favouring its polarity
// if that can still end in Allow, the other one otherwise.
func (w *walk) assume(i int, outcome models.Outcome) (bool, error) {
	preferred := w.tests[i].Polarity.Outcome() == models.OutcomeAllow
	ok, err := w.allowsAfter(i, outcome, preferred)
	if err != nil || ok {
		return preferred, err
	}
	return !preferred, nil
}

// allowsAfter reports whether test i resolving to matched can still end in Allow
func (w *walk) allowsAfter(i int, outcome models.Outcome, matched bool) (bool, error) {
	t := &w.tests[i]
	if matched {
		outcome = t.Polarity.Outcome()
		if t.Breaking {
			return outcome == models.OutcomeAllow, nil
		}
	}
	return w.reachesAllow(i+1, outcome)
}

// reachesAllow reports whether evaluation from test next, with outcome so
// far, ends in Allow for some result of the deferred tests still ahead
func (w *walk) reachesAllow(next int, outcome models.Outcome) (bool, error) {
	if next == len(w.tests) {
		return outcome == models.OutcomeAllow, nil
	}
	key := walkState{next, outcome}
	if ok, seen := w.allow[key]; seen {
		return ok, nil
	}

	var ok bool
	if w.deferred(next) {
		for _, m := range []bool{true, false} {
			r, err := w.allowsAfter(next, outcome, m)
			if err != nil {
				return false, err
			}
			if r {
				ok = true
				break
			}
		}
	} else {
		m, err := w.match(next)
		if err != nil {
			return false, err
		}
		if ok, err = w.allowsAfter(next, outcome, m); err != nil {
			return false, err
		}
	}

	if w.allow == nil {
		w.allow = make(map[walkState]bool)
	}
	w.allow[key] = ok
	return ok, nil
}
