package engine

import (
	"sort"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// ruleSelector orders rules and finds the first match per direction. Only
// one rule fires per flow per direction: rules after the first match are
// never evaluated, so skipped rules have no side effects and contribute no
// trace.
type ruleSelector struct {
	filters *filterEvaluator
}

func newRuleSelector(filters *filterEvaluator) *ruleSelector {
	return &ruleSelector{filters: filters}
}

// candidates returns the enabled rules for the direction, sorted ascending
// by priority. The sort is stable: priority ties keep the original rule-set
// order.
func (s *ruleSelector) candidates(rules []domain.Rule, direction domain.Direction) []*domain.Rule {
	ordered := make([]*domain.Rule, 0, len(rules))
	for i := range rules {
		rule := &rules[i]
		if rule.Enabled && rule.Direction == direction {
			ordered = append(ordered, rule)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return ordered
}

// selectRule evaluates candidates in order and returns the first whose
// filter matches, or nil when no rule matches (implicit passthrough).
func (s *ruleSelector) selectRule(flow *domain.Flow, direction domain.Direction, rules []domain.Rule, trace *traceLog) *domain.Rule {
	for _, rule := range s.candidates(rules, direction) {
		trace.addf("rule %q (priority %d): evaluating", rule.Name, rule.Priority)
		if s.filters.ruleMatches(rule, flow, trace) {
			trace.addf("rule %q: matched, selecting", rule.Name)
			return rule
		}
		trace.addf("rule %q: did not match", rule.Name)
	}
	trace.addf("no rule matched: passthrough")
	return nil
}
