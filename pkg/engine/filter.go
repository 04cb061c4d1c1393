package engine

import (
	"fmt"
	"strings"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// filterEvaluator composes match predicates into the two supported filter
// shapes: the legacy flat all-must-match filter and the two-level AND/OR
// group structure. It is read-only over the flow and holds only the shared
// regex cache.
type filterEvaluator struct {
	regexes *regexCache
}

func newFilterEvaluator() *filterEvaluator {
	return &filterEvaluator{regexes: newRegexCache()}
}

// ruleMatches decides whether a rule fires for the flow. FilterV2 is
// authoritative when it has at least one non-empty group; otherwise the
// legacy filter applies. Switching between the two modes must not silently
// change whether an unconfigured rule fires: both empty shapes match
// everything.
func (e *filterEvaluator) ruleMatches(rule *domain.Rule, flow *domain.Flow, trace *traceLog) bool {
	if rule.UsesGroupFilter() {
		return e.setMatches(rule.FilterV2, flow, trace)
	}
	return e.filterMatches(rule.Filter, flow, trace)
}

// filterMatches evaluates the legacy flat filter: AND of every present
// condition. An unset condition contributes true; an empty filter matches
// every flow.
func (e *filterEvaluator) filterMatches(filter domain.Filter, flow *domain.Flow, trace *traceLog) bool {
	if filter.Empty() {
		trace.addf("filter is empty: matched")
		return true
	}

	matched := true
	check := func(label string, ok bool) {
		trace.addf("condition %s: %s", label, verdict(ok))
		if !ok {
			matched = false
		}
	}

	if f := filter.Host; f != nil {
		check(fmt.Sprintf("host %s %q", f.Match, f.Value),
			e.regexes.matches(flow.Request.Host, f.Match, f.Value))
	}
	if f := filter.Path; f != nil {
		check(fmt.Sprintf("path %s %q", f.Match, f.Value),
			e.regexes.matches(flow.Request.Path, f.Match, f.Value))
	}
	if f := filter.Method; f != nil {
		check(fmt.Sprintf("method %s %q", f.Match, f.Value),
			e.regexes.matches(flow.Request.Method, f.Match, f.Value))
	}
	if f := filter.Header; f != nil {
		value, present := domain.HeaderValue(flow.Request.Headers, f.Key)
		ok := present && e.regexes.matches(value, f.Match, f.Value)
		check(fmt.Sprintf("header %q %s %q", f.Key, f.Match, f.Value), ok)
	}
	if f := filter.IsLLMAPI; f != nil {
		check(fmt.Sprintf("is_llm_api == %t", *f), flow.IsLLMAPI == *f)
	}
	if f := filter.StatusCode; f != nil {
		ok := flow.Response != nil && matchStatus(flow.Response.StatusCode, f.Match, f.Value)
		check(fmt.Sprintf("status_code %s %q", f.Match, f.Value), ok)
	}
	if needle := filter.ResponseBodyContains; needle != "" {
		ok := flow.Response != nil && strings.Contains(flow.Response.Body, needle)
		check(fmt.Sprintf("response body contains %q", needle), ok)
	}
	if f := filter.ResponseHeader; f != nil {
		ok := false
		if flow.Response != nil {
			value, present := domain.HeaderValue(flow.Response.Headers, f.Key)
			ok = present && e.regexes.matches(value, f.Match, f.Value)
		}
		check(fmt.Sprintf("response header %q %s %q", f.Key, f.Match, f.Value), ok)
	}
	if f := filter.ResponseSize; f != nil {
		ok := matchSize(flow.BodySize(domain.DirectionResponse), f.Operator, f.Bytes)
		check(fmt.Sprintf("response size %s %d", f.Operator, f.Bytes), ok)
	}

	return matched
}

// setMatches reduces the set's non-empty groups with the top-level operator.
// An empty set (after dropping empty groups) means no filter is configured
// and matches everything, mirroring the legacy empty-filter behavior.
func (e *filterEvaluator) setMatches(set *domain.FilterGroupSet, flow *domain.Flow, trace *traceLog) bool {
	groups := set.NonEmptyGroups()
	if len(groups) == 0 {
		trace.addf("filter has no groups: matched")
		return true
	}

	op := domain.NormalizeOperator(set.Operator)
	matched := op == domain.OperatorAnd
	for i, group := range groups {
		ok := e.groupMatches(i, group, flow, trace)
		if op == domain.OperatorAnd {
			matched = matched && ok
		} else {
			matched = matched || ok
		}
	}
	trace.addf("filter (%d groups, %s): %s", len(groups), op, verdict(matched))
	return matched
}

// groupMatches reduces the group's conditions with the group operator.
func (e *filterEvaluator) groupMatches(index int, group domain.FilterGroup, flow *domain.Flow, trace *traceLog) bool {
	op := domain.NormalizeOperator(group.Operator)
	matched := op == domain.OperatorAnd
	for _, cond := range group.Conditions {
		ok := e.conditionMatches(cond, flow)
		trace.addf("group %d condition %s: %s", index+1, describeCondition(cond), verdict(ok))
		if op == domain.OperatorAnd {
			matched = matched && ok
		} else {
			matched = matched || ok
		}
	}
	return matched
}

// conditionMatches evaluates one condition honoring its scope. For
// ScopeEither the condition is evaluated against both sides and the two
// outcomes are ORed. Negation is applied after evaluation, including for
// absent and erroring cases.
func (e *filterEvaluator) conditionMatches(cond domain.FilterCondition, flow *domain.Flow) bool {
	var matched bool
	switch cond.Scope {
	case domain.ScopeEither:
		matched = e.evalConditionSide(cond, flow, domain.DirectionRequest) ||
			e.evalConditionSide(cond, flow, domain.DirectionResponse)
	case domain.ScopeResponse:
		matched = e.evalConditionSide(cond, flow, domain.DirectionResponse)
	default:
		matched = e.evalConditionSide(cond, flow, domain.DirectionRequest)
	}

	if cond.Negate {
		return !matched
	}
	return matched
}

func (e *filterEvaluator) evalConditionSide(cond domain.FilterCondition, flow *domain.Flow, side domain.Direction) bool {
	switch cond.Field {
	case domain.FieldHost:
		return e.regexes.matches(flow.Request.Host, cond.Match, cond.Value)
	case domain.FieldPath:
		return e.regexes.matches(flow.Request.Path, cond.Match, cond.Value)
	case domain.FieldMethod:
		return e.regexes.matches(flow.Request.Method, cond.Match, cond.Value)
	case domain.FieldURL:
		return e.regexes.matches(flow.Request.URL, cond.Match, cond.Value)
	case domain.FieldHeader:
		headers := flow.Request.Headers
		if side == domain.DirectionResponse {
			if flow.Response == nil {
				return false
			}
			headers = flow.Response.Headers
		}
		value, present := domain.HeaderValue(headers, cond.Key)
		if !present {
			// Absent header evaluates false, never errors.
			return false
		}
		return e.regexes.matches(value, cond.Match, cond.Value)
	case domain.FieldBodyContains:
		body := flow.Request.Body
		if side == domain.DirectionResponse {
			if flow.Response == nil {
				return false
			}
			body = flow.Response.Body
		}
		if cond.Match == "" {
			return strings.Contains(body, cond.Value)
		}
		return e.regexes.matches(body, cond.Match, cond.Value)
	case domain.FieldStatusCode:
		if flow.Response == nil {
			return false
		}
		return matchStatus(flow.Response.StatusCode, cond.StatusMatch, cond.Value)
	case domain.FieldBodySize:
		return matchSize(flow.BodySize(side), cond.SizeOperator, cond.SizeBytes)
	case domain.FieldIsLLMAPI:
		return cond.BoolValue != nil && flow.IsLLMAPI == *cond.BoolValue
	case domain.FieldHasRefusal:
		return cond.BoolValue != nil && flow.HasRefusal == *cond.BoolValue
	case domain.FieldIsModified:
		return cond.BoolValue != nil && flow.IsModified == *cond.BoolValue
	default:
		// Unknown fields fail closed.
		return false
	}
}

// describeCondition renders a condition for the explanation trace.
func describeCondition(cond domain.FilterCondition) string {
	var b strings.Builder
	b.WriteString(string(cond.Field))
	if cond.Key != "" {
		fmt.Fprintf(&b, " %q", cond.Key)
	}
	switch cond.Field {
	case domain.FieldIsLLMAPI, domain.FieldHasRefusal, domain.FieldIsModified:
		if cond.BoolValue != nil {
			fmt.Fprintf(&b, " == %t", *cond.BoolValue)
		}
	case domain.FieldStatusCode:
		fmt.Fprintf(&b, " %s %q", cond.StatusMatch, cond.Value)
	case domain.FieldBodySize:
		fmt.Fprintf(&b, " %s %d", cond.SizeOperator, cond.SizeBytes)
	default:
		fmt.Fprintf(&b, " %s %q", cond.Match, cond.Value)
	}
	if cond.Scope != "" && cond.Scope != domain.ScopeRequest {
		fmt.Fprintf(&b, " (scope %s)", cond.Scope)
	}
	if cond.Negate {
		b.WriteString(" (negated)")
	}
	return b.String()
}
