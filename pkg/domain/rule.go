package domain

import "strings"

// MatchType selects how a text condition compares its value.
type MatchType string

const (
	// MatchExact requires byte-for-byte string equality.
	MatchExact MatchType = "exact"
	// MatchContains requires a case-sensitive substring match.
	MatchContains MatchType = "contains"
	// MatchRegex compiles the expected value as a regular expression.
	// Invalid patterns evaluate to false, never to an error.
	MatchRegex MatchType = "regex"
)

// StatusMatchType selects how a status-code condition is interpreted.
type StatusMatchType string

const (
	// StatusExact compares against a single parsed integer.
	StatusExact StatusMatchType = "exact"
	// StatusRange accepts ">=NNN", "<=NNN", "Nxx" wildcards and "NNN-NNN".
	StatusRange StatusMatchType = "range"
	// StatusList splits the value on commas and checks membership.
	StatusList StatusMatchType = "list"
)

// SizeOperator is the relational operator for body-size conditions.
type SizeOperator string

const (
	SizeGreater      SizeOperator = "gt"
	SizeLess         SizeOperator = "lt"
	SizeGreaterEqual SizeOperator = "gte"
	SizeLessEqual    SizeOperator = "lte"
)

// GroupOperator combines conditions within a group or groups within a set.
type GroupOperator string

const (
	OperatorAnd GroupOperator = "and"
	OperatorOr  GroupOperator = "or"
)

// ConditionScope selects which side of the flow a condition reads.
type ConditionScope string

const (
	// ScopeRequest evaluates the condition against the request side.
	ScopeRequest ConditionScope = "request"
	// ScopeResponse evaluates the condition against the response side.
	ScopeResponse ConditionScope = "response"
	// ScopeEither evaluates against both sides and ORs the outcomes.
	ScopeEither ConditionScope = "either"
)

// ConditionField names the flow attribute a condition inspects.
type ConditionField string

const (
	FieldHost         ConditionField = "host"
	FieldPath         ConditionField = "path"
	FieldMethod       ConditionField = "method"
	FieldURL          ConditionField = "url"
	FieldHeader       ConditionField = "header"
	FieldBodyContains ConditionField = "body_contains"
	FieldStatusCode   ConditionField = "status_code"
	FieldBodySize     ConditionField = "body_size"
	FieldIsLLMAPI     ConditionField = "is_llm_api"
	FieldHasRefusal   ConditionField = "has_refusal"
	FieldIsModified   ConditionField = "is_modified"
)

// Rule decides, per flow and direction, which action the proxy applies.
// Exactly one of Filter/FilterV2 is authoritative: FilterV2 wins whenever it
// carries at least one non-empty group.
type Rule struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	Direction Direction `json:"direction" yaml:"direction"`
	// Priority orders evaluation; lower evaluates first. Ties keep the
	// original rule-set order.
	Priority int             `json:"priority" yaml:"priority"`
	Filter   Filter          `json:"filter" yaml:"filter"`
	FilterV2 *FilterGroupSet `json:"filter_v2,omitempty" yaml:"filter_v2,omitempty"`
	Action   Action          `json:"action" yaml:"action"`
}

// StringMatch pairs a match type with the expected value for a text field.
type StringMatch struct {
	Match MatchType `json:"match" yaml:"match"`
	Value string    `json:"value" yaml:"value"`
}

// HeaderFilter matches a named header's value. Lookup is case-insensitive;
// an absent header never matches.
type HeaderFilter struct {
	Key   string    `json:"key" yaml:"key"`
	Match MatchType `json:"match" yaml:"match"`
	Value string    `json:"value" yaml:"value"`
}

// StatusCodeFilter matches a response status code.
type StatusCodeFilter struct {
	Match StatusMatchType `json:"match" yaml:"match"`
	Value string          `json:"value" yaml:"value"`
}

// SizeFilter compares a body's byte length against a threshold.
type SizeFilter struct {
	Operator SizeOperator `json:"operator" yaml:"operator"`
	Bytes    int64        `json:"bytes" yaml:"bytes"`
}

// Filter is the legacy flat filter: every present condition must match
// (logical AND). An empty filter matches everything.
type Filter struct {
	Host     *StringMatch  `json:"host,omitempty" yaml:"host,omitempty"`
	Path     *StringMatch  `json:"path,omitempty" yaml:"path,omitempty"`
	Method   *StringMatch  `json:"method,omitempty" yaml:"method,omitempty"`
	Header   *HeaderFilter `json:"header,omitempty" yaml:"header,omitempty"`
	IsLLMAPI *bool         `json:"is_llm_api,omitempty" yaml:"is_llm_api,omitempty"`

	// Response-direction conditions.
	StatusCode           *StatusCodeFilter `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	ResponseBodyContains string            `json:"response_body_contains,omitempty" yaml:"response_body_contains,omitempty"`
	ResponseHeader       *HeaderFilter     `json:"response_header,omitempty" yaml:"response_header,omitempty"`
	ResponseSize         *SizeFilter       `json:"response_size,omitempty" yaml:"response_size,omitempty"`
}

// Empty reports whether no condition is configured, in which case the filter
// vacuously matches every flow.
func (f Filter) Empty() bool {
	return f.Host == nil && f.Path == nil && f.Method == nil && f.Header == nil &&
		f.IsLLMAPI == nil && f.StatusCode == nil && f.ResponseBodyContains == "" &&
		f.ResponseHeader == nil && f.ResponseSize == nil
}

// FilterGroupSet is the generalized two-level filter: groups combined by one
// operator, conditions within each group combined by another.
type FilterGroupSet struct {
	Operator GroupOperator `json:"operator" yaml:"operator"`
	Groups   []FilterGroup `json:"groups" yaml:"groups"`
}

// FilterGroup combines conditions with a single operator.
type FilterGroup struct {
	Operator   GroupOperator     `json:"operator" yaml:"operator"`
	Conditions []FilterCondition `json:"conditions" yaml:"conditions"`
}

// FilterCondition is one predicate over a flow's observable fields. Its
// interpretation depends on Field: text fields use Match+Value, boolean
// fields use BoolValue, status fields use StatusMatch+Value, and size fields
// use SizeOperator+SizeBytes. Negate inverts the final outcome, including
// for absent or erroring cases.
type FilterCondition struct {
	Field        ConditionField  `json:"field" yaml:"field"`
	Scope        ConditionScope  `json:"scope,omitempty" yaml:"scope,omitempty"`
	Match        MatchType       `json:"match,omitempty" yaml:"match,omitempty"`
	Value        string          `json:"value,omitempty" yaml:"value,omitempty"`
	Key          string          `json:"key,omitempty" yaml:"key,omitempty"`
	BoolValue    *bool           `json:"bool_value,omitempty" yaml:"bool_value,omitempty"`
	StatusMatch  StatusMatchType `json:"status_match,omitempty" yaml:"status_match,omitempty"`
	SizeOperator SizeOperator    `json:"size_operator,omitempty" yaml:"size_operator,omitempty"`
	SizeBytes    int64           `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	Negate       bool            `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// NonEmptyGroups returns the set's groups with empty groups dropped. A group
// with zero conditions is meaningless and is never evaluated.
func (s *FilterGroupSet) NonEmptyGroups() []FilterGroup {
	if s == nil {
		return nil
	}
	groups := make([]FilterGroup, 0, len(s.Groups))
	for _, g := range s.Groups {
		if len(g.Conditions) > 0 {
			groups = append(groups, g)
		}
	}
	return groups
}

// UsesGroupFilter reports whether FilterV2 is authoritative for this rule.
func (r *Rule) UsesGroupFilter() bool {
	return r.FilterV2 != nil && len(r.FilterV2.NonEmptyGroups()) > 0
}

// NormalizeOperator maps arbitrary-cased operator strings onto the two
// supported values, defaulting to AND.
func NormalizeOperator(op GroupOperator) GroupOperator {
	if strings.EqualFold(string(op), string(OperatorOr)) {
		return OperatorOr
	}
	return OperatorAnd
}

// RuleSet is the ordered rule list the engine evaluates, with the switches
// the proxy exposes alongside it.
type RuleSet struct {
	Rules        []Rule `json:"rules" yaml:"rules"`
	RulesEnabled bool   `json:"rules_enabled" yaml:"rules_enabled"`
}
