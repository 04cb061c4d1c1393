package engine

import (
	"context"
	"sort"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// RuleSetTagRegistry derives the known tag set from whatever rule set the
// source currently holds. Tags are free-form, so "known" means referenced
// by at least one rule action.
type RuleSetTagRegistry struct {
	source RuleSetSource
}

// NewRuleSetTagRegistry builds a registry over a rule set source.
func NewRuleSetTagRegistry(source RuleSetSource) *RuleSetTagRegistry {
	return &RuleSetTagRegistry{source: source}
}

// Known returns the sorted, deduplicated tags referenced by the current
// rule set. An absent source or empty rule set yields an empty list.
func (r *RuleSetTagRegistry) Known(_ context.Context) ([]string, error) {
	if r.source == nil {
		return nil, nil
	}
	ruleSet := r.source.Current()
	if ruleSet == nil {
		return nil, nil
	}

	seen := map[string]struct{}{}
	for _, rule := range ruleSet.Rules {
		for _, tag := range rule.Action.Tags {
			if tag == "" {
				continue
			}
			seen[tag] = struct{}{}
		}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

var _ domain.TagRegistry = (*RuleSetTagRegistry)(nil)
