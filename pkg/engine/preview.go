package engine

import (
	"context"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// TestRule evaluates a single rule against a flow. It runs exactly the same
// code path as Evaluate, so the returned trace is identical to what the
// enforcement path would produce for a rule set containing only this rule.
// Side effects (cursor advancement, cached generation) happen here too.
func (e *Engine) TestRule(ctx context.Context, flow *domain.Flow, direction domain.Direction, rule *domain.Rule) (*domain.MatchResult, error) {
	if rule == nil {
		return nil, domain.ErrRuleNotFound
	}
	ruleSet := &domain.RuleSet{
		Rules:        []domain.Rule{*rule},
		RulesEnabled: true,
	}
	return e.Evaluate(ctx, flow, direction, ruleSet)
}

// TestRuleSet evaluates a full rule set against a flow regardless of the
// global enable switch. Used by the dry-run API to answer "which rule would
// fire" without flipping enforcement on.
func (e *Engine) TestRuleSet(ctx context.Context, flow *domain.Flow, direction domain.Direction, ruleSet *domain.RuleSet) (*domain.MatchResult, error) {
	if ruleSet == nil {
		ruleSet = &domain.RuleSet{}
	}
	enabled := *ruleSet
	enabled.RulesEnabled = true
	return e.Evaluate(ctx, flow, direction, &enabled)
}
