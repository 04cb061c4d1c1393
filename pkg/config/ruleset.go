package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// LoadRuleSet reads a rule set from a YAML or JSON file. Action payloads are
// validated during decode; a file that parses but carries an action with a
// missing payload is rejected as a whole so a broken deploy never half-loads.
func LoadRuleSet(path string) (*domain.RuleSet, error) {
	// #nosec G304 -- Rule file path is configured at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes a rule set from raw bytes, trying YAML first and
// falling back to JSON.
func ParseRuleSet(data []byte) (*domain.RuleSet, error) {
	var rs domain.RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		if jsonErr := json.Unmarshal(data, &rs); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse rule file: %w", err)
		}
	}

	if err := validateRuleSet(&rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

func validateRuleSet(rs *domain.RuleSet) error {
	seen := make(map[string]struct{}, len(rs.Rules))
	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if rule.ID == "" {
			return fmt.Errorf("rule %d: %w: id is required", i, domain.ErrConfigInvalid)
		}
		if _, dup := seen[rule.ID]; dup {
			return fmt.Errorf("rule %d: %w: duplicate id %q", i, domain.ErrConfigInvalid, rule.ID)
		}
		seen[rule.ID] = struct{}{}

		if !rule.Direction.Valid() {
			return fmt.Errorf("rule %q: %w: invalid direction %q", rule.ID, domain.ErrConfigInvalid, rule.Direction)
		}
		if rule.Action.Type == "" {
			return fmt.Errorf("rule %q: %w: action type is required", rule.ID, domain.ErrConfigInvalid)
		}
	}
	return nil
}
