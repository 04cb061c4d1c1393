package actions

import (
	"regexp"
	"strings"
	"sync"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// patternCache memoizes find/replace pattern compilation. Invalid patterns
// cache as nil and make their entry a no-op; a bad pattern never aborts the
// pipeline.
type patternCache struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

func newPatternCache() *patternCache {
	return &patternCache{compiled: make(map[string]*regexp.Regexp)}
}

func (c *patternCache) get(pattern string) *regexp.Regexp {
	c.mu.RLock()
	re, ok := c.compiled[pattern]
	c.mu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}

	c.mu.Lock()
	c.compiled[pattern] = re
	c.mu.Unlock()
	return re
}

// applyModifyStatic runs the deterministic body and header pipelines.
func (t *Transformer) applyModifyStatic(rule *domain.Rule, direction domain.Direction, flow *domain.Flow) Outcome {
	cfg := rule.Action.Static()
	outcome := forward()
	if cfg == nil {
		outcome.warnf("rule %q: modify_static action has no configuration", rule.ID)
		return outcome
	}

	if body := sideBody(flow, direction); body != nil {
		modified := t.applyBodyPipeline(cfg, body)
		outcome.BodyModified = modified
	}

	headers := sideHeaders(flow, direction)
	if headers != nil && len(cfg.HeaderModifications) > 0 {
		outcome.HeadersModified = t.applyHeaderPipeline(cfg.HeaderModifications, headers)
	}

	if cfg.AllowIntercept {
		outcome.Disposition = domain.DispositionHold
	}
	return outcome
}

// applyBodyPipeline applies the body rules in order: a non-empty
// replace_body wins outright and skips find/replace entirely; otherwise
// each find_replace entry applies in array order.
func (t *Transformer) applyBodyPipeline(cfg *domain.StaticModificationConfig, body *string) bool {
	if cfg.ReplaceBody != "" {
		changed := *body != cfg.ReplaceBody
		*body = cfg.ReplaceBody
		return changed
	}

	modified := false
	for _, entry := range cfg.FindReplace {
		next := t.substitute(*body, entry.Find, entry.Replace, entry.Regex, entry.AllOccurrences())
		if next != *body {
			*body = next
			modified = true
		}
	}
	return modified
}

// substitute performs one literal or regex substitution. Invalid regex
// entries are no-ops.
func (t *Transformer) substitute(text, find, replace string, isRegex, all bool) string {
	if find == "" {
		return text
	}

	if !isRegex {
		if all {
			return strings.ReplaceAll(text, find, replace)
		}
		return strings.Replace(text, find, replace, 1)
	}

	re := t.patterns.get(find)
	if re == nil {
		return text
	}
	if all {
		return re.ReplaceAllString(text, replace)
	}
	return replaceFirstRegex(re, text, replace)
}

// replaceFirstRegex rewrites only the first regex match, expanding $1-style
// references the same way ReplaceAllString does.
func replaceFirstRegex(re *regexp.Regexp, text, replace string) string {
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return text
	}
	expanded := re.ExpandString(nil, replace, text, loc)
	return text[:loc[0]] + string(expanded) + text[loc[1]:]
}

// applyHeaderPipeline applies header modifications in array order,
// independently of the body pipeline.
func (t *Transformer) applyHeaderPipeline(mods []domain.HeaderModification, headers map[string][]string) bool {
	modified := false
	for _, mod := range mods {
		switch mod.Op {
		case domain.HeaderSet:
			if mod.Key == "" {
				continue
			}
			// The key is stored with the rule's casing, untouched.
			headers[mod.Key] = []string{mod.Value}
			modified = true
		case domain.HeaderRemove:
			for name := range headers {
				if strings.EqualFold(name, mod.Key) {
					delete(headers, name)
					modified = true
				}
			}
		case domain.HeaderFindReplace:
			for name, values := range headers {
				if !strings.EqualFold(name, mod.Key) {
					continue
				}
				for i, value := range values {
					next := t.substitute(value, mod.Find, mod.Replace, mod.Regex, mod.AllOccurrences())
					if next != value {
						values[i] = next
						modified = true
					}
				}
				headers[name] = values
			}
		}
	}
	return modified
}
