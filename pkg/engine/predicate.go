package engine

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// regexCache memoizes compiled patterns so identical conditions do not
// recompile on every flow. Invalid patterns are cached as nil entries and
// evaluate to false forever after; compilation is never an error that
// escapes the evaluator.
type regexCache struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{compiled: make(map[string]*regexp.Regexp)}
}

func (c *regexCache) get(pattern string) *regexp.Regexp {
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

// matches evaluates a single text condition. regex matches fail closed: an
// invalid pattern evaluates to false rather than erroring.
func (c *regexCache) matches(actual string, matchType domain.MatchType, expected string) bool {
	switch matchType {
	case domain.MatchExact:
		return actual == expected
	case domain.MatchContains:
		return strings.Contains(actual, expected)
	case domain.MatchRegex:
		re := c.get(expected)
		if re == nil {
			return false
		}
		return re.MatchString(actual)
	default:
		return false
	}
}

// matchStatus evaluates a status-code condition. Malformed expressions fail
// closed to false.
func matchStatus(code int, matchType domain.StatusMatchType, expected string) bool {
	expected = strings.TrimSpace(expected)
	switch matchType {
	case domain.StatusExact:
		want, err := strconv.Atoi(expected)
		if err != nil {
			return false
		}
		return code == want
	case domain.StatusRange:
		return matchStatusRange(code, expected)
	case domain.StatusList:
		for _, part := range strings.Split(expected, ",") {
			want, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			if code == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// matchStatusRange accepts ">=NNN", "<=NNN", wildcard forms like "4xx" and
// explicit "NNN-NNN" ranges.
func matchStatusRange(code int, expr string) bool {
	switch {
	case strings.HasPrefix(expr, ">="):
		want, err := strconv.Atoi(strings.TrimSpace(expr[2:]))
		return err == nil && code >= want
	case strings.HasPrefix(expr, "<="):
		want, err := strconv.Atoi(strings.TrimSpace(expr[2:]))
		return err == nil && code <= want
	case strings.ContainsAny(expr, "xX"):
		return matchStatusWildcard(code, expr)
	case strings.Contains(expr, "-"):
		parts := strings.SplitN(expr, "-", 2)
		low, errLow := strconv.Atoi(strings.TrimSpace(parts[0]))
		high, errHigh := strconv.Atoi(strings.TrimSpace(parts[1]))
		return errLow == nil && errHigh == nil && code >= low && code <= high
	default:
		want, err := strconv.Atoi(expr)
		return err == nil && code == want
	}
}

// matchStatusWildcard compares digit-by-digit, treating 'x' as any digit.
func matchStatusWildcard(code int, pattern string) bool {
	actual := strconv.Itoa(code)
	if len(actual) != len(pattern) {
		return false
	}
	for i := 0; i < len(pattern); i++ {
		p := pattern[i]
		if p == 'x' || p == 'X' {
			continue
		}
		if p != actual[i] {
			return false
		}
	}
	return true
}

// matchSize compares a byte length against the threshold using the given
// relational operator. A negative size (absent side) never matches.
func matchSize(size int64, op domain.SizeOperator, threshold int64) bool {
	if size < 0 {
		return false
	}
	switch op {
	case domain.SizeGreater:
		return size > threshold
	case domain.SizeLess:
		return size < threshold
	case domain.SizeGreaterEqual:
		return size >= threshold
	case domain.SizeLessEqual:
		return size <= threshold
	default:
		return false
	}
}
