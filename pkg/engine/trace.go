package engine

import "fmt"

// traceLog accumulates the ordered explanation of an evaluation. The same
// recorder backs enforcement and preview, so both produce identical traces.
type traceLog struct {
	lines []string
}

func (t *traceLog) addf(format string, args ...any) {
	if t == nil {
		return
	}
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}

func verdict(matched bool) string {
	if matched {
		return "matched"
	}
	return "did not match"
}
