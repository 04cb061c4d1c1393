package domain

import (
	"net/textproto"
	"strings"
	"time"
)

// Direction identifies which side of a flow a rule applies to.
type Direction string

const (
	// DirectionRequest applies a rule to the request side of a flow.
	DirectionRequest Direction = "request"
	// DirectionResponse applies a rule to the response side of a flow.
	DirectionResponse Direction = "response"
)

// Valid reports whether the direction is one of the known values.
func (d Direction) Valid() bool {
	return d == DirectionRequest || d == DirectionResponse
}

// Flow is one captured request/response pair passing through the proxy.
type Flow struct {
	ID        string    `json:"flow_id" yaml:"flow_id"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	Request  RequestData   `json:"request" yaml:"request"`
	Response *ResponseData `json:"response,omitempty" yaml:"response,omitempty"`

	IsLLMAPI   bool `json:"is_llm_api" yaml:"is_llm_api"`
	HasRefusal bool `json:"has_refusal,omitempty" yaml:"has_refusal,omitempty"`
	IsModified bool `json:"is_modified,omitempty" yaml:"is_modified,omitempty"`

	Streaming      bool `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	StreamComplete bool `json:"stream_complete,omitempty" yaml:"stream_complete,omitempty"`

	Hidden  bool `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Cleared bool `json:"cleared,omitempty" yaml:"cleared,omitempty"`

	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// RequestData holds the observable request fields of a flow.
type RequestData struct {
	Method  string              `json:"method" yaml:"method"`
	URL     string              `json:"url" yaml:"url"`
	Host    string              `json:"host" yaml:"host"`
	Port    int                 `json:"port,omitempty" yaml:"port,omitempty"`
	Path    string              `json:"path" yaml:"path"`
	Headers map[string][]string `json:"headers" yaml:"headers"`
	Body    string              `json:"content,omitempty" yaml:"content,omitempty"`
}

// ResponseData holds the observable response fields of a flow.
type ResponseData struct {
	StatusCode int                 `json:"status_code" yaml:"status_code"`
	Reason     string              `json:"reason,omitempty" yaml:"reason,omitempty"`
	Headers    map[string][]string `json:"headers" yaml:"headers"`
	Body       string              `json:"content,omitempty" yaml:"content,omitempty"`
}

// Clone returns a deep copy of the flow so that transformations never leak
// into the caller's copy. Preview and enforcement both transform clones.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}

	clone := *f
	clone.Request.Headers = cloneHeaders(f.Request.Headers)
	if f.Response != nil {
		resp := *f.Response
		resp.Headers = cloneHeaders(f.Response.Headers)
		clone.Response = &resp
	}
	if len(f.Tags) > 0 {
		clone.Tags = append([]string(nil), f.Tags...)
	}
	return &clone
}

// AddTags unions the given tags onto the flow's tag set. Duplicates collapse.
func (f *Flow) AddTags(tags ...string) {
	if len(tags) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(f.Tags)+len(tags))
	for _, t := range f.Tags {
		seen[t] = struct{}{}
	}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		f.Tags = append(f.Tags, t)
	}
}

// HeaderValue performs a case-insensitive lookup of a header and returns its
// first value. The second return reports whether the header was present.
func HeaderValue(headers map[string][]string, name string) (string, bool) {
	if headers == nil {
		return "", false
	}

	canonical := textproto.CanonicalMIMEHeaderKey(name)
	if values, ok := headers[canonical]; ok && len(values) > 0 {
		return values[0], true
	}

	for k, values := range headers {
		if strings.EqualFold(k, name) && len(values) > 0 {
			return values[0], true
		}
	}
	return "", false
}

// BodySize returns the byte length of the body on the given side, or -1 when
// that side is absent.
func (f *Flow) BodySize(direction Direction) int64 {
	switch direction {
	case DirectionRequest:
		return int64(len(f.Request.Body))
	case DirectionResponse:
		if f.Response == nil {
			return -1
		}
		return int64(len(f.Response.Body))
	}
	return -1
}

func cloneHeaders(headers map[string][]string) map[string][]string {
	if headers == nil {
		return nil
	}
	clone := make(map[string][]string, len(headers))
	for k, v := range headers {
		clone[k] = append([]string(nil), v...)
	}
	return clone
}
