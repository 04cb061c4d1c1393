package domain

import "time"

// ArtifactMetadata describes when and why a stored artifact was captured.
type ArtifactMetadata struct {
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// StoredArtifact is a previously captured or manually authored
// request/response usable as a mock. Response artifacts carry a status code;
// request artifacts carry method and URL.
type StoredArtifact struct {
	Metadata ArtifactMetadata    `json:"metadata" yaml:"metadata"`
	Headers  map[string][]string `json:"headers" yaml:"headers"`
	Body     string              `json:"body" yaml:"body"`

	StatusCode int    `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Method     string `json:"method,omitempty" yaml:"method,omitempty"`
	URL        string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Clone returns a deep copy so stored artifacts are never mutated by callers
// applying them to flows.
func (a *StoredArtifact) Clone() *StoredArtifact {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Headers = cloneHeaders(a.Headers)
	return &clone
}
