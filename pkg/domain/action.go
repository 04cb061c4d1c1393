package domain

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ActionType tags an action descriptor.
type ActionType string

const (
	// ActionPassthrough forwards the flow unchanged.
	ActionPassthrough ActionType = "passthrough"
	// ActionIntercept hands the flow to the manual-review queue.
	ActionIntercept ActionType = "intercept"
	// ActionDrop discards the flow; no response reaches the caller.
	ActionDrop ActionType = "drop"
	// ActionServeFromStore replaces the flow content with a stored artifact.
	ActionServeFromStore ActionType = "serve_from_store"
	// ActionModifyStatic rewrites body and headers deterministically.
	ActionModifyStatic ActionType = "modify_static"
	// ActionModifyLLM delegates content generation to the LLM collaborator.
	ActionModifyLLM ActionType = "modify_llm"
	// ActionAutoHide marks the flow hidden without content changes.
	ActionAutoHide ActionType = "auto_hide"
	// ActionAutoClear marks the flow for retention clearing.
	ActionAutoClear ActionType = "auto_clear"
)

// StoreKeyMode selects how serve_from_store picks among multiple keys.
type StoreKeyMode string

const (
	// KeyModeSingle always serves the single configured key.
	KeyModeSingle StoreKeyMode = "single"
	// KeyModeRoundRobin advances the cursor and wraps indefinitely.
	KeyModeRoundRobin StoreKeyMode = "round_robin"
	// KeyModeRandom samples a key uniformly per evaluation.
	KeyModeRandom StoreKeyMode = "random"
	// KeyModeSequential advances the cursor and clamps at the last key.
	KeyModeSequential StoreKeyMode = "sequential"
)

// MergeMode controls how stored request headers combine with incoming ones.
type MergeMode string

const (
	// MergeHeaders overwrites same-named incoming headers with stored ones
	// and leaves the rest untouched.
	MergeHeaders MergeMode = "merge"
	// ReplaceHeaders discards incoming headers entirely.
	ReplaceHeaders MergeMode = "replace"
)

// LLMContext controls how much of the flow is sent to the LLM collaborator.
type LLMContext string

const (
	ContextNone        LLMContext = "none"
	ContextURLOnly     LLMContext = "url_only"
	ContextBodyOnly    LLMContext = "body_only"
	ContextHeadersOnly LLMContext = "headers_only"
	ContextFull        LLMContext = "full"
)

// GenerationMode controls caching of LLM-generated content.
type GenerationMode string

const (
	// GenerateLive calls the collaborator on every match.
	GenerateLive GenerationMode = "generate_live"
	// GenerateOnce calls the collaborator only for the first match per
	// cache key and serves the persisted artifact afterwards.
	GenerateOnce GenerationMode = "generate_once"
)

// Action is the tagged action descriptor attached to a rule. Payload carries
// the type-specific configuration; it is nil for payload-less action types,
// which keeps illegal combinations (a store key on a static modification,
// say) unrepresentable.
type Action struct {
	Type    ActionType    `json:"type" yaml:"type"`
	Tags    []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
	Payload ActionPayload `json:"-" yaml:"-"`
}

// ActionPayload is implemented by the per-type action configurations.
type ActionPayload interface {
	isActionPayload()
}

// ServeFromStoreConfig configures the serve_from_store action.
type ServeFromStoreConfig struct {
	StoreKey         string       `json:"store_key,omitempty" yaml:"store_key,omitempty"`
	StoreKeys        []string     `json:"store_keys,omitempty" yaml:"store_keys,omitempty"`
	StoreKeyMode     StoreKeyMode `json:"store_key_mode,omitempty" yaml:"store_key_mode,omitempty"`
	RequestMergeMode MergeMode    `json:"request_merge_mode,omitempty" yaml:"request_merge_mode,omitempty"`
}

func (*ServeFromStoreConfig) isActionPayload() {}

// Keys returns the key list the configured mode selects from.
func (c *ServeFromStoreConfig) Keys() []string {
	if c.StoreKeyMode == "" || c.StoreKeyMode == KeyModeSingle {
		if c.StoreKey == "" {
			return nil
		}
		return []string{c.StoreKey}
	}
	return c.StoreKeys
}

// FindReplace is one body or header-value substitution entry.
type FindReplace struct {
	Find    string `json:"find" yaml:"find"`
	Replace string `json:"replace" yaml:"replace"`
	Regex   bool   `json:"regex,omitempty" yaml:"regex,omitempty"`
	// ReplaceAll defaults to true when absent: all occurrences.
	ReplaceAll *bool `json:"replace_all,omitempty" yaml:"replace_all,omitempty"`
}

// AllOccurrences reports whether the entry touches every occurrence.
func (f FindReplace) AllOccurrences() bool {
	return f.ReplaceAll == nil || *f.ReplaceAll
}

// HeaderOp names a header modification operation.
type HeaderOp string

const (
	// HeaderSet inserts or overwrites the named header.
	HeaderSet HeaderOp = "set"
	// HeaderRemove deletes the header and any case-insensitive duplicates.
	HeaderRemove HeaderOp = "remove"
	// HeaderFindReplace rewrites the header's value in place.
	HeaderFindReplace HeaderOp = "find_replace"
)

// HeaderModification is one entry of the header pipeline.
type HeaderModification struct {
	Op         HeaderOp `json:"op" yaml:"op"`
	Key        string   `json:"key" yaml:"key"`
	Value      string   `json:"value,omitempty" yaml:"value,omitempty"`
	Find       string   `json:"find,omitempty" yaml:"find,omitempty"`
	Replace    string   `json:"replace,omitempty" yaml:"replace,omitempty"`
	Regex      bool     `json:"regex,omitempty" yaml:"regex,omitempty"`
	ReplaceAll *bool    `json:"replace_all,omitempty" yaml:"replace_all,omitempty"`
}

// AllOccurrences reports whether a find_replace entry touches every occurrence.
func (h HeaderModification) AllOccurrences() bool {
	return h.ReplaceAll == nil || *h.ReplaceAll
}

// StaticModificationConfig configures the modify_static action.
type StaticModificationConfig struct {
	// ReplaceBody, when non-empty, becomes the entire body and the
	// find/replace pipeline is skipped.
	ReplaceBody         string               `json:"replace_body,omitempty" yaml:"replace_body,omitempty"`
	FindReplace         []FindReplace        `json:"find_replace,omitempty" yaml:"find_replace,omitempty"`
	HeaderModifications []HeaderModification `json:"header_modifications,omitempty" yaml:"header_modifications,omitempty"`
	// AllowIntercept routes the modified flow into manual review instead
	// of auto-forwarding.
	AllowIntercept bool `json:"allow_intercept,omitempty" yaml:"allow_intercept,omitempty"`
}

func (*StaticModificationConfig) isActionPayload() {}

// LLMModificationConfig configures the modify_llm action.
type LLMModificationConfig struct {
	Prompt         string         `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Context        LLMContext     `json:"context,omitempty" yaml:"context,omitempty"`
	GenerationMode GenerationMode `json:"generation_mode,omitempty" yaml:"generation_mode,omitempty"`
	// CacheKey scopes generate_once caching; auto-derived when blank.
	CacheKey string `json:"cache_key,omitempty" yaml:"cache_key,omitempty"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
}

func (*LLMModificationConfig) isActionPayload() {}

// actionEnvelope is the wire shape shared by JSON and YAML decoding. The
// payload object key depends on the action type.
type actionEnvelope struct {
	Type               ActionType                `json:"type" yaml:"type"`
	Tags               []string                  `json:"tags" yaml:"tags"`
	ServeFromStore     *ServeFromStoreConfig     `json:"serve_from_store,omitempty" yaml:"serve_from_store,omitempty"`
	StaticModification *StaticModificationConfig `json:"static_modification,omitempty" yaml:"static_modification,omitempty"`
	LLMModification    *LLMModificationConfig    `json:"llm_modification,omitempty" yaml:"llm_modification,omitempty"`
}

func (a *Action) fromEnvelope(env actionEnvelope) error {
	a.Type = env.Type
	a.Tags = env.Tags
	a.Payload = nil

	switch env.Type {
	case ActionPassthrough, ActionIntercept, ActionDrop, ActionAutoHide, ActionAutoClear:
		// No payload.
	case ActionServeFromStore:
		if env.ServeFromStore == nil {
			return fmt.Errorf("action %q requires serve_from_store configuration", env.Type)
		}
		a.Payload = env.ServeFromStore
	case ActionModifyStatic:
		if env.StaticModification == nil {
			return fmt.Errorf("action %q requires static_modification configuration", env.Type)
		}
		a.Payload = env.StaticModification
	case ActionModifyLLM:
		if env.LLMModification == nil {
			return fmt.Errorf("action %q requires llm_modification configuration", env.Type)
		}
		a.Payload = env.LLMModification
	case "":
		return fmt.Errorf("action is missing a type tag")
	default:
		return fmt.Errorf("unknown action type %q", env.Type)
	}
	return nil
}

func (a Action) toEnvelope() actionEnvelope {
	env := actionEnvelope{Type: a.Type, Tags: a.Tags}
	switch payload := a.Payload.(type) {
	case *ServeFromStoreConfig:
		env.ServeFromStore = payload
	case *StaticModificationConfig:
		env.StaticModification = payload
	case *LLMModificationConfig:
		env.LLMModification = payload
	}
	return env
}

// UnmarshalJSON decodes the tagged action representation.
func (a *Action) UnmarshalJSON(data []byte) error {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	return a.fromEnvelope(env)
}

// MarshalJSON encodes the tagged action representation.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.toEnvelope())
}

// UnmarshalYAML decodes the tagged action representation.
func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	var env actionEnvelope
	if err := node.Decode(&env); err != nil {
		return err
	}
	return a.fromEnvelope(env)
}

// MarshalYAML encodes the tagged action representation.
func (a Action) MarshalYAML() (interface{}, error) {
	return a.toEnvelope(), nil
}

// Store returns the serve_from_store payload, or nil for other types.
func (a Action) Store() *ServeFromStoreConfig {
	payload, _ := a.Payload.(*ServeFromStoreConfig)
	return payload
}

// Static returns the modify_static payload, or nil for other types.
func (a Action) Static() *StaticModificationConfig {
	payload, _ := a.Payload.(*StaticModificationConfig)
	return payload
}

// LLM returns the modify_llm payload, or nil for other types.
func (a Action) LLM() *LLMModificationConfig {
	payload, _ := a.Payload.(*LLMModificationConfig)
	return payload
}
