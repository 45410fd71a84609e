package models

import (
	"encoding/json"
	"fmt"
)

// Config keys shared between the palette, the variable registry and the run validation.
const (
	ConfigKeyMethod     = "method"
	ConfigKeyExtractors = "extractors"
	ConfigKeyAssertions = "assertions"
)

// Assertion sources and operators with special validation rules.
const (
	AssertionSourceStatus      = "status"
	AssertionOperatorExists    = "exists"
	AssertionOperatorNotExists = "notExists"
)

// HTTPRequestConfig is the typed view of an http-request node configuration.
type HTTPRequestConfig struct {
	Method        string            `json:"method"`
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers"`
	Body          any               `json:"body"`
	Cookies       map[string]string `json:"cookies"`
	QueryParams   map[string]string `json:"queryParams"`
	PathVariables map[string]string `json:"pathVariables"`
	Timeout       int               `json:"timeout"`
	// Extractors maps a variable name to the JSON path read from the response.
	Extractors map[string]string `json:"extractors,omitempty"`
}

// Assertion is a single check performed by an assertion node.
type Assertion struct {
	Source        string `json:"source"`
	Path          string `json:"path"`
	Operator      string `json:"operator"`
	ExpectedValue any    `json:"expectedValue"`
}

// NeedsPath reports whether the assertion reads a value that must be addressed by a path.
func (a Assertion) NeedsPath() bool {
	return a.Source != AssertionSourceStatus
}

// NeedsExpectedValue reports whether the operator compares against an expected value.
func (a Assertion) NeedsExpectedValue() bool {
	return a.Operator != AssertionOperatorExists && a.Operator != AssertionOperatorNotExists
}

// HasExpectedValue reports whether an expected value was entered.
func (a Assertion) HasExpectedValue() bool {
	switch v := a.ExpectedValue.(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}

// AssertionConfig is the typed view of an assertion node configuration.
type AssertionConfig struct {
	Assertions []Assertion `json:"assertions"`
}

// DelayConfig is the typed view of a delay node configuration.
type DelayConfig struct {
	Duration int `json:"duration"` // milliseconds
}

// MergeConfig is the typed view of a merge node configuration.
type MergeConfig struct {
	Strategy   string `json:"strategy"`
	Conditions []any  `json:"conditions"`
}

// Merge strategies.
const (
	MergeStrategyAll   = "all"
	MergeStrategyAny   = "any"
	MergeStrategyFirst = "first"
)

// DecodeConfig converts a loosely typed node configuration into one of the typed views.
func DecodeConfig(config map[string]any, out any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode node config: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode node config: %w", err)
	}

	return nil
}

// Extractors returns the extractor declarations of an http-request node, or nil for other types.
func (n *Node) Extractors() map[string]string {
	if n.Type != NodeTypeHTTPRequest || n.Data.Config == nil {
		return nil
	}

	switch raw := n.Data.Config[ConfigKeyExtractors].(type) {
	case map[string]string:
		return raw
	case map[string]any:
		extractors := make(map[string]string, len(raw))
		for name, path := range raw {
			if s, ok := path.(string); ok {
				extractors[name] = s
			}
		}

		return extractors
	default:
		return nil
	}
}
