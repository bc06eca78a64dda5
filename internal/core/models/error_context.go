// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// Well-known attribute keys for the kind-specific attribute bag
const (
	AttrHTTPStatus     = "http.status"
	AttrHTTPMethod     = "http.method"
	AttrHTTPURL        = "http.url"
	AttrDBSystem       = "db.system"
	AttrDBOperation    = "db.operation"
	AttrDBTable        = "db.table"
	AttrNetworkPeer    = "net.peer"
	AttrResourceName   = "resource.name"
	AttrResourceLimit  = "resource.limit"
	AttrConfigKey      = "config.key"
	AttrConfigSource   = "config.source"
	AttrExceptionClass = "exception.class"
)

// ErrorContext describes a detected runtime error. Kind selects which
// attributes are meaningful; all kinds share the same fields.
type ErrorContext struct {
	ErrorID       string            `json:"error_id" yaml:"error_id"`
	Kind          ErrorKind         `json:"kind" yaml:"kind"`
	Component     string            `json:"component,omitempty" yaml:"component,omitempty"`
	Severity      Severity          `json:"severity,omitempty" yaml:"severity,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	Message       string            `json:"message,omitempty" yaml:"message,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at,omitempty" yaml:"occurred_at,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// NewErrorContext creates an error context of the given kind
func NewErrorContext(errorID string, kind ErrorKind, component string, severity Severity) ErrorContext {
	return ErrorContext{
		ErrorID:    errorID,
		Kind:       kind,
		Component:  component,
		Severity:   severity,
		Attributes: make(map[string]string),
	}
}

// WithAttribute returns a copy of the context with key set to value
func (c ErrorContext) WithAttribute(key, value string) ErrorContext {
	attrs := make(map[string]string, len(c.Attributes)+1)
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	c.Attributes = attrs
	return c
}

// Attribute looks up a kind-specific attribute
func (c ErrorContext) Attribute(key string) (string, bool) {
	v, ok := c.Attributes[key]
	return v, ok
}

// Data flattens the context into a map usable by templates and CEL expressions
func (c ErrorContext) Data() map[string]interface{} {
	attrs := make(map[string]interface{}, len(c.Attributes))
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	kind := c.Kind
	if kind == "" {
		kind = ErrorKindGeneric
	}
	return map[string]interface{}{
		"error_id":       c.ErrorID,
		"kind":           string(kind),
		"component":      c.Component,
		"severity":       string(c.Severity),
		"correlation_id": c.CorrelationID,
		"message":        c.Message,
		"attributes":     attrs,
	}
}

// ErrorAnalysisResult is produced by the upstream analysis collaborator and
// consumed to build a RemediationPlan.
type ErrorAnalysisResult struct {
	ErrorID          string              `json:"error_id" yaml:"error_id"`
	Category         string              `json:"category,omitempty" yaml:"category,omitempty"`
	RootCause        string              `json:"root_cause,omitempty" yaml:"root_cause,omitempty"`
	Severity         Severity            `json:"severity,omitempty" yaml:"severity,omitempty"`
	Scope            ImpactScope         `json:"scope,omitempty" yaml:"scope,omitempty"`
	Confidence       float64             `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Probability      float64             `json:"probability,omitempty" yaml:"probability,omitempty"`
	Impact           float64             `json:"impact,omitempty" yaml:"impact,omitempty"`
	RequiresApproval bool                `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
	CandidateActions []RemediationAction `json:"candidate_actions" yaml:"candidate_actions"`
}

// AnalysisInput bundles the two analysis artefacts, mainly for file based input
type AnalysisInput struct {
	Context  ErrorContext        `json:"context" yaml:"context"`
	Analysis ErrorAnalysisResult `json:"analysis" yaml:"analysis"`
}
