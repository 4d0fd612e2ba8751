// Package validator checks consumed CloudEvents before they reach a timeline.
package validator

import (
	"fmt"

	"github.com/jittakal/kaftimeline/internal/errors"
	"github.com/jittakal/kaftimeline/pkg/event"
)

var _ event.Validator = (*SampleValidator)(nil)

// SampleValidator accepts CloudEvents 1.0 sample events that name their
// target timeline in the subject attribute.
type SampleValidator struct {
	types map[string]bool
}

// NewSampleValidator creates a validator accepting the given event types.
// With no types, only event.TypeSample is accepted.
func NewSampleValidator(types ...string) *SampleValidator {
	if len(types) == 0 {
		types = []string{event.TypeSample}
	}
	accepted := make(map[string]bool, len(types))
	for _, t := range types {
		accepted[t] = true
	}
	return &SampleValidator{types: accepted}
}

// Validate validates a CloudEvent. Spec version 0.1 is normalized to 1.0.
func (v *SampleValidator) Validate(e *event.CloudEvent) error {
	if e == nil {
		return &errors.ValidationError{Field: "event", Reason: "event is nil"}
	}

	required := []struct {
		field string
		value string
	}{
		{"id", e.ID},
		{"source", e.Source},
		{"specversion", e.SpecVersion},
		{"type", e.Type},
	}
	for _, r := range required {
		if r.value == "" {
			return &errors.ValidationError{
				EventID: e.ID,
				Field:   r.field,
				Reason:  "required field is missing",
			}
		}
	}

	if e.SpecVersion == "0.1" {
		e.SpecVersion = "1.0"
	}
	if e.SpecVersion != "1.0" {
		return &errors.ValidationError{
			EventID: e.ID,
			Field:   "specversion",
			Reason:  fmt.Sprintf("unsupported version: %s (supported: 1.0)", e.SpecVersion),
		}
	}

	if !v.types[e.Type] {
		return &errors.ValidationError{
			EventID: e.ID,
			Field:   "type",
			Reason:  fmt.Sprintf("unsupported event type: %s", e.Type),
		}
	}

	if e.Subject == nil || *e.Subject == "" {
		return &errors.ValidationError{
			EventID: e.ID,
			Field:   "subject",
			Reason:  "subject must name the target timeline",
		}
	}

	if len(e.Data) == 0 {
		return &errors.ValidationError{
			EventID: e.ID,
			Field:   "data",
			Reason:  "sample payload is missing",
		}
	}

	return nil
}
