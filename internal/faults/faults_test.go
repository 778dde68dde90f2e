package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"classified", New(SelectorNotFound, "gone"), SelectorNotFound},
		{"wrapped classified", fmt.Errorf("step fill: %w", New(AmbiguousOutcome, "?")), AmbiguousOutcome},
		{"missing fields", &MissingFieldsError{Fields: []MissingField{{Page: "p", Field: "f"}}}, MissingRequiredValue},
		{"context cancelled", fmt.Errorf("run: %w", context.Canceled), Cancelled},
		{"plain", errors.New("boom"), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(New(SelectorNotFound, "")))
	assert.True(t, Recoverable(New(AmbiguousOutcome, "")))
	assert.True(t, Recoverable(New(UnexpectedDialog, "")))
	assert.False(t, Recoverable(New(SessionError, "")))
	assert.False(t, Recoverable(New(PortalRejected, "")))
	assert.False(t, Recoverable(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Kind:      SelectorNotFound,
		Page:      "entry",
		Field:     "Carrier",
		Selectors: []string{"#a", "#b"},
	}
	assert.Equal(t, `selector_not_found on page "entry" field "Carrier" (tried #a, #b)`, err.Error())

	inner := errors.New("net::ERR_CONNECTION_RESET")
	wrapped := Wrap(SessionError, inner, "navigate")
	assert.ErrorIs(t, wrapped, inner)
	assert.Nil(t, Wrap(SessionError, nil, "x"))
}

func TestMissingFieldsError(t *testing.T) {
	err := &MissingFieldsError{Fields: []MissingField{
		{Page: "entry", Field: "Importer"},
		{Page: "entry", Field: "CPC", Line: 2},
	}}
	assert.Equal(t, "missing_required_value: 2 required field(s) unresolved: entry/Importer, entry/CPC[line 2]", err.Error())
}
