package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		desc  string
		input string
		want  string
	}{
		{"identity", "", "A.B", "A.B"},
		{"remove dots", "remove_dots", "8471.30.00", "84713000"},
		{"remove spaces", "remove_spaces", " GB 123 456 ", "GB123456"},
		{"strip punctuation", "strip_punctuation", "ACME, Inc. (UK)", "ACME Inc UK"},
		{"digits only", "digits_only", "TIN-00-123", "00123"},
		{"upper", "upper", "fedex", "FEDEX"},
		{"lower", "lower", "FedEx", "fedex"},
		{"trim", "trim", "  x  ", "x"},
		{"iso date to local pattern", "date_format:DD/MM/YYYY", "2024-03-09", "09/03/2024"},
		{"rfc3339 to compact", "date_format:YYYYMMDD", "2024-03-09T10:11:12Z", "20240309"},
		{"decimal", "decimal:2", "1,234.5", "1234.50"},
		{"chain", "trim|remove_dots|upper", " ab.cd ", "ABCD"},
		{"empty passes through", "date_format:DD/MM/YYYY", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := Parse(tt.desc)
			require.NoError(t, err)
			got, err := chain.Apply(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	for _, desc := range []string{"rot13", "decimal:x", "decimal:-1", "date_format:", "upper:1"} {
		_, err := Parse(desc)
		assert.Error(t, err, desc)
	}
}

func TestApplyReportsBadInput(t *testing.T) {
	chain, err := Parse("date_format:DD/MM/YYYY")
	require.NoError(t, err)
	_, err = chain.Apply("next tuesday")
	assert.ErrorContains(t, err, "unrecognised date")

	chain, err = Parse("decimal:2")
	require.NoError(t, err)
	_, err = chain.Apply("abc")
	assert.Error(t, err)
}
