package matcher

import (
	"testing"

	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func carrierMapping() target.FieldMapping {
	return target.FieldMapping{
		Label: "Carrier",
		Kind:  target.KindSelect,
		Options: []target.DropdownValue{
			{Value: "OTH", Label: "Other", Default: true, SortOrder: 99},
			{Value: "DHL", Label: "DHL Express", Internal: "courier_dhl", Matches: []string{"DHL"}, SortOrder: 2},
			{Value: "FED", Label: "FedEx", Matches: []string{"FedEx", "FED", "Federal Express"}, SortOrder: 1},
		},
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		code   string
		reason Reason
	}{
		{"exact alias", "Federal Express", "FED", ReasonAlias},
		{"case and whitespace", "  FEDERAL express ", "FED", ReasonAlias},
		{"contained by alias", "fed", "FED", ReasonAlias},
		{"first option in sort order wins", "express", "FED", ReasonAlias},
		{"internal equivalent", "COURIER_DHL", "DHL", ReasonInternal},
		{"falls back to default", "Unknown Courier XYZ", "OTH", ReasonDefault},
		{"empty value uses default", "", "OTH", ReasonDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Match(carrierMapping(), tt.value)
			assert.Equal(t, tt.code, r.Code)
			assert.Equal(t, tt.reason, r.Reason)
		})
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	m := carrierMapping()
	first := Match(m, "fed")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Match(m, "fed"))
	}
}

func TestMatchEqualSortOrderKeepsConfigurationOrder(t *testing.T) {
	m := target.FieldMapping{
		Label: "Mode",
		Kind:  target.KindSelect,
		Options: []target.DropdownValue{
			{Value: "SEA", Matches: []string{"sea freight"}},
			{Value: "SEA2", Matches: []string{"sea"}},
		},
	}
	assert.Equal(t, "SEA", Match(m, "sea").Code)

	m.Options[0], m.Options[1] = m.Options[1], m.Options[0]
	assert.Equal(t, "SEA2", Match(m, "sea").Code)
}

func TestMatchUnicodeFolding(t *testing.T) {
	m := target.FieldMapping{
		Label:   "Office",
		Kind:    target.KindSelect,
		Options: []target.DropdownValue{{Value: "STR", Matches: []string{"Straße"}}},
	}
	r := Match(m, "STRASSE")
	assert.Equal(t, "STR", r.Code)
}

func TestMatchFuzzyOptIn(t *testing.T) {
	m := carrierMapping()

	r := Match(m, "fdrl")
	assert.Equal(t, ReasonDefault, r.Reason)

	m.Fuzzy = true
	r = Match(m, "fdrl")
	assert.Equal(t, "FED", r.Code)
	assert.Equal(t, ReasonFuzzy, r.Reason)
	assert.Equal(t, "Federal Express", r.Matched)
}

func TestMatchUnmapped(t *testing.T) {
	m := carrierMapping()
	m.Options = m.Options[1:]

	r := Match(m, "Unknown Courier XYZ")
	assert.True(t, r.Unmapped())
	assert.Empty(t, r.Code)
	assert.Contains(t, r.Explain("Unknown Courier XYZ"), "no default")
}

func TestCheck(t *testing.T) {
	m := carrierMapping()
	m.Options = m.Options[1:]

	r, err := Check(m, "DHL")
	require.NoError(t, err)
	assert.Equal(t, "DHL", r.Code)

	_, err = Check(m, "pigeon")
	require.Error(t, err)
	assert.Equal(t, faults.UnmappedDropdownValue, faults.KindOf(err))

	m.Required = true
	_, err = Check(m, "pigeon")
	assert.Equal(t, faults.MissingRequiredValue, faults.KindOf(err))
}

func TestExplain(t *testing.T) {
	r := Match(carrierMapping(), "FedEx")
	assert.Equal(t, `"FedEx" matched option FED via alias "FedEx"`, r.Explain("FedEx"))

	r = Match(carrierMapping(), "pigeon")
	assert.Contains(t, r.Explain("pigeon"), "default option OTH")
}
