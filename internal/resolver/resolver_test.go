package resolver

import (
	"testing"

	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBundle() Bundle {
	return Bundle{
		"declaration": map[string]interface{}{
			"reference": "DEC-2024-001",
			"date":      "2024-03-09",
			"consignee": map[string]interface{}{"tin": "gb 123 456 789", "name": "Acme Imports"},
			"fob_value": 1234.5,
			"insured":   true,
			"packages":  12,
			"blank":     "   ",
		},
		"items": []interface{}{
			map[string]interface{}{"cpc": "4000000", "hs": "8471.30.00"},
			map[string]interface{}{"cpc": "4000001", "hs": "8517.12.00"},
		},
	}
}

func TestResolveStaticAlwaysWins(t *testing.T) {
	m := target.FieldMapping{Label: "Procedure", StaticValue: "C400", LocalField: "item.customs_code"}

	bundles := []Bundle{
		{"item": map[string]interface{}{"customs_code": "X999"}},
		{},
		nil,
	}
	for _, b := range bundles {
		v, err := Resolve(m, b)
		require.NoError(t, err)
		assert.Equal(t, "C400", v.Text)
		assert.Equal(t, SourceStatic, v.Source)
	}

	m.Default = "D111"
	v, err := Resolve(m, Bundle{"item": map[string]interface{}{"customs_code": "X999"}})
	require.NoError(t, err)
	assert.Equal(t, "C400", v.Text)
}

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name    string
		mapping target.FieldMapping
		want    string
		source  Source
	}{
		{"local string", target.FieldMapping{LocalField: "declaration.reference"}, "DEC-2024-001", SourceLocal},
		{"local nested", target.FieldMapping{LocalField: "declaration.consignee.name"}, "Acme Imports", SourceLocal},
		{"local float", target.FieldMapping{LocalField: "declaration.fob_value"}, "1234.5", SourceLocal},
		{"local int", target.FieldMapping{LocalField: "declaration.packages"}, "12", SourceLocal},
		{"local bool", target.FieldMapping{LocalField: "declaration.insured"}, "true", SourceLocal},
		{"list index", target.FieldMapping{LocalField: "items.1.cpc"}, "4000001", SourceLocal},
		{"missing path uses default", target.FieldMapping{LocalField: "declaration.nope", Default: "N/A"}, "N/A", SourceDefault},
		{"blank value uses default", target.FieldMapping{LocalField: "declaration.blank", Default: "N/A"}, "N/A", SourceDefault},
		{"non scalar uses default", target.FieldMapping{LocalField: "declaration.consignee", Default: "N/A"}, "N/A", SourceDefault},
		{"constant default", target.FieldMapping{Default: "GB"}, "GB", SourceDefault},
		{"unresolved optional", target.FieldMapping{LocalField: "declaration.nope"}, "", SourceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mapping.Label = tt.name
			v, err := Resolve(tt.mapping, sampleBundle())
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Text)
			assert.Equal(t, tt.source, v.Source)
		})
	}
}

func TestResolveTransformThenTruncate(t *testing.T) {
	m := target.FieldMapping{
		Label:      "Importer TIN",
		LocalField: "declaration.consignee.tin",
		Transform:  "remove_spaces|upper",
		MaxLength:  8,
	}
	v, err := Resolve(m, sampleBundle())
	require.NoError(t, err)
	assert.Equal(t, "GB123456", v.Text)
	assert.True(t, v.Truncated)

	date := target.FieldMapping{Label: "Date", LocalField: "declaration.date", Transform: "date_format:DD/MM/YYYY"}
	v, err = Resolve(date, sampleBundle())
	require.NoError(t, err)
	assert.Equal(t, "09/03/2024", v.Text)
}

func TestResolveTruncatesRunes(t *testing.T) {
	m := target.FieldMapping{Label: "Name", StaticValue: "Zürich Straße", MaxLength: 6}
	v, err := Resolve(m, nil)
	require.NoError(t, err)
	assert.Equal(t, "Zürich", v.Text)
}

func TestResolveMissingRequired(t *testing.T) {
	m := target.FieldMapping{Label: "Importer", LocalField: "declaration.importer.tin", Required: true}
	_, err := Resolve(m, sampleBundle())
	require.Error(t, err)
	assert.Equal(t, faults.MissingRequiredValue, faults.KindOf(err))
	assert.Contains(t, err.Error(), `field "Importer"`)
}

func TestResolveBadValueForTransform(t *testing.T) {
	m := target.FieldMapping{Label: "Date", LocalField: "declaration.reference", Transform: "date_format:DD/MM/YYYY"}
	_, err := Resolve(m, sampleBundle())
	assert.Equal(t, faults.InvalidValue, faults.KindOf(err))
}

func TestBundleForLine(t *testing.T) {
	b := sampleBundle()
	items := b.Items()
	require.Len(t, items, 2)

	line := b.ForLine(2, items[1])
	v, err := Resolve(target.FieldMapping{LocalField: "item.cpc"}, line)
	require.NoError(t, err)
	assert.Equal(t, "4000001", v.Text)

	v, err = Resolve(target.FieldMapping{LocalField: "line"}, line)
	require.NoError(t, err)
	assert.Equal(t, "2", v.Text)

	_, hasItem := b["item"]
	assert.False(t, hasItem, "original bundle is untouched")
}

func TestValueBool(t *testing.T) {
	for _, s := range []string{"true", "YES", "1", "x", "on"} {
		assert.True(t, Value{Text: s}.Bool(), s)
	}
	for _, s := range []string{"", "false", "no", "0"} {
		assert.False(t, Value{Text: s}.Bool(), s)
	}
}
