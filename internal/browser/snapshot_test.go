package browser

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const confirmationHTML = `<html><head><title>Declaration</title><script>var x = "Declaration saved";</script></head>
<body>
  <div class="banner">Declaration   saved.
     Reference: SAD-2024-00017</div>
  <div style="display:none">Validation failed</div>
  <!-- Reference: HIDDEN-1 -->
  <form>
    <label for="tin">Importer TIN</label><input id="tin" name="tin" type="text">
    <input type="hidden" name="__token" value="abc">
    <select name="carrier"><option value="FED">FedEx</option></select>
    <button id="save">Save</button>
  </form>
</body></html>`

func TestSnapshotVisibleText(t *testing.T) {
	s, err := NewSnapshot("https://portal.example/declarations/7/edit", confirmationHTML)
	require.NoError(t, err)

	assert.Equal(t, "Declaration", s.Title)
	assert.True(t, s.ContainsText("declaration saved"))
	assert.False(t, s.ContainsText("Validation failed"))
	assert.False(t, s.ContainsText("HIDDEN-1"))
	assert.False(t, s.ContainsText(""))

	ref, ok := s.Submatch(regexp.MustCompile(`Reference:\s*([A-Z0-9-]+)`))
	require.True(t, ok)
	assert.Equal(t, "SAD-2024-00017", ref)

	_, ok = s.Submatch(regexp.MustCompile(`Receipt (\d+)`))
	assert.False(t, ok)
}

func TestSnapshotElements(t *testing.T) {
	s, err := NewSnapshot("", confirmationHTML)
	require.NoError(t, err)

	require.Len(t, s.Elements, 3)
	assert.Equal(t, Element{Tag: "input", Type: "text", ID: "tin", Name: "tin", Label: "Importer TIN", Selector: "#tin"}, s.Elements[0])
	assert.Equal(t, `select[name="carrier"]`, s.Elements[1].Selector)
	assert.Equal(t, "Save", s.Elements[2].Text)

	summary := s.Summary(0)
	assert.Contains(t, summary, `selector=#tin label="Importer TIN"`)
	assert.NotContains(t, summary, "__token")
	assert.LessOrEqual(t, len(s.Summary(40)), 43)
}

func TestSnapshotMatches(t *testing.T) {
	s, err := NewSnapshot("", confirmationHTML)
	require.NoError(t, err)

	assert.True(t, s.Matches(".banner"))
	assert.False(t, s.Matches(".validation-summary-errors"))
	assert.False(t, s.Matches("xpath=//div"))
	assert.Contains(t, s.SelectorText(".banner"), "Reference: SAD-2024-00017")
}

func TestFakeSessionSelectorsAndDialogs(t *testing.T) {
	ctx := context.Background()
	f := NewFakeSession(map[string]*FakePage{
		"https://p/form": {
			HTML:   `<input name="rec1_CPC"><button id="save">Save</button>`,
			Clicks: map[string]string{"#save": "https://p/done"},
		},
		"https://p/done": {HTML: `<p>ok</p>`, Dialog: &Dialog{Type: "alert", Message: "Session expires soon"}},
	})

	require.NoError(t, f.Navigate(ctx, "https://p/form"))
	ok, err := f.Exists(ctx, "[name=rec1_CPC]")
	require.NoError(t, err)
	assert.True(t, ok)

	err = f.Fill(ctx, "#missing", "x")
	assert.True(t, errors.Is(err, ErrElementNotFound))

	require.NoError(t, f.Fill(ctx, "[name=rec1_CPC]", "4000000"))
	v, _ := f.Value("[name=rec1_CPC]")
	assert.Equal(t, "4000000", v)

	require.NoError(t, f.Click(ctx, "#save"))
	_, err = f.PageHTML(ctx)
	var de *DialogError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "Session expires soon", de.Dialog.Message)

	require.NoError(t, f.DismissDialog(ctx, false))
	html, err := f.PageHTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "ok")

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Navigate(ctx, "https://p/form"), ErrSessionClosed)
}

func TestCheckSelector(t *testing.T) {
	tests := []struct {
		selector string
		wantErr  bool
	}{
		{"#importerTin", false},
		{"select[name=carrier]", false},
		{"input#a, input#b", false},
		{"xpath=//input[@name='tin']", false},
		{"#a[", true},
		{"button[[", true},
		{"xpath=", true},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			err := CheckSelector(tt.selector)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	f := NewFakeSession(map[string]*FakePage{"https://p/form": {HTML: `<input id="a">`}})
	require.NoError(t, f.Navigate(context.Background(), "https://p/form"))
	_, err := f.Exists(context.Background(), "#a[")
	assert.ErrorContains(t, err, "invalid selector")
}
