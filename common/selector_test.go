package common

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torwell84/torwell-verify/common/js"
)

func strPtr(s string) *string { return &s }

func TestParseSelector(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		input   string
		want    Selector
		wantErr string
	}{
		{
			name:  "css",
			input: `button[aria-label="Open settings"]`,
			want:  Selector{Kind: SelectorCSS, CSS: `button[aria-label="Open settings"]`},
		},
		{
			name:  "css_prefix",
			input: `css=.tw-surface`,
			want:  Selector{Kind: SelectorCSS, CSS: `.tw-surface`},
		},
		{
			name:  "text",
			input: `text=Connectivity`,
			want:  Selector{Kind: SelectorText, Text: "Connectivity"},
		},
		{
			name:  "text_with_parens",
			input: `text=System-wide Routing (VPN Mode)`,
			want:  Selector{Kind: SelectorText, Text: "System-wide Routing (VPN Mode)"},
		},
		{
			name:  "text_exact",
			input: `text="Torwell.84"`,
			want:  Selector{Kind: SelectorText, Text: "Torwell.84", Exact: true},
		},
		{
			name:  "css_text",
			input: `h2:text("Settings")`,
			want:  Selector{Kind: SelectorCSSText, CSS: "h2", Text: "Settings"},
		},
		{
			name:  "bare_text_pseudo",
			input: `:text('Identity Control')`,
			want:  Selector{Kind: SelectorCSSText, CSS: "*", Text: "Identity Control"},
		},
		{
			name:  "role_name",
			input: `role=button[name="Disconnect"]`,
			want:  Selector{Kind: SelectorRole, Role: "button", Name: strPtr("Disconnect")},
		},
		{
			name:  "role_name_exact_suffix",
			input: `role=button[name="Disconnect"s]`,
			want:  Selector{Kind: SelectorRole, Role: "button", Name: strPtr("Disconnect"), Exact: true},
		},
		{
			name:  "role_name_with_bracket",
			input: `role=heading[name="a ] b"][exact]`,
			want:  Selector{Kind: SelectorRole, Role: "heading", Name: strPtr("a ] b"), Exact: true},
		},
		{
			name:  "role_only",
			input: `role=dialog`,
			want:  Selector{Kind: SelectorRole, Role: "dialog"},
		},
		{
			name:    "empty",
			input:   "  ",
			wantErr: "empty selector",
		},
		{
			name:    "empty_text",
			input:   "text=",
			wantErr: "empty text",
		},
		{
			name:    "role_unknown_attr",
			input:   `role=button[pressed]`,
			wantErr: `unsupported attribute "pressed"`,
		},
		{
			name:    "role_unterminated",
			input:   `role=button[name="x"`,
			wantErr: "unterminated attribute",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseSelector(tc.input)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			tc.want.raw = tc.input
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.input, got.String())
		})
	}
}

func TestSelectorJSON(t *testing.T) {
	t.Parallel()

	sel, err := ParseSelector(`role=button[name="Disconnect"]`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"role","role":"button","name":"Disconnect"}`, sel.JSON())
}

func TestSelectorEngineScriptCompiles(t *testing.T) {
	t.Parallel()

	_, err := goja.Compile("selector_engine.js", "("+js.SelectorEngineScript+")", false)
	require.NoError(t, err)
	_, err = goja.Compile("full_page_size.js", js.FullPageSizeScript, false)
	require.NoError(t, err)
}

func TestSelectorEngineWithoutDOM(t *testing.T) {
	t.Parallel()

	// A minimal document double: nothing matches, so every action reports
	// absence instead of failing.
	rt := goja.New()
	_, err := rt.RunString(`
		var document = {
			body: { querySelectorAll: function () { return []; } },
			querySelectorAll: function () { return []; },
			getElementById: function () { return null; },
		};
		var window = { getComputedStyle: function () { return { visibility: 'visible' }; } };
	`)
	require.NoError(t, err)

	for _, raw := range []string{`.tw-surface`, `text=CPU Load`, `h2:text("Settings")`, `role=button[name="Disconnect"]`} {
		sel, err := ParseSelector(raw)
		require.NoError(t, err)

		v, err := rt.RunString("(" + js.SelectorEngineScript + ")(" + sel.JSON() + ", 'visible')")
		require.NoError(t, err, raw)
		assert.False(t, v.ToBoolean(), raw)

		v, err = rt.RunString("(" + js.SelectorEngineScript + ")(" + sel.JSON() + ", 'center')")
		require.NoError(t, err, raw)
		assert.True(t, goja.IsNull(v), raw)
	}
}
