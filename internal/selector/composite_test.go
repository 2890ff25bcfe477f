package selector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-replay/internal/selector"
)

func TestSplitComposite(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantOK    bool
		wantFrame string
		wantInner string
	}{
		{"Simple", "iframe.payment |> #card-number", true, "iframe.payment", "#card-number"},
		{"No spaces", "iframe|>#a", true, "iframe", "#a"},
		{"Nested frames", "iframe#outer |> iframe.inner |> button", true, "iframe#outer", "iframe.inner |> button"},
		{"Empty segments dropped", "iframe |>  |> #a", true, "iframe", "#a"},
		{"No separator", "#card-number", false, "", ""},
		{"Only separator", " |> ", false, "", ""},
		{"Missing frame", "|> #a", false, "", ""},
		{"Missing inner", "iframe |>", false, "", ""},
		{"Pipe alone is not a separator", "a | b", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp, ok := selector.SplitComposite(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantFrame, comp.FrameSelector)
			assert.Equal(t, tt.wantInner, comp.InnerSelector)
			assert.Equal(t, tt.wantOK, selector.IsComposite(tt.input))
		})
	}
}

func TestComposite_RoundTrip(t *testing.T) {
	inputs := []string{
		"iframe.payment |> #card-number",
		"  iframe.payment|>#card-number  ",
		"iframe[name=\"checkout\"]   |>   input[name=\"cvc\"]",
		"iframe#a |> iframe#b |> span",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			comp, ok := selector.SplitComposite(in)
			require.True(t, ok)

			normalized := comp.String()
			again, ok := selector.SplitComposite(normalized)
			require.True(t, ok)
			assert.Equal(t, comp, again)
			assert.Equal(t, normalized, selector.ComposeSelector(again.FrameSelector, again.InnerSelector))
		})
	}
}

func TestComposeSelector_Trims(t *testing.T) {
	assert.Equal(t, "iframe |> #x", selector.ComposeSelector("  iframe ", " #x  "))
}
