package selector_test

import (
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/selector"
)

const loginHTML = `
<html>
<body>
	<form id="login">
		<input id="email" name="email" placeholder="Email">
		<button id="submit-btn" class="btn primary">Submit</button>
	</form>
	<a href="/help">Help</a>
</body>
</html>`

const shadowHTML = `
<html>
<body>
	<div id="app-shell">
		<template shadowrootmode="open">
			<section class="panel">
				<button class="inner-btn">Go</button>
			</section>
		</template>
	</div>
	<button class="inner-btn">Outside</button>
</body>
</html>`

func mustParse(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := htmlquery.Parse(strings.NewReader(src))
	require.NoError(t, err)
	return doc
}

func mustFind(t *testing.T, doc *html.Node, xpath string) *html.Node {
	t.Helper()
	n := htmlquery.FindOne(doc, xpath)
	require.NotNil(t, n, "test setup: nothing matched %s", xpath)
	return n
}

func TestGenerator_Generate_PrefersIDOverText(t *testing.T) {
	doc := mustParse(t, loginHTML)
	btn := mustFind(t, doc, "//button")

	g := selector.NewGenerator(zaptest.NewLogger(t))
	target := g.Generate(btn, selector.DefaultGenerateOptions())

	require.NotEmpty(t, target.Candidates)
	assert.Equal(t, "#submit-btn", target.Selector)
	assert.Equal(t, "button", target.TagName)
	assert.Equal(t, "#submit-btn", target.Candidates[0].Value)

	cssIdx, textIdx := -1, -1
	for i, c := range target.Candidates {
		require.NotNil(t, c.Stability)
		assert.Equal(t, schemas.SourceGenerated, c.Source)
		switch {
		case c.Type == schemas.CandidateCSS && c.Value == "#submit-btn":
			cssIdx = i
		case c.Type == schemas.CandidateText:
			textIdx = i
			assert.Equal(t, "Submit", c.Value)
			assert.Equal(t, schemas.TextMatchExact, c.Match)
			assert.Equal(t, "button", c.TagNameHint)
		}
	}
	require.NotEqual(t, -1, textIdx, "text candidate expected")
	assert.Less(t, cssIdx, textIdx)

	got := values(target.Candidates)
	assert.Contains(t, got, "//*[@id='submit-btn']")
	assert.Contains(t, got, "#login > button")
}

func TestGenerator_Generate_TestID(t *testing.T) {
	doc := mustParse(t, `<html><body><div>
		<button data-testid="save">Save</button>
		<button data-testid="save-draft">Draft</button>
	</div></body></html>`)
	btn := mustFind(t, doc, "//button[@data-testid='save']")

	target := selector.NewGenerator(nil).Generate(btn, selector.DefaultGenerateOptions())
	assert.Equal(t, `[data-testid="save"]`, target.Selector)
	assert.Equal(t, schemas.CandidateAttr, target.Candidates[0].Type)
	assert.Equal(t, selector.StrategyTestID, target.Candidates[0].Strategy)
	assert.True(t, target.Candidates[0].Stability.Signals.UsesTestID)
}

func TestGenerator_Generate_AriaLabel(t *testing.T) {
	doc := mustParse(t, `<html><body>
		<button aria-label="Close dialog">x</button>
		<button>y</button>
	</body></html>`)
	btn := mustFind(t, doc, "//button[@aria-label]")

	target := selector.NewGenerator(nil).Generate(btn, selector.DefaultGenerateOptions())
	var aria *schemas.SelectorCandidate
	for i := range target.Candidates {
		if target.Candidates[i].Type == schemas.CandidateAria {
			aria = &target.Candidates[i]
		}
	}
	require.NotNil(t, aria)
	assert.Equal(t, "button", aria.Role)
	assert.Equal(t, "Close dialog", aria.Name)
	assert.Equal(t, `button[name="Close dialog"]`, aria.Value)
}

func TestGenerator_Generate_FallbackToBody(t *testing.T) {
	doc := mustParse(t, loginHTML)
	btn := mustFind(t, doc, "//button")

	g := selector.NewGenerator(nil)
	opts := selector.DefaultGenerateOptions()
	opts.Strategies = []string{selector.StrategyTestID}

	target := g.Generate(btn, opts)
	require.Len(t, target.Candidates, 1)
	assert.Equal(t, "body", target.Candidates[0].Value)
	assert.Equal(t, "fallback", target.Candidates[0].Strategy)
	assert.Equal(t, "body", target.Selector)

	nilTarget := g.Generate(nil, opts)
	assert.NotEmpty(t, nilTarget.Candidates)
}

func TestGenerator_Generate_OptionsRespected(t *testing.T) {
	doc := mustParse(t, loginHTML)
	btn := mustFind(t, doc, "//button")
	g := selector.NewGenerator(nil)

	opts := selector.DefaultGenerateOptions()
	opts.MaxCandidates = 2
	assert.Len(t, g.Generate(btn, opts).Candidates, 2)

	opts = selector.DefaultGenerateOptions()
	opts.IncludeXPath = false
	for _, c := range g.Generate(btn, opts).Candidates {
		assert.NotEqual(t, schemas.CandidateXPath, c.Type)
	}

	opts = selector.DefaultGenerateOptions()
	opts.FrameSelector = "iframe.payment"
	target := g.Generate(btn, opts)
	assert.Equal(t, "iframe.payment |> #submit-btn", target.Selector)
	for _, c := range target.Candidates {
		assert.False(t, selector.IsComposite(c.Value), "candidates stay frame-relative")
	}
}

func TestGenerator_GenerateExtended_ShadowRoot(t *testing.T) {
	doc := mustParse(t, shadowHTML)
	btn := mustFind(t, doc, "//template//button")

	target := selector.NewGenerator(zaptest.NewLogger(t)).GenerateExtended(btn, selector.DefaultGenerateOptions())

	assert.Equal(t, []string{"#app-shell"}, target.ShadowHostChain)
	assert.Equal(t, "button.inner-btn|Go", target.Fingerprint)
	assert.Equal(t, []int{0, 0}, target.DOMPath)
	assert.Equal(t, "button.inner-btn", target.Selector, "uniqueness is scoped to the shadow root")
	for _, c := range target.Candidates {
		assert.NotEqual(t, schemas.CandidateXPath, c.Type, "xpath cannot pierce shadow roots")
	}
}

func TestGenerator_GenerateExtended_UnresolvableHostEmptiesChain(t *testing.T) {
	doc := mustParse(t, shadowHTML)
	btn := mustFind(t, doc, "//template//button")

	opts := selector.DefaultGenerateOptions()
	opts.Strategies = []string{selector.StrategyText}

	target := selector.NewGenerator(nil).GenerateExtended(btn, opts)
	assert.Empty(t, target.ShadowHostChain)
	require.NotEmpty(t, target.Candidates)
	assert.Equal(t, schemas.CandidateText, target.Candidates[0].Type)
}

func TestGenerateUniqueXPath(t *testing.T) {
	doc := mustParse(t, `
	<html>
	<body>
		<div id="header"><h1>Welcome</h1></div>
		<div class="content">
			<p>P1</p><p>P2</p>
			<ul><li>Item 1</li><li>Item 2</li><li id="special">Item 3</li></ul>
		</div>
		<div id="1234567">generated</div>
	</body>
	</html>`)

	tests := []struct {
		name     string
		target   string
		expected string
	}{
		{"Body", "//body", "/html[1]/body[1]"},
		{"Element with ID", "//div[@id='header']", `//*[@id='header']`},
		{"Child of ID element", "//h1", `//*[@id='header']/h1[1]`},
		{"Specific index", "(//p)[2]", "/html[1]/body[1]/div[2]/p[2]"},
		{"List item", "//ul/li[2]", "/html[1]/body[1]/div[2]/ul[1]/li[2]"},
		{"List item with ID", "//li[@id='special']", `//*[@id='special']`},
		{"Generated id is not an anchor", "//div[@id='1234567']", "/html[1]/body[1]/div[3]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := mustFind(t, doc, tt.target)
			got := selector.GenerateUniqueXPath(node)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, node, htmlquery.FindOne(doc, got))
		})
	}
}
