package selector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/scalpel-replay/internal/selector"
)

func TestComputeFingerprint(t *testing.T) {
	doc := mustParse(t, `<html><body>
		<button id="save" class="btn  primary">  Save
			changes </button>
		<p>This paragraph holds a sentence that is much longer than thirty two characters.</p>
	</body></html>`)

	assert.Equal(t, "button#save.btn.primary|Save changes", selector.ComputeFingerprint(mustFind(t, doc, "//button")))
	assert.Equal(t, "p|This paragraph holds a sentence ", selector.ComputeFingerprint(mustFind(t, doc, "//p")))
	assert.Empty(t, selector.ComputeFingerprint(nil))
}

func TestParseFingerprint(t *testing.T) {
	fp := selector.ParseFingerprint("button#save.btn.primary|Save | now")
	assert.Equal(t, "button", fp.Tag)
	assert.Equal(t, "save", fp.ID)
	assert.Equal(t, []string{"btn", "primary"}, fp.Classes)
	assert.Equal(t, "Save | now", fp.Text)

	bare := selector.ParseFingerprint("div|")
	assert.Equal(t, "div", bare.Tag)
	assert.Empty(t, bare.ID)
	assert.Empty(t, bare.Classes)
}

func TestMatchFingerprint(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		want     bool
	}{
		{"Identical", "button#save.btn.primary|Save", "button#save.btn.primary|Save", true},
		{"No expectation", "", "div|anything", true},
		{"Tag differs", "button#save|Save", "a#save|Save", false},
		{"Id differs", "button#save|Save", "button#cancel|Save", false},
		{"Expected has no id", "button.btn|Save", "button#save.btn|Save", true},
		{"Half the classes", "li.a.b.c.d|x", "li.a.b.z|x", true},
		{"Too few classes", "li.a.b.c.d|x", "li.a|x", false},
		{"Text grew", "button|Save", "button|Save changes", true},
		{"Text changed", "button|Save", "button|Cancel", false},
		{"Actual text empty", "button|Save", "button|", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selector.MatchFingerprint(tt.expected, tt.actual))
		})
	}
}

func TestDOMPath_RoundTrip(t *testing.T) {
	doc := mustParse(t, loginHTML)
	for _, xp := range []string{"//button", "//input", "//a", "//body"} {
		el := mustFind(t, doc, xp)
		path := selector.DOMPath(el)
		assert.NotEmpty(t, path)
		assert.Same(t, el, selector.ResolveDOMPath(doc, path), "path %v for %s", path, xp)
	}
	assert.Equal(t, []int{0, 1, 0, 1}, selector.DOMPath(mustFind(t, doc, "//button")))
	assert.Nil(t, selector.ResolveDOMPath(doc, []int{0, 9}))
}
