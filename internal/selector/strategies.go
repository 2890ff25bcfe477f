// internal/selector/strategies.go
package selector

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

// Strategy names, in their declared priority.
const (
	StrategyTestID     = "testid"
	StrategyAria       = "aria"
	StrategyCSSUnique  = "css-unique"
	StrategyCSSPath    = "css-path"
	StrategyAnchorPath = "anchor-relative-path"
	StrategyXPath      = "xpath"
	StrategyText       = "text"
	strategyFallback   = "fallback"
)

const (
	defaultMaxCandidates = 8
	defaultMaxTextLength = 64
	defaultMaxPathDepth  = 12
)

// GenerateOptions tunes candidate generation.
type GenerateOptions struct {
	MaxCandidates    int
	MaxTextLength    int
	MaxPathDepth     int
	TestIDAttributes []string
	// Strategies enables a subset by name. Empty enables all.
	Strategies   []string
	IncludeXPath bool
	// FrameSelector, when the element lives in an iframe, selects that iframe in
	// the parent document. The primary selector is then composite.
	FrameSelector string
}

// DefaultGenerateOptions returns the stock generation settings.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		MaxCandidates:    defaultMaxCandidates,
		MaxTextLength:    defaultMaxTextLength,
		MaxPathDepth:     defaultMaxPathDepth,
		TestIDAttributes: append([]string(nil), DefaultTestIDAttributes...),
		IncludeXPath:     true,
	}
}

func (o GenerateOptions) normalized() GenerateOptions {
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = defaultMaxCandidates
	}
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = defaultMaxTextLength
	}
	if o.MaxPathDepth <= 0 {
		o.MaxPathDepth = defaultMaxPathDepth
	}
	if len(o.TestIDAttributes) == 0 {
		o.TestIDAttributes = DefaultTestIDAttributes
	}
	return o
}

func (o GenerateOptions) enabled(name string) bool {
	if name == StrategyXPath && !o.IncludeXPath {
		return false
	}
	if len(o.Strategies) == 0 {
		return true
	}
	for _, s := range o.Strategies {
		if s == name {
			return true
		}
	}
	return false
}

// Strategy produces candidates for one element. Implementations are pure
// functions of the element and options.
type Strategy interface {
	Name() string
	Candidates(el *html.Node, opts GenerateOptions) []schemas.SelectorCandidate
}

// DefaultStrategies returns every built-in strategy in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		testIDStrategy{},
		ariaStrategy{},
		cssUniqueStrategy{},
		cssPathStrategy{},
		anchorPathStrategy{},
		xpathStrategy{},
		textStrategy{},
	}
}

func generated(strategy string, t schemas.CandidateType, value string) schemas.SelectorCandidate {
	return schemas.SelectorCandidate{
		Type:     t,
		Value:    value,
		Source:   schemas.SourceGenerated,
		Strategy: strategy,
	}
}

// -- Heuristics --

var (
	longDigitRun     = regexp.MustCompile(`\d{4,}`)
	generatedIDShape = regexp.MustCompile(`^(ember\d+|react-|:r[0-9a-z]+:|mui-\d+|radix-|headlessui-|uid-|ext-gen|yui_|__)`)
	hexBlob          = regexp.MustCompile(`[0-9a-f]{8,}`)
	stateClasses     = map[string]bool{
		"active": true, "hover": true, "focus": true, "selected": true,
		"open": true, "disabled": true, "is-active": true, "is-open": true,
	}
)

// looksStableID rejects ids that look framework generated.
func looksStableID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	if id[0] >= '0' && id[0] <= '9' {
		return false
	}
	lower := strings.ToLower(id)
	return !longDigitRun.MatchString(id) && !generatedIDShape.MatchString(lower) && !hexBlob.MatchString(lower)
}

// stableClasses keeps classes longer than five characters or free of digits,
// dropping state classes and hashed names.
func stableClasses(el *html.Node) []string {
	var out []string
	seen := map[string]bool{}
	for _, c := range strings.Fields(Attr(el, "class")) {
		if seen[c] || stateClasses[strings.ToLower(c)] {
			continue
		}
		seen[c] = true
		hasDigit := strings.ContainsAny(c, "0123456789")
		if (len(c) > 5 || !hasDigit) && !hexBlob.MatchString(strings.ToLower(c)) && !longDigitRun.MatchString(c) {
			out = append(out, c)
		}
	}
	return out
}

// -- testid --

type testIDStrategy struct{}

func (testIDStrategy) Name() string { return StrategyTestID }

func (s testIDStrategy) Candidates(el *html.Node, opts GenerateOptions) []schemas.SelectorCandidate {
	var out []schemas.SelectorCandidate
	for _, attr := range opts.TestIDAttributes {
		v := Attr(el, attr)
		if v == "" {
			continue
		}
		bare := attrSelector("", attr, v)
		if matchesUniquely(el, bare) {
			out = append(out, generated(s.Name(), schemas.CandidateAttr, bare))
			continue
		}
		if tagged := attrSelector(tagName(el), attr, v); matchesUniquely(el, tagged) {
			out = append(out, generated(s.Name(), schemas.CandidateAttr, tagged))
		}
	}
	return out
}

// -- aria --

type ariaStrategy struct{}

func (ariaStrategy) Name() string { return StrategyAria }

func (s ariaStrategy) Candidates(el *html.Node, opts GenerateOptions) []schemas.SelectorCandidate {
	role := ImplicitRole(el)
	name := AccessibleName(el, opts.MaxTextLength)
	if role == "" && name == "" {
		return nil
	}
	// An aria candidate is only useful if some expansion re-finds the element.
	for _, css := range ExpandAria(role, name) {
		if matchesUniquely(el, css) {
			c := generated(s.Name(), schemas.CandidateAria, FormatAria(role, name))
			c.Role, c.Name = role, name
			return []schemas.SelectorCandidate{c}
		}
	}
	return nil
}

// -- css-unique --

type cssUniqueStrategy struct{}

func (cssUniqueStrategy) Name() string { return StrategyCSSUnique }

var uniqueAttrKeys = []string{"name", "title", "placeholder", "alt", "aria-label", "for"}

func (s cssUniqueStrategy) Candidates(el *html.Node, opts GenerateOptions) []schemas.SelectorCandidate {
	var out []schemas.SelectorCandidate
	tag := tagName(el)

	if id := Attr(el, "id"); looksStableID(id) {
		if sel := "#" + CSSEscape(id); matchesUniquely(el, sel) {
			out = append(out, generated(s.Name(), schemas.CandidateCSS, sel))
		}
	}

	for _, key := range uniqueAttrKeys {
		v := Attr(el, key)
		if v == "" || len([]rune(v)) > opts.MaxTextLength {
			continue
		}
		if sel := attrSelector(tag, key, v); matchesUniquely(el, sel) {
			out = append(out, generated(s.Name(), schemas.CandidateAttr, sel))
		}
	}

	classes := stableClasses(el)
	for _, c := range classes {
		if sel := tag + "." + CSSEscape(c); matchesUniquely(el, sel) {
			out = append(out, generated(s.Name(), schemas.CandidateCSS, sel))
			return out
		}
	}
	for i := 0; i < len(classes); i++ {
		for j := i + 1; j < len(classes); j++ {
			sel := tag + "." + CSSEscape(classes[i]) + "." + CSSEscape(classes[j])
			if matchesUniquely(el, sel) {
				out = append(out, generated(s.Name(), schemas.CandidateCSS, sel))
				return out
			}
		}
	}
	return out
}

// -- css-path --

type cssPathStrategy struct{}

func (cssPathStrategy) Name() string { return StrategyCSSPath }

// pathSegment renders one structural step, adding :nth-of-type only when the
// tag is ambiguous among siblings.
func pathSegment(n *html.Node) string {
	index, total := nthOfType(n)
	if total > 1 {
		return tagName(n) + ":nth-of-type(" + strconv.Itoa(index) + ")"
	}
	return tagName(n)
}

func (s cssPathStrategy) Candidates(el *html.Node, opts GenerateOptions) []schemas.SelectorCandidate {
	root := ScopeRoot(el)
	var segments []string
	for n := el; n != nil && n != root && isElement(n) && len(segments) < opts.MaxPathDepth; n = n.Parent {
		segments = append([]string{pathSegment(n)}, segments...)
		sel := strings.Join(segments, " > ")
		if matchesUniquely(el, sel) {
			return []schemas.SelectorCandidate{generated(s.Name(), schemas.CandidateCSS, sel)}
		}
	}
	return nil
}

// -- anchor-relative-path --

type anchorPathStrategy struct{}

func (anchorPathStrategy) Name() string { return StrategyAnchorPath }

// anchorSelector returns a unique selector for n built from its id or a test
// id, or "".
func anchorSelector(n *html.Node, opts GenerateOptions) string {
	if id := Attr(n, "id"); looksStableID(id) {
		if sel := "#" + CSSEscape(id); matchesUniquely(n, sel) {
			return sel
		}
	}
	for _, attr := range opts.TestIDAttributes {
		if v := Attr(n, attr); v != "" {
			if sel := attrSelector("", attr, v); matchesUniquely(n, sel) {
				return sel
			}
		}
	}
	return ""
}

func (s anchorPathStrategy) Candidates(el *html.Node, opts GenerateOptions) []schemas.SelectorCandidate {
	root := ScopeRoot(el)
	segments := []string{pathSegment(el)}
	for n := el.Parent; n != nil && n != root && isElement(n) && len(segments) < opts.MaxPathDepth; n = n.Parent {
		if anchor := anchorSelector(n, opts); anchor != "" {
			sel := anchor + " > " + strings.Join(segments, " > ")
			if matchesUniquely(el, sel) {
				return []schemas.SelectorCandidate{generated(s.Name(), schemas.CandidateCSS, sel)}
			}
			return nil
		}
		segments = append([]string{pathSegment(n)}, segments...)
	}
	return nil
}

// -- xpath --

type xpathStrategy struct{}

func (xpathStrategy) Name() string { return StrategyXPath }

func (s xpathStrategy) Candidates(el *html.Node, _ GenerateOptions) []schemas.SelectorCandidate {
	// Document XPath cannot cross a shadow boundary.
	if len(ShadowHosts(el)) > 0 {
		return nil
	}
	expr := GenerateUniqueXPath(el)
	nodes, err := QueryXPath(documentOf(el), expr)
	if err != nil || len(nodes) != 1 || nodes[0] != el {
		return nil
	}
	return []schemas.SelectorCandidate{generated(s.Name(), schemas.CandidateXPath, expr)}
}

// -- text --

type textStrategy struct{}

func (textStrategy) Name() string { return StrategyText }

func (s textStrategy) Candidates(el *html.Node, opts GenerateOptions) []schemas.SelectorCandidate {
	text := VisibleText(el)
	if text == "" {
		return nil
	}
	match := schemas.TextMatchExact
	if len([]rune(text)) > opts.MaxTextLength {
		match = schemas.TextMatchContains
		text = strings.TrimSpace(truncateRunes(text, opts.MaxTextLength))
	}
	tag := tagName(el)
	matches := FindByText(ScopeRoot(el), text, match, tag)
	if len(matches) != 1 || matches[0] != el {
		return nil
	}
	c := generated(s.Name(), schemas.CandidateText, text)
	c.Match = match
	c.TagNameHint = tag
	return []schemas.SelectorCandidate{c}
}

// FindByText returns elements under root whose visible text matches. With a
// tag hint only that tag is considered; without one, an element is dropped when
// one of its descendants also matches, so the innermost match wins.
func FindByText(root *html.Node, text string, match schemas.TextMatch, tagHint string) []*html.Node {
	text = NormalizeText(text)
	if text == "" {
		return nil
	}
	tagHint = strings.ToLower(tagHint)
	textMatches := func(n *html.Node) bool {
		got := VisibleText(n)
		if match == schemas.TextMatchContains {
			return strings.Contains(got, text)
		}
		return got == text
	}

	var all []*html.Node
	walkElements(root, func(n *html.Node) bool {
		if tagHint != "" && tagName(n) != tagHint {
			return true
		}
		if textMatches(n) {
			all = append(all, n)
		}
		return true
	})
	if tagHint != "" {
		return all
	}

	var out []*html.Node
	for _, n := range all {
		innermost := true
		for _, other := range all {
			if other != n && isAncestor(n, other) {
				innermost = false
				break
			}
		}
		if innermost {
			out = append(out, n)
		}
	}
	return out
}

func isAncestor(a, b *html.Node) bool {
	for p := b.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}
