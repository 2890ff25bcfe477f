// internal/selector/element.go
package selector

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// -- DOM Scoping --
//
// Shadow roots are modeled as declarative shadow DOM: a <template shadowrootmode>
// child of the host. A query in one root never sees into another root, and
// plain <template> content is inert, exactly as querySelectorAll behaves.

// Attr returns the value of an attribute, or "" when absent. Keys are matched
// case-insensitively because the HTML parser lowercases them anyway.
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether the attribute is present, even with an empty value.
func HasAttr(n *html.Node, key string) bool {
	if n == nil {
		return false
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

func isElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode
}

func tagName(n *html.Node) string {
	if n == nil {
		return ""
	}
	return strings.ToLower(n.Data)
}

// IsShadowRoot reports whether n is a declarative shadow root template.
func IsShadowRoot(n *html.Node) bool {
	return isElement(n) && tagName(n) == "template" && HasAttr(n, "shadowrootmode")
}

// ScopeRoot returns the root an element's selectors are evaluated against: the
// innermost enclosing shadow root template, or the document node.
func ScopeRoot(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	cur := n
	for cur.Parent != nil {
		if IsShadowRoot(cur.Parent) {
			return cur.Parent
		}
		cur = cur.Parent
	}
	return cur
}

// ShadowHosts returns the shadow hosts enclosing n, outermost first. It is empty
// for elements in the light DOM.
func ShadowHosts(n *html.Node) []*html.Node {
	var hosts []*html.Node
	for root := ScopeRoot(n); IsShadowRoot(root); root = ScopeRoot(root.Parent) {
		hosts = append(hosts, root.Parent)
	}
	for i, j := 0, len(hosts)-1; i < j; i, j = i+1, j-1 {
		hosts[i], hosts[j] = hosts[j], hosts[i]
	}
	return hosts
}

// ShadowRootOf returns the shadow root template attached to a host, if any.
func ShadowRootOf(host *html.Node) *html.Node {
	if host == nil {
		return nil
	}
	for c := host.FirstChild; c != nil; c = c.NextSibling {
		if IsShadowRoot(c) {
			return c
		}
	}
	return nil
}

// CompileCSS parses a selector group. Errors are returned rather than panicking
// so generated candidates that cascadia cannot parse are simply dropped.
func CompileCSS(sel string) (cascadia.Matcher, error) {
	group, err := cascadia.ParseGroup(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid css selector %q: %w", sel, err)
	}
	return group, nil
}

// QueryScoped returns every element under root matching m, in document order,
// without descending into template content.
func QueryScoped(root *html.Node, m cascadia.Matcher) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !isElement(c) {
				continue
			}
			if m.Match(c) {
				out = append(out, c)
			}
			if tagName(c) == "template" {
				continue
			}
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// matchesUniquely reports whether sel matches exactly one element in the root of
// el, and that element is el.
func matchesUniquely(el *html.Node, sel string) bool {
	m, err := CompileCSS(sel)
	if err != nil {
		return false
	}
	matches := QueryScoped(ScopeRoot(el), m)
	return len(matches) == 1 && matches[0] == el
}

// -- Text --

// VisibleText collects the normalized text of n, skipping script, style and
// template content.
func VisibleText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				sb.WriteString(c.Data)
				sb.WriteByte(' ')
			case html.ElementNode:
				switch tagName(c) {
				case "script", "style", "template", "noscript":
					continue
				}
				walk(c)
			}
		}
	}
	if n != nil {
		walk(n)
	}
	return NormalizeText(sb.String())
}

// NormalizeText collapses runs of whitespace and trims.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// -- Escaping --

// CSSEscape escapes an identifier for use after # or . in a selector.
func CSSEscape(ident string) string {
	var sb strings.Builder
	for i, r := range ident {
		switch {
		case i == 0 && unicode.IsDigit(r):
			sb.WriteString(fmt.Sprintf(`\%x `, r))
		case r == '-' || r == '_' || r > 0x7f || unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		default:
			sb.WriteByte('\\')
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// quoteAttr renders a double-quoted CSS attribute value.
func quoteAttr(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

// attrSelector builds tag[key="value"]; tag may be empty.
func attrSelector(tag, key, value string) string {
	return fmt.Sprintf("%s[%s=%s]", tag, key, quoteAttr(value))
}

// -- Sibling Helpers --

// elementChildren returns the element children of n.
func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c) {
			out = append(out, c)
		}
	}
	return out
}

// nthOfType returns the 1-based position of n among same-tag siblings and the
// total count of such siblings.
func nthOfType(n *html.Node) (index, total int) {
	if n.Parent == nil {
		return 1, 1
	}
	tag := tagName(n)
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if !isElement(c) || tagName(c) != tag {
			continue
		}
		total++
		if c == n {
			index = total
		}
	}
	return index, total
}
