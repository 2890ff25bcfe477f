// internal/selector/fingerprint.go
package selector

import (
	"strings"

	"golang.org/x/net/html"
)

const fingerprintTextLength = 32

// Fingerprint is the parsed form of "tag#id.class1.class2|text".
type Fingerprint struct {
	Tag     string
	ID      string
	Classes []string
	Text    string
}

// ComputeFingerprint summarizes an element's identity.
func ComputeFingerprint(el *html.Node) string {
	if !isElement(el) {
		return ""
	}
	fp := Fingerprint{
		Tag:     tagName(el),
		ID:      Attr(el, "id"),
		Classes: strings.Fields(Attr(el, "class")),
		Text:    truncateRunes(VisibleText(el), fingerprintTextLength),
	}
	return fp.String()
}

func (f Fingerprint) String() string {
	var sb strings.Builder
	sb.WriteString(f.Tag)
	if f.ID != "" {
		sb.WriteByte('#')
		sb.WriteString(f.ID)
	}
	for _, c := range f.Classes {
		sb.WriteByte('.')
		sb.WriteString(c)
	}
	sb.WriteByte('|')
	sb.WriteString(f.Text)
	return sb.String()
}

// ParseFingerprint splits a fingerprint string. Ids containing '.' cannot be
// represented and are parsed as an id plus classes.
func ParseFingerprint(s string) Fingerprint {
	head, text, _ := strings.Cut(s, "|")
	var fp Fingerprint
	fp.Text = NormalizeText(text)

	dot := strings.IndexByte(head, '.')
	hash := strings.IndexByte(head, '#')
	tagEnd := len(head)
	if dot >= 0 && dot < tagEnd {
		tagEnd = dot
	}
	if hash >= 0 && hash < tagEnd {
		tagEnd = hash
	}
	fp.Tag = strings.ToLower(head[:tagEnd])
	rest := head[tagEnd:]
	if strings.HasPrefix(rest, "#") {
		idEnd := strings.IndexByte(rest, '.')
		if idEnd < 0 {
			idEnd = len(rest)
		}
		fp.ID = rest[1:idEnd]
		rest = rest[idEnd:]
	}
	for _, c := range strings.Split(rest, ".") {
		if c != "" {
			fp.Classes = append(fp.Classes, c)
		}
	}
	return fp
}

// MatchFingerprint reports whether actual plausibly describes the same element
// as expected. Tags must be equal, ids equal when expected has one, at least
// half of the expected classes present, and when both texts are present one
// must contain the other.
func MatchFingerprint(expected, actual string) bool {
	if expected == "" {
		return true
	}
	e, a := ParseFingerprint(expected), ParseFingerprint(actual)
	if e.Tag != a.Tag {
		return false
	}
	if e.ID != "" && e.ID != a.ID {
		return false
	}
	if len(e.Classes) > 0 {
		have := make(map[string]bool, len(a.Classes))
		for _, c := range a.Classes {
			have[c] = true
		}
		hits := 0
		for _, c := range e.Classes {
			if have[c] {
				hits++
			}
		}
		if hits*2 < len(e.Classes) {
			return false
		}
	}
	if e.Text != "" && a.Text != "" {
		if !strings.Contains(e.Text, a.Text) && !strings.Contains(a.Text, e.Text) {
			return false
		}
	}
	return true
}

// DOMPath returns the element-child indices from the element's scope root down
// to the element.
func DOMPath(el *html.Node) []int {
	root := ScopeRoot(el)
	var path []int
	for n := el; n != nil && n != root; n = n.Parent {
		if n.Parent == nil {
			return nil
		}
		idx := 0
		for c := n.Parent.FirstChild; c != nil && c != n; c = c.NextSibling {
			if isElement(c) {
				idx++
			}
		}
		path = append(path, idx)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// ResolveDOMPath walks a DOMPath from root. It returns nil when the path no
// longer exists.
func ResolveDOMPath(root *html.Node, path []int) *html.Node {
	cur := root
	for _, idx := range path {
		children := elementChildren(cur)
		if idx < 0 || idx >= len(children) {
			return nil
		}
		cur = children[idx]
	}
	if cur == root {
		return nil
	}
	return cur
}
