// internal/selector/aria.go
package selector

import (
	"strings"

	"golang.org/x/net/html"
)

// -- Roles --

// roleTags maps a role to the first element that carries it implicitly. It is
// used when expanding an aria candidate into CSS.
var roleTags = map[string]string{
	"button":     "button",
	"link":       "a",
	"textbox":    "input",
	"searchbox":  "input",
	"checkbox":   "input",
	"radio":      "input",
	"combobox":   "select",
	"img":        "img",
	"navigation": "nav",
	"main":       "main",
	"dialog":     "dialog",
	"list":       "ul",
	"listitem":   "li",
	"option":     "option",
	"table":      "table",
	"form":       "form",
	"banner":     "header",
	"region":     "section",
}

// ImplicitRole returns the explicit role attribute, or the role HTML assigns to
// the element by default. It returns "" when the element has no role.
func ImplicitRole(el *html.Node) string {
	if r := strings.TrimSpace(Attr(el, "role")); r != "" {
		return strings.ToLower(strings.Fields(r)[0])
	}
	switch tagName(el) {
	case "a", "area":
		if HasAttr(el, "href") {
			return "link"
		}
	case "button":
		return "button"
	case "input":
		switch strings.ToLower(Attr(el, "type")) {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "range":
			return "slider"
		case "number":
			return "spinbutton"
		case "search":
			return "searchbox"
		case "hidden", "file", "color", "date", "datetime-local", "month", "time", "week", "password":
			return ""
		default:
			return "textbox"
		}
	case "textarea":
		return "textbox"
	case "select":
		if HasAttr(el, "multiple") {
			return "listbox"
		}
		return "combobox"
	case "img":
		if Attr(el, "alt") != "" {
			return "img"
		}
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	case "nav":
		return "navigation"
	case "main":
		return "main"
	case "header":
		return "banner"
	case "footer":
		return "contentinfo"
	case "ul", "ol":
		return "list"
	case "li":
		return "listitem"
	case "table":
		return "table"
	case "form":
		return "form"
	case "dialog":
		return "dialog"
	case "option":
		return "option"
	}
	return ""
}

// namedFromContent lists roles whose accessible name falls back to their text.
var namedFromContent = map[string]bool{
	"button": true, "link": true, "heading": true, "option": true,
	"listitem": true, "checkbox": true, "radio": true, "tab": true, "menuitem": true,
}

// AccessibleName approximates the accessible name computation: aria-label,
// aria-labelledby, associated labels, placeholder, title, alt, then content for
// roles that are named from content.
func AccessibleName(el *html.Node, maxLen int) string {
	if v := NormalizeText(Attr(el, "aria-label")); v != "" {
		return truncateRunes(v, maxLen)
	}
	root := ScopeRoot(el)
	if ids := strings.Fields(Attr(el, "aria-labelledby")); len(ids) > 0 {
		var parts []string
		for _, id := range ids {
			if ref := findByID(root, id); ref != nil {
				if t := VisibleText(ref); t != "" {
					parts = append(parts, t)
				}
			}
		}
		if len(parts) > 0 {
			return truncateRunes(strings.Join(parts, " "), maxLen)
		}
	}
	switch tagName(el) {
	case "input", "select", "textarea":
		if label := labelFor(el, root); label != "" {
			return truncateRunes(label, maxLen)
		}
	}
	for _, key := range []string{"placeholder", "title", "alt"} {
		if v := NormalizeText(Attr(el, key)); v != "" {
			return truncateRunes(v, maxLen)
		}
	}
	if namedFromContent[ImplicitRole(el)] {
		return truncateRunes(VisibleText(el), maxLen)
	}
	return ""
}

func labelFor(el, root *html.Node) string {
	if id := Attr(el, "id"); id != "" {
		var found string
		walkElements(root, func(n *html.Node) bool {
			if tagName(n) == "label" && Attr(n, "for") == id {
				found = VisibleText(n)
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	for p := el.Parent; p != nil && p != root; p = p.Parent {
		if tagName(p) == "label" {
			return VisibleText(p)
		}
	}
	return ""
}

func findByID(root *html.Node, id string) *html.Node {
	var found *html.Node
	walkElements(root, func(n *html.Node) bool {
		if Attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// walkElements visits elements under root in document order within one scope.
// Returning false from fn stops the walk.
func walkElements(root *html.Node, fn func(*html.Node) bool) {
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !isElement(c) {
				continue
			}
			if !fn(c) {
				return false
			}
			if tagName(c) == "template" {
				continue
			}
			if !walk(c) {
				return false
			}
		}
		return true
	}
	if root != nil {
		walk(root)
	}
}

// -- Aria Values --

// FormatAria renders the value of an aria candidate: `role[name="..."]`.
func FormatAria(role, name string) string {
	if name == "" {
		return role
	}
	return role + `[name=` + quoteAttr(name) + `]`
}

// ParseAria is the inverse of FormatAria.
func ParseAria(value string) (role, name string) {
	value = strings.TrimSpace(value)
	idx := strings.Index(value, "[name=")
	if idx < 0 {
		return value, ""
	}
	role = strings.TrimSpace(value[:idx])
	raw := strings.TrimSuffix(value[idx+len("[name="):], "]")
	return role, unquoteAttr(raw)
}

func unquoteAttr(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = v[1 : len(v)-1]
	}
	v = strings.ReplaceAll(v, `\"`, `"`)
	return strings.ReplaceAll(v, `\\`, `\`)
}

// maxAriaExpansions bounds ExpandAria.
const maxAriaExpansions = 4

// ExpandAria turns a role and accessible name into concrete CSS selectors, in
// the order they should be tried.
func ExpandAria(role, name string) []string {
	role = strings.TrimSpace(role)
	name = strings.TrimSpace(name)
	var out []string
	switch {
	case role != "" && name != "":
		out = append(out, attrSelector(attrSelector("", "role", role), "aria-label", name))
		if tag, ok := roleTags[role]; ok {
			out = append(out, attrSelector(tag, "aria-label", name))
		}
		out = append(out, attrSelector(attrSelector("", "role", role), "title", name))
		out = append(out, attrSelector("", "aria-label", name))
	case role != "":
		out = append(out, attrSelector("", "role", role))
	case name != "":
		out = append(out, attrSelector("", "aria-label", name), attrSelector("", "title", name))
	}
	if len(out) > maxAriaExpansions {
		out = out[:maxAriaExpansions]
	}
	return out
}
