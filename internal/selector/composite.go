// internal/selector/composite.go
package selector

import "strings"

// CompositeSeparator joins a frame selector and the selector inside that frame.
const CompositeSeparator = "|>"

// Composite is a parsed "<frame> |> <inner>" selector. Inner may itself contain
// further separators when the target is nested several iframes deep.
type Composite struct {
	FrameSelector string
	InnerSelector string
}

// SplitComposite parses a composite selector. It returns false for any string
// without at least two non-empty segments.
func SplitComposite(s string) (Composite, bool) {
	if !strings.Contains(s, CompositeSeparator) {
		return Composite{}, false
	}
	raw := strings.Split(s, CompositeSeparator)
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return Composite{}, false
	}
	return Composite{
		FrameSelector: parts[0],
		InnerSelector: strings.Join(parts[1:], " "+CompositeSeparator+" "),
	}, true
}

// ComposeSelector joins a frame selector and an inner selector.
func ComposeSelector(frameSelector, innerSelector string) string {
	return strings.TrimSpace(frameSelector) + " " + CompositeSeparator + " " + strings.TrimSpace(innerSelector)
}

// IsComposite is a cheap check used by the scorer and locator.
func IsComposite(s string) bool {
	_, ok := SplitComposite(s)
	return ok
}

// String renders the normalized form.
func (c Composite) String() string {
	return ComposeSelector(c.FrameSelector, c.InnerSelector)
}
