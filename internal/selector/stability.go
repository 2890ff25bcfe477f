// internal/selector/stability.go
package selector

import (
	"math"
	"strings"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

// DefaultTestIDAttributes are the attributes treated as dedicated test hooks.
var DefaultTestIDAttributes = []string{"data-testid", "data-test-id", "data-test", "data-qa", "data-cy"}

// Base scores keyed by the strongest signal present in a CSS/attr selector.
const (
	scoreTestID    = 0.95
	scoreID        = 0.90
	scoreAria      = 0.80
	scoreAttribute = 0.75
	scoreClass     = 0.65
	scoreBare      = 0.50

	penaltyNthOfType = 0.20
	penaltyIframe    = 0.05

	scoreXPathBase      = 0.42
	boostXPathTestID    = 0.30
	boostXPathID        = 0.25
	boostXPathAttribute = 0.13

	scoreAriaRoleAndName = 0.80
	scoreAriaNameOnly    = 0.70
	scoreAriaRoleOnly    = 0.60

	scoreTextBase = 0.45
)

// lengthPenalty applies one tier, not a sum of tiers.
func lengthPenalty(n int) float64 {
	switch {
	case n > 200:
		return 0.15
	case n > 120:
		return 0.10
	case n > 60:
		return 0.05
	default:
		return 0
	}
}

func clampScore(v float64) float64 {
	v = math.Round(v*1000) / 1000
	return math.Max(0, math.Min(1, v))
}

// ComputeStability scores a candidate. It is a pure function of the candidate.
func ComputeStability(c schemas.SelectorCandidate) schemas.SelectorStability {
	switch c.Type {
	case schemas.CandidateCSS, schemas.CandidateAttr:
		return cssStability(c.Value)
	case schemas.CandidateXPath:
		return xpathStability(c.Value)
	case schemas.CandidateAria:
		return ariaStability(c)
	case schemas.CandidateText:
		return textStability(c)
	default:
		return schemas.SelectorStability{Score: 0, Note: "unknown candidate type"}
	}
}

// WithStability returns c with Stability filled in. An existing score is kept.
func WithStability(c schemas.SelectorCandidate) schemas.SelectorCandidate {
	if c.Stability == nil {
		s := ComputeStability(c)
		c.Stability = &s
	}
	return c
}

func cssStability(value string) schemas.SelectorStability {
	normalized := strings.TrimSpace(value)
	parts := []string{normalized}
	composite, isComposite := SplitComposite(normalized)
	if isComposite {
		normalized = composite.String()
		parts = []string{composite.FrameSelector, composite.InnerSelector}
	}

	var sig schemas.StabilitySignals
	for _, p := range parts {
		f := scanCSS(p, DefaultTestIDAttributes)
		sig.UsesID = sig.UsesID || f.id
		sig.UsesTestID = sig.UsesTestID || f.testID
		sig.UsesAria = sig.UsesAria || f.aria
		sig.UsesAttributes = sig.UsesAttributes || f.attr
		sig.UsesClass = sig.UsesClass || f.class
		sig.UsesNthOfType = sig.UsesNthOfType || f.nth
	}
	sig.UsesIframe = isComposite

	var score float64
	switch {
	case sig.UsesTestID:
		score = scoreTestID
	case sig.UsesID:
		score = scoreID
	case sig.UsesAria:
		score = scoreAria
	case sig.UsesAttributes:
		score = scoreAttribute
	case sig.UsesClass:
		score = scoreClass
	default:
		score = scoreBare
	}
	if sig.UsesNthOfType {
		score -= penaltyNthOfType
	}
	score -= lengthPenalty(len(normalized))

	st := schemas.SelectorStability{Signals: sig}
	if isComposite {
		score -= penaltyIframe
		st.Note = "coupled to iframe selector"
	}
	st.Score = clampScore(score)
	return st
}

func xpathStability(value string) schemas.SelectorStability {
	var sig schemas.StabilitySignals
	score := scoreXPathBase
	lower := strings.ToLower(value)

	for _, attr := range DefaultTestIDAttributes {
		if strings.Contains(lower, "@"+attr) {
			sig.UsesTestID = true
			break
		}
	}
	sig.UsesID = strings.Contains(lower, "@id")
	sig.UsesAria = strings.Contains(lower, "@aria-") || strings.Contains(lower, "@role")
	sig.UsesAttributes = strings.Contains(lower, "[@")
	sig.UsesText = strings.Contains(lower, "text()")

	switch {
	case sig.UsesTestID:
		score += boostXPathTestID
	case sig.UsesID:
		score += boostXPathID
	case sig.UsesAttributes:
		score += boostXPathAttribute
	}
	score -= lengthPenalty(len(value))
	return schemas.SelectorStability{Score: clampScore(score), Signals: sig}
}

func ariaStability(c schemas.SelectorCandidate) schemas.SelectorStability {
	role, name := c.Role, c.Name
	if role == "" && name == "" {
		role, name = ParseAria(c.Value)
	}
	sig := schemas.StabilitySignals{UsesAria: true}
	var score float64
	switch {
	case role != "" && name != "":
		score = scoreAriaRoleAndName
	case name != "":
		score = scoreAriaNameOnly
	default:
		score = scoreAriaRoleOnly
	}
	return schemas.SelectorStability{Score: clampScore(score), Signals: sig}
}

func textStability(c schemas.SelectorCandidate) schemas.SelectorStability {
	text := NormalizeText(c.Value)
	n := len([]rune(text))
	score := scoreTextBase
	st := schemas.SelectorStability{Signals: schemas.StabilitySignals{UsesText: true}}
	if c.Match == schemas.TextMatchContains {
		score -= 0.05
	}
	if n > 32 {
		score -= 0.05
		st.Note = "long text"
	}
	if n > 64 {
		score -= 0.05
	}
	st.Score = clampScore(score)
	return st
}

// -- CSS Scanning --

type cssFeatures struct {
	id, testID, aria, attr, class, nth bool
}

func isIdentStart(b byte) bool {
	return b == '_' || b == '-' || b == '\\' || b >= 0x80 ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentChar(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}

// scanCSS walks a selector once, tracking quotes and attribute brackets so that
// a '#' or '.' inside an attribute value is not mistaken for an id or class.
func scanCSS(sel string, testIDAttrs []string) cssFeatures {
	var f cssFeatures
	for i := 0; i < len(sel); i++ {
		ch := sel[i]
		switch ch {
		case '\\':
			i++
		case '"', '\'':
			i = skipQuoted(sel, i)
		case '#':
			if i+1 < len(sel) && isIdentStart(sel[i+1]) {
				f.id = true
			}
		case '.':
			if i+1 < len(sel) && isIdentStart(sel[i+1]) {
				f.class = true
			}
		case ':':
			j := i + 1
			for j < len(sel) && (isIdentChar(sel[j]) || sel[j] == ':') {
				j++
			}
			switch strings.ToLower(strings.TrimLeft(sel[i+1:j], ":")) {
			case "nth-of-type", "nth-child", "nth-last-of-type", "nth-last-child":
				f.nth = true
			}
			i = j - 1
		case '[':
			j := i + 1
			for j < len(sel) && sel[j] == ' ' {
				j++
			}
			start := j
			for j < len(sel) && isIdentChar(sel[j]) {
				j++
			}
			name := strings.ToLower(sel[start:j])
			switch {
			case containsFold(testIDAttrs, name):
				f.testID = true
			case name == "id":
				f.id = true
			case name == "role" || strings.HasPrefix(name, "aria-"):
				f.aria = true
			case name != "":
				f.attr = true
			}
			for j < len(sel) && sel[j] != ']' {
				if sel[j] == '"' || sel[j] == '\'' {
					j = skipQuoted(sel, j)
				} else if sel[j] == '\\' {
					j++
				}
				j++
			}
			i = j
		}
	}
	return f
}

// skipQuoted returns the index of the closing quote for the quote at i.
func skipQuoted(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		if s[j] == '\\' {
			j++
			continue
		}
		if s[j] == q {
			return j
		}
	}
	return len(s) - 1
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
