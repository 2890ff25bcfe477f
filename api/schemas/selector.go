package schemas

// -- Selector Schemas --

// CandidateType identifies the query language of a SelectorCandidate.
type CandidateType string

const (
	CandidateCSS   CandidateType = "css"
	CandidateXPath CandidateType = "xpath"
	CandidateAttr  CandidateType = "attr"
	CandidateAria  CandidateType = "aria"
	CandidateText  CandidateType = "text"
)

// CandidateSource records where a candidate came from.
type CandidateSource string

const (
	SourceRecorded  CandidateSource = "recorded"
	SourceUser      CandidateSource = "user"
	SourceGenerated CandidateSource = "generated"
)

// TextMatch controls how a text candidate is compared against visible text.
type TextMatch string

const (
	TextMatchExact    TextMatch = "exact"
	TextMatchContains TextMatch = "contains"
)

// StabilitySignals are the structural features detected in a selector.
type StabilitySignals struct {
	UsesID         bool `json:"usesId,omitempty"`
	UsesTestID     bool `json:"usesTestId,omitempty"`
	UsesAria       bool `json:"usesAria,omitempty"`
	UsesAttributes bool `json:"usesAttributes,omitempty"`
	UsesClass      bool `json:"usesClass,omitempty"`
	UsesText       bool `json:"usesText,omitempty"`
	UsesNthOfType  bool `json:"usesNthOfType,omitempty"`
	UsesIframe     bool `json:"usesIframe,omitempty"`
}

// SelectorStability is the heuristic estimate of how likely a selector is to
// survive markup churn. Score is always within [0,1].
type SelectorStability struct {
	Score   float64          `json:"score"`
	Signals StabilitySignals `json:"signals"`
	Note    string           `json:"note,omitempty"`
}

// SelectorCandidate is one way of locating an element.
//
// Aria candidates carry Role and Name; text candidates carry Match and an optional
// TagNameHint. Stability is filled lazily and then cached on the candidate.
type SelectorCandidate struct {
	Type      CandidateType      `json:"type"`
	Value     string             `json:"value"`
	Weight    float64            `json:"weight,omitempty"`
	Source    CandidateSource    `json:"source,omitempty"`
	Strategy  string             `json:"strategy,omitempty"`
	Stability *SelectorStability `json:"stability,omitempty"`

	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`

	Match       TextMatch `json:"match,omitempty"`
	TagNameHint string    `json:"tagNameHint,omitempty"`
}

// SelectorTarget is everything recorded about one element so it can be found
// again at replay time. Candidates is never empty.
type SelectorTarget struct {
	// Selector is the fast-path primary selector, usable without ranking.
	Selector   string              `json:"selector,omitempty"`
	Candidates []SelectorCandidate `json:"candidates"`
	TagName    string              `json:"tagName,omitempty"`
	// Ref is an ephemeral, page-lifetime handle. It is never meaningful across reloads.
	Ref string `json:"ref,omitempty"`

	Fingerprint     string   `json:"fingerprint,omitempty"`
	DOMPath         []int    `json:"domPath,omitempty"`
	ShadowHostChain []string `json:"shadowHostChain,omitempty"`
}

// Point is a viewport coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
