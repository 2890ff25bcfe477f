// internal/selector/locator.go
package selector

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

// ErrNotFound is returned by Locate when no strategy re-finds the element.
// Callers decide how to classify it, typically TARGET_NOT_FOUND.
var ErrNotFound = errors.New("element not found")

// Source values for LocatedElement.
const (
	SourceRef         = "ref"
	SourceSelector    = "selector"
	SourceCandidate   = "candidate"
	SourceRefFallback = "ref-fallback"
)

// LocateOptions tunes one Locate call.
type LocateOptions struct {
	// FrameID is the frame to search when the target is not composite, and the
	// fallback when a composite frame cannot be mapped to a frame id.
	FrameID           *int
	PreferRef         bool
	AllowMultiple     bool
	VerifyFingerprint bool
}

// LocatedElement is a resolved element handle.
type LocatedElement struct {
	Ref       string
	Center    *schemas.Point
	FrameID   *int
	Source    string
	Candidate *schemas.SelectorCandidate
}

// Locator re-finds recorded elements through a Transport.
type Locator struct {
	transport schemas.Transport
	logger    *zap.Logger
}

// NewLocator creates a locator over t.
func NewLocator(t schemas.Transport, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{transport: t, logger: logger.Named("selector_locator")}
}

// query is one concrete lookup.
type query struct {
	frameSelector string
	selector      string
	isXPath       bool
	text          string
	match         schemas.TextMatch
	tagHint       string
}

// Locate tries, in order: the cached ref when preferred, the primary selector,
// every ranked candidate, and the cached ref once more. Steps for one target
// run strictly in sequence.
func (l *Locator) Locate(ctx context.Context, tabID int, target schemas.SelectorTarget, opts LocateOptions) (*LocatedElement, error) {
	log := l.logger.With(zap.Int("tab_id", tabID))

	if opts.PreferRef && target.Ref != "" {
		el, err := l.resolveRef(ctx, tabID, target, opts, SourceRef)
		if err != nil || el != nil {
			return el, err
		}
	}

	var frameSelector string
	if target.Selector != "" {
		q := l.primaryQuery(target)
		frameSelector = q.frameSelector
		el, err := l.resolve(ctx, tabID, q, target, opts)
		if err != nil {
			return nil, err
		}
		if el != nil {
			el.Source = SourceSelector
			return el, nil
		}
	}

	for _, c := range RankCandidates(target.Candidates) {
		for _, q := range candidateQueries(c, frameSelector) {
			el, err := l.resolve(ctx, tabID, q, target, opts)
			if err != nil {
				return nil, err
			}
			if el != nil {
				el.Source = SourceCandidate
				el.Candidate = &c
				log.Debug("Located element via candidate.",
					zap.String("type", string(c.Type)),
					zap.String("value", c.Value))
				return el, nil
			}
		}
	}

	if target.Ref != "" {
		el, err := l.resolveRef(ctx, tabID, target, opts, SourceRefFallback)
		if err != nil || el != nil {
			return el, err
		}
	}

	log.Debug("No candidate located the element.", zap.Int("candidates", len(target.Candidates)))
	return nil, ErrNotFound
}

// primaryQuery builds the fast-path query. The candidate whose value equals
// the primary selector decides how it is interpreted.
func (l *Locator) primaryQuery(target schemas.SelectorTarget) query {
	sel := strings.TrimSpace(target.Selector)
	var q query
	if comp, ok := SplitComposite(sel); ok {
		q.frameSelector = comp.FrameSelector
		sel = comp.InnerSelector
	}
	q.selector = sel
	for _, c := range target.Candidates {
		if c.Value != sel {
			continue
		}
		switch c.Type {
		case schemas.CandidateXPath:
			q.isXPath = true
		case schemas.CandidateText:
			q.selector = ""
			q.text, q.match, q.tagHint = c.Value, c.Match, c.TagNameHint
		case schemas.CandidateAria:
			if expanded := ExpandAria(c.Role, c.Name); len(expanded) > 0 {
				q.selector = expanded[0]
			}
		}
		return q
	}
	q.isXPath = looksLikeXPath(sel)
	return q
}

// candidateQueries expands one candidate into the concrete lookups to try.
func candidateQueries(c schemas.SelectorCandidate, frameSelector string) []query {
	withFrame := func(q query) query {
		if comp, ok := SplitComposite(q.selector); ok {
			q.frameSelector, q.selector = comp.FrameSelector, comp.InnerSelector
		} else if q.frameSelector == "" {
			q.frameSelector = frameSelector
		}
		return q
	}
	switch c.Type {
	case schemas.CandidateCSS, schemas.CandidateAttr:
		return []query{withFrame(query{selector: c.Value})}
	case schemas.CandidateXPath:
		return []query{withFrame(query{selector: c.Value, isXPath: true})}
	case schemas.CandidateAria:
		role, name := c.Role, c.Name
		if role == "" && name == "" {
			role, name = ParseAria(c.Value)
		}
		var out []query
		for _, css := range ExpandAria(role, name) {
			out = append(out, withFrame(query{selector: css}))
		}
		return out
	case schemas.CandidateText:
		match := c.Match
		if match == "" {
			match = schemas.TextMatchExact
		}
		return []query{{frameSelector: frameSelector, text: c.Value, match: match, tagHint: c.TagNameHint}}
	}
	return nil
}

func looksLikeXPath(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(/") || strings.HasPrefix(s, "./")
}

// resolve runs one query. A nil element with a nil error means not found.
func (l *Locator) resolve(ctx context.Context, tabID int, q query, target schemas.SelectorTarget, opts LocateOptions) (*LocatedElement, error) {
	frameID := opts.FrameID

	// Walk nested composite frames from the outside in.
	for q.frameSelector != "" {
		resp, err := l.send(ctx, tabID, schemas.ProbeRequest{
			Action:   schemas.ProbeEnsureRef,
			Selector: q.frameSelector,
			IsXPath:  looksLikeXPath(q.frameSelector),
		}, frameID)
		if err != nil || resp == nil {
			return nil, err
		}
		if mapped := l.mapHrefToFrameID(ctx, tabID, resp.Href); mapped != nil {
			frameID = mapped
		} else {
			l.logger.Debug("Frame href did not map to a frame, using fallback frame.",
				zap.String("frame_selector", q.frameSelector),
				zap.String("href", resp.Href))
			frameID = opts.FrameID
		}
		q.frameSelector = ""
		if comp, ok := SplitComposite(q.selector); ok {
			q.frameSelector, q.selector = comp.FrameSelector, comp.InnerSelector
		}
	}

	req := schemas.ProbeRequest{
		Action:          schemas.ProbeEnsureRef,
		Selector:        q.selector,
		IsXPath:         q.isXPath,
		Text:            q.text,
		TextMatch:       q.match,
		TagName:         q.tagHint,
		ShadowHostChain: target.ShadowHostChain,
		AllowMultiple:   opts.AllowMultiple,
	}
	if req.Selector == "" && req.Text == "" {
		return nil, nil
	}
	resp, err := l.send(ctx, tabID, req, frameID)
	if err != nil || resp == nil {
		return nil, err
	}
	if resp.Ref == "" {
		return nil, nil
	}

	ok, err := l.verify(ctx, tabID, resp.Ref, target, opts, frameID)
	if err != nil || !ok {
		return nil, err
	}
	return &LocatedElement{Ref: resp.Ref, Center: resp.Center, FrameID: frameID}, nil
}

func (l *Locator) resolveRef(ctx context.Context, tabID int, target schemas.SelectorTarget, opts LocateOptions, source string) (*LocatedElement, error) {
	resp, err := l.send(ctx, tabID, schemas.ProbeRequest{Action: schemas.ProbeResolveRef, Ref: target.Ref}, opts.FrameID)
	if err != nil || resp == nil {
		return nil, err
	}
	ref := resp.Ref
	if ref == "" {
		ref = target.Ref
	}
	ok, err := l.verify(ctx, tabID, ref, target, opts, opts.FrameID)
	if err != nil || !ok {
		return nil, err
	}
	return &LocatedElement{Ref: ref, Center: resp.Center, FrameID: opts.FrameID, Source: source}, nil
}

// verify checks a match against the recorded fingerprint when requested. A
// mismatch is reported as false so the caller moves on.
func (l *Locator) verify(ctx context.Context, tabID int, ref string, target schemas.SelectorTarget, opts LocateOptions, frameID *int) (bool, error) {
	if !opts.VerifyFingerprint || target.Fingerprint == "" {
		return true, nil
	}
	resp, err := l.send(ctx, tabID, schemas.ProbeRequest{
		Action:      schemas.ProbeVerifyFingerprint,
		Ref:         ref,
		Fingerprint: target.Fingerprint,
	}, frameID)
	if err != nil {
		return false, err
	}
	if resp == nil {
		l.logger.Debug("Fingerprint mismatch, skipping match.", zap.String("ref", ref))
		return false, nil
	}
	return true, nil
}

// send performs one exchange. Transport failures and unsuccessful responses
// are both "not found" (nil, nil); only context errors are returned.
func (l *Locator) send(ctx context.Context, tabID int, req schemas.ProbeRequest, frameID *int) (*schemas.ProbeResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := l.transport.SendMessage(ctx, tabID, req, schemas.SendOptions{FrameID: frameID})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		l.logger.Debug("Transport request failed, treating as not found.",
			zap.String("action", string(req.Action)),
			zap.Error(err))
		return nil, nil
	}
	if resp == nil || !resp.Success {
		if resp != nil && resp.Cancelled {
			l.logger.Debug("Probe request was cancelled by the page.", zap.String("action", string(req.Action)))
		}
		return nil, nil
	}
	return resp, nil
}

// mapHrefToFrameID maps an iframe's href to a frame id: an exact URL match
// first, then a frame whose URL extends the href. It returns nil when the
// iframe has navigated somewhere the frame list no longer reflects.
func (l *Locator) mapHrefToFrameID(ctx context.Context, tabID int, href string) *int {
	href = strings.TrimSpace(href)
	if href == "" {
		return nil
	}
	frames, err := l.transport.GetAllFrames(ctx, tabID)
	if err != nil {
		l.logger.Debug("Frame enumeration failed.", zap.Error(err))
		return nil
	}
	for _, f := range frames {
		if f.FrameID != 0 && f.URL == href {
			return schemas.FrameRef(f.FrameID)
		}
	}
	for _, f := range frames {
		if f.FrameID != 0 && strings.HasPrefix(f.URL, href) {
			return schemas.FrameRef(f.FrameID)
		}
	}
	return nil
}
