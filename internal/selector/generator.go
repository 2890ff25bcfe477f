// internal/selector/generator.go
package selector

import (
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

// Generator runs a strategy set against an element and assembles a
// SelectorTarget.
type Generator struct {
	logger     *zap.Logger
	strategies []Strategy
}

// NewGenerator creates a generator. With no strategies given it uses
// DefaultStrategies.
func NewGenerator(logger *zap.Logger, strategies ...Strategy) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Generator{
		logger:     logger.Named("selector_generator"),
		strategies: strategies,
	}
}

// Generate produces a target for el. The candidate list is never empty: when
// every strategy comes up dry the target falls back to "body".
func (g *Generator) Generate(el *html.Node, opts GenerateOptions) schemas.SelectorTarget {
	opts = opts.normalized()
	target := schemas.SelectorTarget{TagName: tagName(el)}

	var all []schemas.SelectorCandidate
	if isElement(el) {
		for _, s := range g.strategies {
			if !opts.enabled(s.Name()) {
				continue
			}
			found := s.Candidates(el, opts)
			g.logger.Debug("Strategy finished.",
				zap.String("strategy", s.Name()),
				zap.Int("candidates", len(found)))
			all = append(all, found...)
		}
	}

	ranked := RankCandidates(DedupeCandidates(all))
	if len(ranked) > opts.MaxCandidates {
		ranked = ranked[:opts.MaxCandidates]
	}
	if len(ranked) == 0 {
		g.logger.Warn("No strategy produced a candidate, falling back to body.",
			zap.String("tag", target.TagName))
		ranked = RankCandidates([]schemas.SelectorCandidate{
			generated(strategyFallback, schemas.CandidateCSS, "body"),
		})
	}
	target.Candidates = ranked
	target.Selector = primarySelector(ranked)
	if opts.FrameSelector != "" && target.Selector != "" {
		target.Selector = ComposeSelector(opts.FrameSelector, target.Selector)
	}
	return target
}

// primarySelector picks the first css or attr candidate, else the top one.
func primarySelector(ranked []schemas.SelectorCandidate) string {
	for _, c := range ranked {
		if c.Type == schemas.CandidateCSS || c.Type == schemas.CandidateAttr {
			return c.Value
		}
	}
	if len(ranked) > 0 {
		return ranked[0].Value
	}
	return ""
}

// GenerateExtended is Generate plus a fingerprint, a DOM path, and the chain of
// shadow host selectors for elements inside shadow roots.
func (g *Generator) GenerateExtended(el *html.Node, opts GenerateOptions) schemas.SelectorTarget {
	target := g.Generate(el, opts)
	if !isElement(el) {
		return target
	}
	target.Fingerprint = ComputeFingerprint(el)
	target.DOMPath = DOMPath(el)
	target.ShadowHostChain = g.shadowHostChain(el, opts)
	return target
}

// shadowHostChain resolves one selector per enclosing shadow host, outermost
// first. A host that cannot be resolved empties the whole chain.
func (g *Generator) shadowHostChain(el *html.Node, opts GenerateOptions) []string {
	hosts := ShadowHosts(el)
	if len(hosts) == 0 {
		return nil
	}
	hostOpts := opts
	hostOpts.FrameSelector = ""

	chain := make([]string, 0, len(hosts))
	for _, host := range hosts {
		sel := g.hostSelector(host, hostOpts)
		if sel == "" {
			g.logger.Debug("Shadow host could not be resolved, dropping chain.",
				zap.String("host", tagName(host)))
			return nil
		}
		chain = append(chain, sel)
	}
	return chain
}

func (g *Generator) hostSelector(host *html.Node, opts GenerateOptions) string {
	t := g.Generate(host, opts)
	var firstMatch string
	for _, c := range t.Candidates {
		if c.Type != schemas.CandidateCSS && c.Type != schemas.CandidateAttr {
			continue
		}
		if matchesUniquely(host, c.Value) {
			return c.Value
		}
		if firstMatch == "" && firstMatchIs(host, c.Value) {
			firstMatch = c.Value
		}
	}
	return firstMatch
}

// firstMatchIs reports whether host is the first element sel matches in its root.
func firstMatchIs(host *html.Node, sel string) bool {
	m, err := CompileCSS(sel)
	if err != nil {
		return false
	}
	matches := QueryScoped(ScopeRoot(host), m)
	return len(matches) > 0 && matches[0] == host
}
