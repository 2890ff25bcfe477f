// internal/selector/rank.go
package selector

import (
	"sort"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

// typePriority orders candidate types when weight and score tie. Lower wins.
var typePriority = map[schemas.CandidateType]int{
	schemas.CandidateAttr:  0,
	schemas.CandidateCSS:   1,
	schemas.CandidateAria:  2,
	schemas.CandidateXPath: 3,
	schemas.CandidateText:  4,
}

func priorityOf(t schemas.CandidateType) int {
	if p, ok := typePriority[t]; ok {
		return p
	}
	return len(typePriority)
}

func scoreOf(c schemas.SelectorCandidate) float64 {
	if c.Stability == nil {
		return ComputeStability(c).Score
	}
	return c.Stability.Score
}

// lessCandidate is the ranking comparator: weight, stability score, type
// priority, shorter value, then value order so the result is total.
func lessCandidate(a, b schemas.SelectorCandidate) bool {
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	if sa, sb := scoreOf(a), scoreOf(b); sa != sb {
		return sa > sb
	}
	if pa, pb := priorityOf(a.Type), priorityOf(b.Type); pa != pb {
		return pa < pb
	}
	if len(a.Value) != len(b.Value) {
		return len(a.Value) < len(b.Value)
	}
	return a.Value < b.Value
}

// RankCandidates returns a sorted copy of candidates with stability filled in.
// Ranking an already ranked list returns the same order.
func RankCandidates(candidates []schemas.SelectorCandidate) []schemas.SelectorCandidate {
	out := make([]schemas.SelectorCandidate, len(candidates))
	for i, c := range candidates {
		out[i] = WithStability(c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lessCandidate(out[i], out[j])
	})
	return out
}

// candidateKey identifies duplicates: same type and value, and for aria the
// same role and name, for text the same tag hint and match mode.
func candidateKey(c schemas.SelectorCandidate) string {
	key := string(c.Type) + "\x00" + c.Value
	switch c.Type {
	case schemas.CandidateAria:
		key += "\x00" + c.Role + "\x00" + c.Name
	case schemas.CandidateText:
		key += "\x00" + c.TagNameHint + "\x00" + string(c.Match)
	}
	return key
}

// DedupeCandidates keeps the first occurrence of each candidate key.
func DedupeCandidates(candidates []schemas.SelectorCandidate) []schemas.SelectorCandidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]schemas.SelectorCandidate, 0, len(candidates))
	for _, c := range candidates {
		k := candidateKey(c)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}
