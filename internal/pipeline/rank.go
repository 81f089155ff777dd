package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/rklstats/rosterlink/internal/model"
)

// rankCandidate is a snapshot entry within rank tolerance of an observed
// ranking, carrying the absolute rank difference for ordering.
type rankCandidate struct {
	id    string
	entry model.KarmaEntry
	diff  int
}

// discoverByRank resolves the remaining id-less entries. A prior discovery
// for the same handle is reused when the discovered user appears in the
// date's snapshot; otherwise candidates are drawn from the snapshot by rank
// proximity, excluding ids already claimed on that date.
func (s *Session) discoverByRank(ctx context.Context) error {
	s.log.Info().Msg("phase 3: rank discovery")
	err := s.eachEntry(ctx, func(g *model.GameRecord, p *model.PlayerEntry) {
		if p.PlayerID != "" {
			return
		}
		key := strings.ToLower(p.Handle)
		if d, ok := s.discoveries[key]; ok {
			s.applyPriorDiscovery(ctx, g, p, d)
			return
		}
		if p.Ranking == 0 {
			s.stats.NoMatch++
			return
		}

		cands := s.rankCandidates(ctx, g.GameDate, p.Ranking)
		if len(cands) == 0 {
			s.stats.NoMatch++
			return
		}
		pick, uncertain := chooseCandidate(cands, p.Handle)

		p.PlayerID = pick.id
		p.KarmaAmount = pick.entry.Amount
		p.KarmaRank = pick.entry.Rank
		p.Method = model.MethodRankDiscovery
		conf := model.ConfidenceMedium
		if uncertain {
			p.Uncertain = true
			p.Candidates = len(cands)
			conf = model.ConfidenceLow
			s.stats.Uncertain++
		}
		p.Confidence = conf

		s.discoveries[key] = model.Discovery{
			UserID:     pick.id,
			Confidence: conf,
			Method:     model.MethodRankDiscovery,
		}
		s.claim(g.GameDate, pick.id)
		s.stats.RankDiscoveries++
	})
	s.log.Info().
		Int("discovered", s.stats.RankDiscoveries).
		Int("reused", s.stats.PreviouslyDiscovered).
		Int("uncertain", s.stats.Uncertain).
		Int("unmatched", s.stats.NoMatch).
		Msg("rank discovery done")
	return err
}

// applyPriorDiscovery reuses a memoized handle discovery for a new date. The
// entry is only enriched when the discovered user actually appears in that
// date's snapshot; otherwise the entry stays unmatched.
func (s *Session) applyPriorDiscovery(ctx context.Context, g *model.GameRecord, p *model.PlayerEntry, d model.Discovery) {
	e, ok := s.cache.ForDate(ctx, g.GameDate)[d.UserID]
	if !ok {
		s.stats.NoMatch++
		return
	}
	p.PlayerID = d.UserID
	p.KarmaAmount = e.Amount
	p.KarmaRank = e.Rank
	p.Method = model.MethodPreviouslyDiscovered
	p.Confidence = d.Confidence
	s.claim(g.GameDate, d.UserID)
	s.stats.PreviouslyDiscovered++
}

// rankCandidates returns unclaimed snapshot entries within tolerance of the
// observed ranking, ordered by rank proximity (id as a deterministic tie-break).
func (s *Session) rankCandidates(ctx context.Context, date string, ranking int) []rankCandidate {
	entries := s.cache.ForDate(ctx, date)
	var cands []rankCandidate
	for id, e := range entries {
		if s.claimed(date, id) {
			continue
		}
		diff := abs(e.Rank - ranking)
		if diff > s.cfg.Tolerance {
			continue
		}
		cands = append(cands, rankCandidate{id: id, entry: e, diff: diff})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].diff != cands[j].diff {
			return cands[i].diff < cands[j].diff
		}
		return cands[i].id < cands[j].id
	})
	return cands
}

// chooseCandidate picks from a proximity-ordered candidate list. Textual
// evidence wins: the closest candidate whose username equals, contains, or is
// contained by the handle (case-insensitive) is accepted outright. With no
// textual evidence, a sole candidate is accepted; several candidates mean the
// closest one is taken but flagged uncertain.
func chooseCandidate(cands []rankCandidate, handle string) (rankCandidate, bool) {
	lower := strings.ToLower(handle)
	if lower != "" {
		for _, c := range cands {
			name := strings.ToLower(c.entry.Username)
			if name == "" {
				continue
			}
			if name == lower || strings.Contains(name, lower) || strings.Contains(lower, name) {
				return c, false
			}
		}
	}
	if len(cands) == 1 {
		return cands[0], false
	}
	return cands[0], true
}
