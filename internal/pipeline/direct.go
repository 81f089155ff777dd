package pipeline

import (
	"context"

	"github.com/rklstats/rosterlink/internal/model"
)

// matchDirect annotates every entry that already carries a player id. An id
// present in the date's snapshot gets its karma figures and a direct match;
// an id absent from the snapshot means the player ranked outside the top
// 1000 that day.
func (s *Session) matchDirect(ctx context.Context) error {
	s.log.Info().Msg("phase 1: direct matching")
	err := s.eachEntry(ctx, func(g *model.GameRecord, p *model.PlayerEntry) {
		if p.PlayerID == "" {
			return
		}
		entries := s.cache.ForDate(ctx, g.GameDate)
		e, ok := entries[p.PlayerID]
		if !ok {
			p.Method = model.MethodOutsideTop1000
			s.stats.OutsideTop1000++
			return
		}
		p.KarmaAmount = e.Amount
		p.KarmaRank = e.Rank
		p.Method = model.MethodDirect
		s.claim(g.GameDate, p.PlayerID)
		s.stats.DirectMatches++
	})
	s.log.Info().
		Int("direct", s.stats.DirectMatches).
		Int("outside_top_1000", s.stats.OutsideTop1000).
		Msg("direct matching done")
	return err
}
