package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/rklstats/rosterlink/internal/model"
	"github.com/rklstats/rosterlink/internal/realvg"
)

// verifyUncertain cross-checks every uncertain rank discovery against the
// candidate's own ranked-days history. Rankings observed for the handle
// across the whole dataset are compared to the history per overlapping date;
// the discovery is accepted when the matched fraction of overlapping dates
// reaches the agreement threshold, and rejected otherwise. Handles with
// fewer than two ranking observations are left untouched.
func (s *Session) verifyUncertain(ctx context.Context) error {
	s.log.Info().Msg("phase 4: verifying uncertain matches")
	targets := make(map[string]string)
	if err := s.eachEntry(ctx, func(g *model.GameRecord, p *model.PlayerEntry) {
		if p.Uncertain && !p.Verified && !p.Rejected && p.PlayerID != "" {
			targets[strings.ToLower(p.Handle)] = p.PlayerID
		}
	}); err != nil {
		return err
	}
	if len(targets) == 0 {
		s.log.Info().Msg("no uncertain matches to verify")
		return nil
	}
	if s.history == nil {
		s.log.Warn().Int("handles", len(targets)).
			Msg("no ranked-days source available; uncertain matches left unverified")
		return nil
	}

	observations := make(map[string]map[string]int, len(targets))
	if err := s.eachEntry(ctx, func(g *model.GameRecord, p *model.PlayerEntry) {
		key := strings.ToLower(p.Handle)
		if _, ok := targets[key]; !ok || p.Ranking == 0 {
			return
		}
		days, ok := observations[key]
		if !ok {
			days = make(map[string]int)
			observations[key] = days
		}
		days[g.GameDate] = p.Ranking
	}); err != nil {
		return err
	}

	handles := make([]string, 0, len(targets))
	for h := range targets {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	for _, handle := range handles {
		if err := ctx.Err(); err != nil {
			return err
		}
		expected := observations[handle]
		if len(expected) < 2 {
			s.log.Debug().Str("handle", handle).Int("observations", len(expected)).
				Msg("too few ranking observations; leaving uncertain")
			continue
		}
		userID := targets[handle]
		history, err := s.fetchHistory(ctx, userID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn().Str("handle", handle).Str("user_id", userID).Err(err).
				Msg("history fetch failed; leaving uncertain")
			continue
		}
		valid := agreesWithHistory(expected, history, s.cfg.Tolerance, s.cfg.VerifyAgreement)
		if err := s.applyVerdict(ctx, handle, userID, valid); err != nil {
			return err
		}
	}
	s.log.Info().
		Int("verified", s.stats.VerifiedEntries).
		Int("rejected", s.stats.RejectedEntries).
		Msg("verification done")
	return nil
}

// fetchHistory returns a user's ranked-days history, memoized per session and
// optionally persisted in the local store across runs.
func (s *Session) fetchHistory(ctx context.Context, userID string) ([]realvg.RankedDay, error) {
	if days, ok := s.histMemo[userID]; ok {
		return days, nil
	}
	if s.histStore != nil {
		fetched, err := s.histStore.HistoryFetched(userID)
		if err == nil && fetched {
			days, err := s.histStore.LoadHistory(userID)
			if err == nil {
				s.histMemo[userID] = days
				return days, nil
			}
			s.log.Warn().Str("user_id", userID).Err(err).Msg("history store read failed")
		}
	}
	days, err := s.history.History(ctx, userID, s.cfg.HistoryNotBefore)
	if err != nil {
		return nil, err
	}
	s.histMemo[userID] = days
	if s.histStore != nil {
		if err := s.histStore.SaveHistory(userID, days); err != nil {
			s.log.Warn().Str("user_id", userID).Err(err).Msg("history store write failed")
		}
	}
	return days, nil
}

// agreesWithHistory compares observed rankings to the user's ranked-days
// history. Only dates present in both count; each overlapping date matches
// when the rank deviation is within tolerance. Returns false when no dates
// overlap at all.
func agreesWithHistory(expected map[string]int, history []realvg.RankedDay, tolerance int, agreement float64) bool {
	rankByDay := make(map[string]int, len(history))
	for _, d := range history {
		rankByDay[d.Day] = d.Rank
	}
	overlap, matched := 0, 0
	for day, want := range expected {
		rank, ok := rankByDay[day]
		if !ok {
			continue
		}
		overlap++
		if abs(rank-want) <= tolerance {
			matched++
		}
	}
	if overlap == 0 {
		return false
	}
	return float64(matched)/float64(overlap) >= agreement
}

// applyVerdict propagates an accept or reject decision to every entry that
// shares the handle and carries the candidate id, and updates the memoized
// discovery accordingly.
func (s *Session) applyVerdict(ctx context.Context, handle, userID string, valid bool) error {
	if err := s.eachEntry(ctx, func(g *model.GameRecord, p *model.PlayerEntry) {
		if strings.ToLower(p.Handle) != handle || p.PlayerID != userID {
			return
		}
		if valid {
			p.Verified = true
			p.Uncertain = false
			s.stats.VerifiedEntries++
			return
		}
		p.Rejected = true
		s.stats.RejectedEntries++
	}); err != nil {
		return err
	}

	d, ok := s.discoveries[handle]
	if !ok {
		d = model.Discovery{UserID: userID, Method: model.MethodRankDiscovery}
	}
	if valid {
		d.Confidence = model.ConfidenceHigh
		d.Verified = true
		s.log.Info().Str("handle", handle).Str("user_id", userID).Msg("uncertain match verified")
	} else {
		d.Confidence = model.ConfidenceRejected
		d.Verified = false
		s.log.Info().Str("handle", handle).Str("user_id", userID).Msg("uncertain match rejected")
	}
	s.discoveries[handle] = d
	return nil
}
