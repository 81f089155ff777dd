package pipeline

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/rklstats/rosterlink/internal/model"
)

// discoverByUsername resolves id-less entries against the username index.
// An exact, unambiguous hit always wins over any fuzzy score; fuzzy matching
// scans unambiguous usernames only and requires similarity above the
// configured floor.
func (s *Session) discoverByUsername(ctx context.Context) error {
	s.log.Info().Msg("phase 2: username discovery")
	names := s.cache.Names()
	err := s.eachEntry(ctx, func(g *model.GameRecord, p *model.PlayerEntry) {
		if p.PlayerID != "" {
			return
		}
		id, conf, ok := s.resolveHandle(p.Handle)
		if !ok {
			return
		}
		p.PlayerID = id
		p.Method = model.MethodUsername
		p.Confidence = conf
		s.discoveries[strings.ToLower(p.Handle)] = model.Discovery{
			UserID:     id,
			Confidence: conf,
			Method:     model.MethodUsername,
		}
		s.stats.UsernameMatches++
	})
	s.log.Info().
		Int("matched", s.stats.UsernameMatches).
		Int("usernames_indexed", names.Len()).
		Msg("username discovery done")
	return err
}

func (s *Session) resolveHandle(handle string) (string, model.Confidence, bool) {
	names := s.cache.Names()
	if id, ok := names.Resolve(handle); ok {
		return id, model.ConfidenceHigh, true
	}

	lower := strings.ToLower(strings.TrimSpace(handle))
	if lower == "" {
		return "", model.ConfidenceNone, false
	}
	bestID := ""
	bestName := ""
	bestScore := 0.0
	names.EachUnambiguous(func(name, id string) {
		score := similarity(lower, name)
		if score <= s.cfg.FuzzyFloor || score < bestScore {
			return
		}
		// Deterministic tie-break on equal scores.
		if score == bestScore && name >= bestName {
			return
		}
		bestID, bestName, bestScore = id, name, score
	})
	if bestID == "" {
		return "", model.ConfidenceNone, false
	}

	conf := model.ConfidenceLow
	switch {
	case bestScore > s.cfg.FuzzyHigh:
		conf = model.ConfidenceHigh
	case bestScore > s.cfg.FuzzyMedium:
		conf = model.ConfidenceMedium
	}
	s.log.Debug().
		Str("handle", handle).
		Str("username", bestName).
		Float64("similarity", bestScore).
		Msg("fuzzy username match")
	return bestID, conf, true
}

// similarity is the normalized Levenshtein ratio 1 - dist/maxLen over runes.
// Both inputs are expected to be lowercased already.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if n := len([]rune(b)); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}
