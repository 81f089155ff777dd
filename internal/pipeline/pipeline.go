// Package pipeline implements the multi-phase reconciliation run that
// resolves roster handles to canonical user ids: direct matching, username
// discovery, rank discovery, and multi-date verification of uncertain
// discoveries.
package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rklstats/rosterlink/internal/karma"
	"github.com/rklstats/rosterlink/internal/model"
	"github.com/rklstats/rosterlink/internal/realvg"
	"github.com/rklstats/rosterlink/internal/storage"
)

// Config holds the operator-tunable parameters of a run.
type Config struct {
	// Tolerance is the maximum allowed |rank - ranking| for a rank-based match.
	Tolerance int

	// Fuzzy username matching thresholds (normalized Levenshtein similarity).
	FuzzyFloor  float64
	FuzzyMedium float64
	FuzzyHigh   float64

	// VerifyAgreement is the minimum matched fraction of overlapping dates
	// for an uncertain discovery to be accepted.
	VerifyAgreement float64

	// HistoryNotBefore bounds ranked-days history fetches (ISO day string,
	// empty = unbounded).
	HistoryNotBefore string

	// DropRejected controls whether the exporter strips ids from rejected
	// matches. Rejection itself never clears PlayerID on the in-memory
	// records; rejected entries stay flagged for human review.
	DropRejected bool
}

// DefaultConfig returns the standard run parameters.
func DefaultConfig() Config {
	return Config{
		Tolerance:       50,
		FuzzyFloor:      0.85,
		FuzzyMedium:     0.90,
		FuzzyHigh:       0.95,
		VerifyAgreement: 0.70,
	}
}

// Result is the outcome of a run: the enriched games, the discovery memo,
// the merged handle map, and the numeric breakdown.
type Result struct {
	Games         []*model.GameRecord
	Discoveries   map[string]model.Discovery
	MergedHandles map[string]string
	Stats         model.RunStats
	DropRejected  bool
}

// Session carries all mutable state of one reconciliation run. All caches
// are session-scoped; independent sessions never share state.
type Session struct {
	cfg     Config
	log     zerolog.Logger
	games   []*model.GameRecord
	handles map[string]string

	cache     *karma.Cache
	history   realvg.HistorySource
	histMemo  map[string][]realvg.RankedDay
	histStore *storage.DB

	discoveries map[string]model.Discovery
	used        map[string]map[string]struct{}
	stats       model.RunStats
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(log zerolog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithHistoryStore persists fetched ranked-days histories across runs.
func WithHistoryStore(db *storage.DB) SessionOption {
	return func(s *Session) { s.histStore = db }
}

// NewSession builds a session over the loaded games and pre-known handle map.
// handles may be nil. The handle map is merged into the exported mapping but
// never overrides pipeline discoveries.
func NewSession(cfg Config, cache *karma.Cache, history realvg.HistorySource, games []*model.GameRecord, handles map[string]string, opts ...SessionOption) *Session {
	if handles == nil {
		handles = map[string]string{}
	}
	s := &Session{
		cfg:         cfg,
		log:         zerolog.Nop(),
		games:       games,
		handles:     handles,
		cache:       cache,
		history:     history,
		histMemo:    make(map[string][]realvg.RankedDay),
		discoveries: make(map[string]model.Discovery),
		used:        make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the full pipeline. Cancellation is cooperative: the context is
// checked at every per-item iteration and between phases, and already-mutated
// records keep their partial state in the returned result.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if err := s.warm(ctx); err != nil {
		return s.result(), err
	}
	if err := s.runDiscoveryPhases(ctx); err != nil {
		return s.result(), err
	}
	if err := s.verifyUncertain(ctx); err != nil {
		return s.result(), err
	}
	return s.result(), nil
}

// RunDiscovery executes phases 1-3 only, skipping verification.
func (s *Session) RunDiscovery(ctx context.Context) (*Result, error) {
	if err := s.warm(ctx); err != nil {
		return s.result(), err
	}
	if err := s.runDiscoveryPhases(ctx); err != nil {
		return s.result(), err
	}
	return s.result(), nil
}

func (s *Session) runDiscoveryPhases(ctx context.Context) error {
	if err := s.matchDirect(ctx); err != nil {
		return err
	}
	if err := s.discoverByUsername(ctx); err != nil {
		return err
	}
	return s.discoverByRank(ctx)
}

// Dates returns the distinct game dates, sorted.
func (s *Session) Dates() []string {
	seen := make(map[string]bool)
	var dates []string
	for _, g := range s.games {
		if !seen[g.GameDate] {
			seen[g.GameDate] = true
			dates = append(dates, g.GameDate)
		}
	}
	sort.Strings(dates)
	return dates
}

// Stats returns the current numeric breakdown.
func (s *Session) Stats() model.RunStats { return s.stats }

func (s *Session) warm(ctx context.Context) error {
	dates := s.Dates()
	s.log.Info().Int("dates", len(dates)).Msg("warming karma cache")
	return s.cache.Warm(ctx, dates)
}

func (s *Session) result() *Result {
	merged := make(map[string]string, len(s.handles)+len(s.discoveries))
	for h, id := range s.handles {
		merged[strings.ToLower(h)] = id
	}
	for h, d := range s.discoveries {
		merged[h] = d.UserID
	}
	return &Result{
		Games:         s.games,
		Discoveries:   s.discoveries,
		MergedHandles: merged,
		Stats:         s.stats,
		DropRejected:  s.cfg.DropRejected,
	}
}

// eachEntry visits every roster entry in input order, checking the context
// before each item. Entries are passed by pointer for in-place enrichment.
func (s *Session) eachEntry(ctx context.Context, fn func(g *model.GameRecord, p *model.PlayerEntry)) error {
	for _, g := range s.games {
		for _, roster := range g.Rosters() {
			for i := range roster {
				if err := ctx.Err(); err != nil {
					return err
				}
				fn(g, &roster[i])
			}
		}
	}
	return nil
}

// claim marks a user id as assigned on a date, excluding it from later
// rank-discovery candidate pools for that date.
func (s *Session) claim(date, userID string) {
	set, ok := s.used[date]
	if !ok {
		set = make(map[string]struct{})
		s.used[date] = set
	}
	set[userID] = struct{}{}
}

func (s *Session) claimed(date, userID string) bool {
	_, ok := s.used[date][userID]
	return ok
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
