package model

// MatchMethod records how a roster entry was resolved to a canonical user id.
type MatchMethod string

const (
	MethodNone                 MatchMethod = ""
	MethodDirect               MatchMethod = "direct"
	MethodUsername             MatchMethod = "username"
	MethodRankDiscovery        MatchMethod = "rank_discovery"
	MethodPreviouslyDiscovered MatchMethod = "previously_discovered"
	MethodOutsideTop1000       MatchMethod = "outside_top_1000"
)

func (m MatchMethod) String() string {
	if m == MethodNone {
		return "none"
	}
	return string(m)
}

// Confidence grades how trustworthy a resolution is.
type Confidence string

const (
	ConfidenceNone     Confidence = ""
	ConfidenceLow      Confidence = "low"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceHigh     Confidence = "high"
	ConfidenceRejected Confidence = "rejected"
)

func (c Confidence) String() string {
	if c == ConfidenceNone {
		return "none"
	}
	return string(c)
}

// PlayerEntry is one roster slot in a GameRecord. Handle is the only field
// guaranteed by the input; everything from KarmaAmount down is enrichment
// attached by the pipeline phases. A Ranking of 0 means no in-game ranking
// was recorded (ranks are 1-based).
type PlayerEntry struct {
	Handle   string  `json:"handle"`
	PlayerID string  `json:"player_id,omitempty"`
	Score    float64 `json:"score,omitempty"`
	Ranking  int     `json:"ranking,omitempty"`

	KarmaAmount int         `json:"karma_amount,omitempty"`
	KarmaRank   int         `json:"karma_rank,omitempty"`
	Method      MatchMethod `json:"match_method,omitempty"`
	Confidence  Confidence  `json:"match_confidence,omitempty"`
	Uncertain   bool        `json:"match_uncertain,omitempty"`
	Candidates  int         `json:"match_candidates,omitempty"`
	Verified    bool        `json:"match_verified,omitempty"`
	Rejected    bool        `json:"match_rejected,omitempty"`
}

// GameRecord is one historical match. Team names, scores and the winner are
// carried through from the game-log parser untouched; the pipeline only
// mutates the roster entries.
type GameRecord struct {
	GameDate string        `json:"game_date"`
	TeamA    string        `json:"team_a,omitempty"`
	TeamB    string        `json:"team_b,omitempty"`
	ScoreA   float64       `json:"score_a,omitempty"`
	ScoreB   float64       `json:"score_b,omitempty"`
	Winner   string        `json:"winner,omitempty"`
	RosterA  []PlayerEntry `json:"roster_a"`
	RosterB  []PlayerEntry `json:"roster_b"`
}

// Rosters returns both roster slices. The slice headers are copies but share
// backing arrays with the record, so indexing into them mutates the record.
func (g *GameRecord) Rosters() [][]PlayerEntry {
	return [][]PlayerEntry{g.RosterA, g.RosterB}
}

// KarmaEntry is one ranked user's karma snapshot for a single date.
type KarmaEntry struct {
	Amount   int    `json:"amount"`
	Rank     int    `json:"rank"`
	Username string `json:"username"`
}

// Discovery is the durable handle-to-id resolution memo shared across all
// games in a run. Keys into the memo are lowercased handles.
type Discovery struct {
	UserID     string      `json:"user_id"`
	Confidence Confidence  `json:"confidence"`
	Method     MatchMethod `json:"method"`
	Verified   bool        `json:"verified,omitempty"`
}

// RunStats is the per-run numeric breakdown shown to the operator.
type RunStats struct {
	DirectMatches        int `json:"direct_matches"`
	UsernameMatches      int `json:"username_matches"`
	RankDiscoveries      int `json:"rank_discoveries"`
	PreviouslyDiscovered int `json:"previously_discovered"`
	OutsideTop1000       int `json:"outside_top_1000"`
	NoMatch              int `json:"no_match"`
	Uncertain            int `json:"uncertain"`
	VerifiedEntries      int `json:"verified_entries"`
	RejectedEntries      int `json:"rejected_entries"`
}
