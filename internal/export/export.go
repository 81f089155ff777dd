// Package export writes the run outputs: enriched games, the discovery memo,
// the merged handle map, and a machine-readable run report.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rklstats/rosterlink/internal/model"
	"github.com/rklstats/rosterlink/internal/pipeline"
)

// Output file names within the output directory.
const (
	GamesFile       = "games-enhanced.json"
	DiscoveriesFile = "discoveries.json"
	HandlesFile     = "handle-to-id.json"
	ReportFile      = "report.json"
)

// Report is the machine-readable run summary written next to the data files.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Games       int            `json:"games"`
	Entries     int            `json:"entries"`
	Discoveries int            `json:"discoveries"`
	Stats       model.RunStats `json:"stats"`
}

// WriteAll writes every output file for a run into dir, creating it if needed.
func WriteAll(dir string, res *pipeline.Result) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	games := res.Games
	if res.DropRejected {
		games = scrubRejected(games)
	}
	if err := writeJSON(filepath.Join(dir, GamesFile), games); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, DiscoveriesFile), res.Discoveries); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, HandlesFile), res.MergedHandles); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, ReportFile), buildReport(res))
}

func buildReport(res *pipeline.Result) Report {
	entries := 0
	for _, g := range res.Games {
		entries += len(g.RosterA) + len(g.RosterB)
	}
	return Report{
		GeneratedAt: time.Now().UTC(),
		Games:       len(res.Games),
		Entries:     entries,
		Discoveries: len(res.Discoveries),
		Stats:       res.Stats,
	}
}

// scrubRejected deep-copies the games and strips the resolved id and karma
// figures from rejected entries. The in-memory records are left untouched.
func scrubRejected(games []*model.GameRecord) []*model.GameRecord {
	out := make([]*model.GameRecord, len(games))
	for i, g := range games {
		cp := *g
		cp.RosterA = scrubRoster(g.RosterA)
		cp.RosterB = scrubRoster(g.RosterB)
		out[i] = &cp
	}
	return out
}

func scrubRoster(roster []model.PlayerEntry) []model.PlayerEntry {
	out := make([]model.PlayerEntry, len(roster))
	copy(out, roster)
	for i := range out {
		if !out[i].Rejected {
			continue
		}
		out[i].PlayerID = ""
		out[i].KarmaAmount = 0
		out[i].KarmaRank = 0
		out[i].Method = model.MethodNone
		out[i].Confidence = model.ConfidenceNone
	}
	return out
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
