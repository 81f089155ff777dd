// Package report renders run results as console tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/rklstats/rosterlink/internal/model"
	"github.com/rklstats/rosterlink/internal/pipeline"
)

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignRight}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
	}))
}

// PrintRunSummary prints the per-method match breakdown for a finished run.
func PrintRunSummary(w io.Writer, res *pipeline.Result) {
	entries := 0
	for _, g := range res.Games {
		entries += len(g.RosterA) + len(g.RosterB)
	}
	fmt.Fprintf(w, "\nGames: %d  |  Roster entries: %d  |  Discoveries: %d\n\n",
		len(res.Games), entries, len(res.Discoveries))

	s := res.Stats
	table := newTable(w)
	table.Header("METHOD", "COUNT")
	table.Append("direct", strconv.Itoa(s.DirectMatches))
	table.Append("username", strconv.Itoa(s.UsernameMatches))
	table.Append("rank_discovery", strconv.Itoa(s.RankDiscoveries))
	table.Append("previously_discovered", strconv.Itoa(s.PreviouslyDiscovered))
	table.Append("outside_top_1000", strconv.Itoa(s.OutsideTop1000))
	table.Append("unmatched", strconv.Itoa(s.NoMatch))
	table.Render()

	fmt.Fprintf(w, "\nUncertain: %d  |  Verified: %d  |  Rejected: %d\n",
		s.Uncertain, s.VerifiedEntries, s.RejectedEntries)
}

// PrintConfidenceTable prints the confidence breakdown over all resolved entries.
func PrintConfidenceTable(w io.Writer, games []*model.GameRecord) {
	counts := make(map[model.Confidence]int)
	for _, g := range games {
		for _, roster := range g.Rosters() {
			for i := range roster {
				if roster[i].PlayerID == "" || roster[i].Confidence == model.ConfidenceNone {
					continue
				}
				counts[roster[i].Confidence]++
			}
		}
	}
	if len(counts) == 0 {
		return
	}

	table := newTable(w)
	table.Header("CONFIDENCE", "ENTRIES")
	for _, c := range []model.Confidence{
		model.ConfidenceHigh,
		model.ConfidenceMedium,
		model.ConfidenceLow,
		model.ConfidenceRejected,
	} {
		if counts[c] == 0 {
			continue
		}
		table.Append(c.String(), strconv.Itoa(counts[c]))
	}
	table.Render()
}

// PrintDiscoveries prints the discovered handle → user id mapping, sorted by handle.
func PrintDiscoveries(w io.Writer, discoveries map[string]model.Discovery) {
	if len(discoveries) == 0 {
		fmt.Fprintln(w, "No new discoveries.")
		return
	}
	handles := make([]string, 0, len(discoveries))
	for h := range discoveries {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	table := newTable(w)
	table.Header("HANDLE", "USER_ID", "METHOD", "CONFIDENCE", "VERIFIED")
	for _, h := range handles {
		d := discoveries[h]
		verified := ""
		if d.Verified {
			verified = "yes"
		}
		table.Append(h, d.UserID, d.Method.String(), d.Confidence.String(), verified)
	}
	table.Render()
}
