package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rklstats/rosterlink/internal/export"
	"github.com/rklstats/rosterlink/internal/loader"
	"github.com/rklstats/rosterlink/internal/pipeline"
	"github.com/rklstats/rosterlink/internal/realvg"
	"github.com/rklstats/rosterlink/internal/report"
)

// run command flags.
var (
	runGames        string
	runHandles      string
	runOut          string
	runDropRejected bool
	runHistoryFloor string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full reconciliation pipeline",
	Long: `Loads game logs, warms the karma cache for every game date, resolves each
roster entry through direct matching, username discovery, and rank discovery,
then verifies uncertain matches against per-user ranked-days history.

Examples:
  # Full run with direct API access (REAL_AUTH_TOKEN in env or .env)
  rosterlink run --games games.json --out ./output

  # Credential-less run through a proxy, compressed input
  rosterlink run --games games.json.zst --source batch --proxy-url https://proxy.example.com`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runGames, "games", "", "game-log JSON file, .gz/.zst accepted (required)")
	runCmd.Flags().StringVar(&runHandles, "handles", "", "known handle → user id JSON map")
	runCmd.Flags().StringVar(&runOut, "out", "./output", "output directory")
	runCmd.Flags().BoolVar(&runDropRejected, "drop-rejected", false, "strip ids from rejected matches in the export")
	runCmd.Flags().StringVar(&runHistoryFloor, "history-floor", "", "oldest ISO day to fetch in ranked-days history")
	_ = runCmd.MarkFlagRequired("games")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	games, err := loader.Games(runGames)
	if err != nil {
		return fmt.Errorf("load games: %w", err)
	}
	handles, err := loadHandles(runHandles)
	if err != nil {
		return err
	}
	log.Info().Int("games", len(games)).Int("known_handles", len(handles)).Msg("inputs loaded")

	cache, src, db, err := buildCache()
	if err != nil {
		return err
	}
	defer db.Close()

	cfg := pipeline.DefaultConfig()
	cfg.Tolerance = tolerance
	cfg.DropRejected = runDropRejected
	cfg.HistoryNotBefore = runHistoryFloor

	// Ranked-days history is only served by the direct API; without it the
	// verification pass is skipped and uncertain matches stay flagged.
	history, _ := src.(realvg.HistorySource)

	session := pipeline.NewSession(cfg, cache, history, games, handles,
		pipeline.WithLogger(log), pipeline.WithHistoryStore(db))

	res, runErr := session.Run(ctx)
	if runErr != nil {
		log.Warn().Err(runErr).Msg("run interrupted; writing partial results")
	}

	if err := export.WriteAll(runOut, res); err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}

	report.PrintRunSummary(os.Stdout, res)
	report.PrintConfidenceTable(os.Stdout, res.Games)
	fmt.Printf("\nOutputs written to %s\n", runOut)
	return runErr
}

func loadHandles(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	handles, err := loader.Handles(path)
	if err != nil {
		return nil, fmt.Errorf("load handles: %w", err)
	}
	return handles, nil
}
