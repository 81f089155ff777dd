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
	"github.com/rklstats/rosterlink/internal/report"
)

// discover command flags.
var (
	discoverGames   string
	discoverHandles string
	discoverOut     string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover handle → user id mappings without verification",
	Long: `Runs the matching phases only (direct, username, rank discovery) and
exports the discovered mappings. Uncertain matches are kept flagged; use the
run command for history-based verification.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringVar(&discoverGames, "games", "", "game-log JSON file, .gz/.zst accepted (required)")
	discoverCmd.Flags().StringVar(&discoverHandles, "handles", "", "known handle → user id JSON map")
	discoverCmd.Flags().StringVar(&discoverOut, "out", "./output", "output directory")
	_ = discoverCmd.MarkFlagRequired("games")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	games, err := loader.Games(discoverGames)
	if err != nil {
		return fmt.Errorf("load games: %w", err)
	}
	handles, err := loadHandles(discoverHandles)
	if err != nil {
		return err
	}

	cache, _, db, err := buildCache()
	if err != nil {
		return err
	}
	defer db.Close()

	cfg := pipeline.DefaultConfig()
	cfg.Tolerance = tolerance

	session := pipeline.NewSession(cfg, cache, nil, games, handles, pipeline.WithLogger(log))

	res, runErr := session.RunDiscovery(ctx)
	if runErr != nil {
		log.Warn().Err(runErr).Msg("discovery interrupted; writing partial results")
	}

	if err := export.WriteAll(discoverOut, res); err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}

	report.PrintDiscoveries(os.Stdout, res.Discoveries)
	fmt.Printf("\nOutputs written to %s\n", discoverOut)
	return runErr
}
