package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rklstats/rosterlink/internal/loader"
)

var karmaGames string

var karmaCmd = &cobra.Command{
	Use:   "karma",
	Short: "Warm the local karma snapshot store",
	Long: `Fetches and stores the daily ranking snapshot for every distinct date in
the game log without running the matching pipeline. Useful for pre-seeding
the store before offline runs.`,
	RunE: runKarma,
}

func init() {
	karmaCmd.Flags().StringVar(&karmaGames, "games", "", "game-log JSON file, .gz/.zst accepted (required)")
	_ = karmaCmd.MarkFlagRequired("games")
}

func runKarma(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	games, err := loader.Games(karmaGames)
	if err != nil {
		return fmt.Errorf("load games: %w", err)
	}

	dates := make(map[string]bool)
	var list []string
	for _, g := range games {
		if !dates[g.GameDate] {
			dates[g.GameDate] = true
			list = append(list, g.GameDate)
		}
	}

	cache, _, db, err := buildCache()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := cache.Warm(ctx, list); err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}
	fmt.Printf("Stored snapshots for %d dates (usernames indexed: %d)\n", len(list), cache.Names().Len())
	return nil
}
