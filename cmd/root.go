package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rklstats/rosterlink/internal/karma"
	"github.com/rklstats/rosterlink/internal/realvg"
	"github.com/rklstats/rosterlink/internal/storage"
)

// Persistent flags shared by all commands.
var (
	dbPath    string
	tolerance int
	source    string
	apiBase   string
	proxyURL  string
	verbose   bool
)

var log zerolog.Logger

var rootCmd = &cobra.Command{
	Use:   "rosterlink",
	Short: "Reconcile game-log roster handles with canonical user ids",
	Long: `Matches free-text player handles in historical game logs against daily
karma ranking snapshots, resolving each handle to a canonical user id by
direct lookup, username matching, and rank proximity.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(level).
			With().Timestamp().Logger()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Credentials may live in a local .env; absence is fine.
	_ = godotenv.Load()

	defaultDB := filepath.Join(mustUserHome(), ".rosterlink", "karma.db")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "path to the local SQLite snapshot store")
	rootCmd.PersistentFlags().IntVar(&tolerance, "tolerance", 50, "max |rank - ranking| for rank discovery")
	rootCmd.PersistentFlags().StringVar(&source, "source", "direct", "karma source: direct, proxy, or batch")
	rootCmd.PersistentFlags().StringVar(&apiBase, "api-base", "", "override the ranking API base URL")
	rootCmd.PersistentFlags().StringVar(&proxyURL, "proxy-url", "", "proxy base URL (required for --source proxy|batch)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(karmaCmd)
	rootCmd.AddCommand(discoverCmd)
}

func mustUserHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// openStore opens the local snapshot store, creating its directory if needed.
func openStore() (*storage.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return db, nil
}

// buildSource constructs the karma source selected by --source. The direct
// source needs credentials; the proxy variants need --proxy-url. The batch
// source is the same proxy client, chosen when the caller wants chunked
// multi-date fetches.
func buildSource() (realvg.Source, error) {
	switch source {
	case "direct":
		authToken := os.Getenv("REAL_AUTH_TOKEN")
		deviceUUID := os.Getenv("REAL_DEVICE_UUID")
		if authToken == "" {
			return nil, fmt.Errorf("REAL_AUTH_TOKEN not set: required for --source direct (use --source proxy for credential-less runs)")
		}
		opts := []realvg.Option{realvg.WithLogger(log)}
		if apiBase != "" {
			opts = append(opts, realvg.WithBaseURL(apiBase))
		}
		return realvg.NewClient(authToken, deviceUUID, opts...), nil
	case "proxy":
		if proxyURL == "" {
			return nil, fmt.Errorf("--proxy-url is required for --source proxy")
		}
		// Hide the batch capability so every date is fetched individually.
		return singleDate{realvg.NewProxyClient(proxyURL, realvg.WithLogger(log))}, nil
	case "batch":
		if proxyURL == "" {
			return nil, fmt.Errorf("--proxy-url is required for --source batch")
		}
		return realvg.NewProxyClient(proxyURL, realvg.WithLogger(log)), nil
	default:
		return nil, fmt.Errorf("unknown --source %q (want direct, proxy, or batch)", source)
	}
}

// singleDate restricts a proxy client to its one-date-per-call endpoint.
type singleDate struct {
	realvg.Source
}

// buildCache wires the selected source and the local store into a karma cache.
// The returned close function must be called when the run finishes.
func buildCache() (*karma.Cache, realvg.Source, *storage.DB, error) {
	src, err := buildSource()
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := openStore()
	if err != nil {
		return nil, nil, nil, err
	}
	cache := karma.NewCache(src, karma.WithStore(db), karma.WithLogger(log))
	return cache, src, db, nil
}
