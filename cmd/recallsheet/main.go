package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"recallsheet/internal/auth"
	"recallsheet/internal/config"
	"recallsheet/internal/pictures"
	"recallsheet/internal/review"
	"recallsheet/internal/scheduler"
	"recallsheet/internal/sheets"
	"recallsheet/internal/tui"
)

const drainTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, config.ErrMissing) {
			_, _ = fmt.Fprintln(os.Stderr, "Set them in the config file, RECALLSHEET_* environment variables, or flags.")
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "recallsheet",
		Short:         "Review spaced-repetition flashcards kept in a Google spreadsheet",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReview(cmd.Context(), configFile, cmd.Flags())
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file path")
	flags.String("sheet-id", "", "spreadsheet id holding the cards")
	flags.String("worksheet", "", "worksheet (deck) to review; empty means the first sheet")
	flags.String("data-dir", "", "directory for credentials, cached images, and logs")
	flags.Duration("timeout", 0, "timeout for spreadsheet and image requests")

	root.AddCommand(
		newReviewCmd(&configFile),
		newLoginCmd(&configFile),
		newWorksheetsCmd(&configFile),
		newCacheCmd(&configFile),
	)
	return root
}

func newReviewCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Run a review session over the cards that are due",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReview(cmd.Context(), *configFile, cmd.Flags())
		},
	}
}

func newLoginCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Run the device-flow login and store fresh credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile, cmd.Flags())
			if err != nil {
				return err
			}
			session := newAuthSession(cfg)
			if err := session.Login(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged in.")
			return nil
		},
	}
}

func newWorksheetsCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worksheets",
		Short: "List the worksheets (decks) in the spreadsheet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile, cmd.Flags())
			if err != nil {
				return err
			}
			session := newAuthSession(cfg)
			if err := session.Bootstrap(cmd.Context()); err != nil {
				return err
			}
			store := sheets.NewStore(cfg.SheetID, session,
				sheets.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
			titles, err := store.Worksheets(cmd.Context())
			if err != nil {
				return err
			}
			for _, title := range titles {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), title)
			}
			return nil
		},
	}
}

func newCacheCmd(configFile *string) *cobra.Command {
	cache := &cobra.Command{Use: "cache", Short: "Manage the local picture cache"}
	cache.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all cached pictures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Clearing the cache needs only the data dir, not credentials.
			cfg, err := config.Load(*configFile, cmd.Flags())
			if err != nil && !errors.Is(err, config.ErrMissing) {
				return err
			}
			c, err := pictures.NewCache(cfg.CacheDir())
			if err != nil {
				return err
			}
			if err := c.Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Picture cache cleared.")
			return nil
		},
	})
	return cache
}

func runReview(ctx context.Context, configFile string, flags *pflag.FlagSet) error {
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return err
	}
	closeLog, err := logToFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer closeLog()

	client := &http.Client{Timeout: cfg.HTTPTimeout}

	authSession := newAuthSession(cfg)
	if err := authSession.Bootstrap(ctx); err != nil {
		return err
	}

	store := sheets.NewStore(cfg.SheetID, authSession, sheets.WithHTTPClient(client))
	cache, err := pictures.NewCache(cfg.CacheDir(), pictures.WithHTTPClient(client))
	if err != nil {
		return err
	}

	var schedOpts []scheduler.Option
	if cfg.Scheduler.SecondInterval > 0 {
		schedOpts = append(schedOpts, scheduler.WithSecondInterval(cfg.Scheduler.SecondInterval))
	}

	notices := make(chan string, 8)
	session := review.New(review.Config{
		Store:     store,
		Worksheet: cfg.Worksheet,
		Scheduler: scheduler.New(schedOpts...),
		Pictures:  cache,
		Notify:    tui.Notices(notices),
		Shuffle:   true,
	})

	title := cfg.Worksheet
	if title == "" {
		title = "Review"
	}
	program := tea.NewProgram(tui.New(session, title, notices), tea.WithAltScreen())
	final, err := program.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(tui.Model); ok && m.Err() != nil {
		return m.Err()
	}

	// Let queued card updates finish before the process exits.
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := session.Drain(drainCtx); err != nil {
		return fmt.Errorf("some card updates were not saved: %w", err)
	}
	return nil
}

func newAuthSession(cfg *config.Config) *auth.Session {
	return auth.NewSession(auth.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		HTTPClient:   &http.Client{Timeout: cfg.HTTPTimeout},
	}, auth.NewFileStore(cfg.CredentialsPath()))
}

// logToFile points slog at a file under the data dir so log lines do not
// tear through the terminal UI.
func logToFile(dataDir string) (func(), error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "recallsheet.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))
	return func() { _ = f.Close() }, nil
}
