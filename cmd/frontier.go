package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/app"
	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/config"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/logging"
	"github.com/JakeFAU/frontier-crawler/internal/scheduler"
)

func newFrontierCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frontier",
		Short: "Inspects or clears the persistent frontier",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Prints entry counts per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withFrontier(cmd, func(ctx context.Context, st frontier.Store) error {
				stats, err := st.Stats(ctx)
				if err != nil {
					return fmt.Errorf("frontier stats: %w", err)
				}
				return writeJSON(cmd.OutOrStdout(), statsView(stats))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "lookup <url>",
		Short: "Shows the frontier entry for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadedConfig(cmd.Context())
			if err != nil {
				return err
			}
			norm, err := app.NewNormalizer(cfg)
			if err != nil {
				return err
			}
			u, err := norm.Normalize(args[0], "")
			if err != nil {
				return fmt.Errorf("normalize %q: %w", args[0], err)
			}
			return withFrontier(cmd, func(ctx context.Context, st frontier.Store) error {
				entry, found, err := st.Lookup(ctx, u.Key)
				if err != nil {
					return fmt.Errorf("frontier lookup: %w", err)
				}
				if !found {
					return fmt.Errorf("%s: %w", u.Canonical, frontier.ErrNotFound)
				}
				return writeJSON(cmd.OutOrStdout(), entry)
			})
		},
	})

	var confirmed bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Deletes every frontier entry, redirect and link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return errors.New("refusing to reset the frontier without --yes")
			}
			return withFrontier(cmd, func(ctx context.Context, st frontier.Store) error {
				if err := st.Reset(ctx); err != nil {
					return fmt.Errorf("frontier reset: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "frontier reset")
				return nil
			})
		},
	}
	reset.Flags().BoolVar(&confirmed, "yes", false, "confirm the reset")
	cmd.AddCommand(reset)
	return cmd
}

// withFrontier opens only the frontier backend, so inspection never starts
// fetchers or publishers.
func withFrontier(cmd *cobra.Command, fn func(context.Context, frontier.Store) error) error {
	cfg, err := loadedConfig(cmd.Context())
	if err != nil {
		return err
	}
	if cfg.Frontier.Backend == config.BackendMemory {
		return errors.New("the memory frontier does not outlive a process; configure sqlite or postgres")
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return err
	}
	st, err := app.OpenFrontier(cmd.Context(), cfg, system.New(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("close frontier failed", zap.Error(cerr))
		}
	}()
	return fn(cmd.Context(), st)
}

type stateCounts struct {
	States map[string]int `json:"states"`
	Total  int            `json:"total"`
}

func statsView(stats frontier.Stats) stateCounts {
	out := stateCounts{States: make(map[string]int, len(frontier.States)), Total: stats.Total()}
	for _, state := range frontier.States {
		out.States[string(state)] = stats[state]
	}
	return out
}

type summaryJSON struct {
	SessionID  string      `json:"session_id"`
	StartedAt  time.Time   `json:"started_at"`
	Duration   string      `json:"duration"`
	Fetched    int64       `json:"fetched"`
	Redirected int64       `json:"redirected"`
	Retried    int64       `json:"retried"`
	Abandoned  int64       `json:"abandoned"`
	Released   int64       `json:"released"`
	Canceled   bool        `json:"canceled"`
	Frontier   stateCounts `json:"frontier"`
}

func summaryView(s scheduler.Summary) summaryJSON {
	return summaryJSON{
		SessionID:  s.SessionID,
		StartedAt:  s.StartedAt,
		Duration:   s.Duration.Round(time.Millisecond).String(),
		Fetched:    s.Fetched,
		Redirected: s.Redirected,
		Retried:    s.Retried,
		Abandoned:  s.Abandoned,
		Released:   s.Released,
		Canceled:   s.Canceled,
		Frontier:   statsView(s.Frontier),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
