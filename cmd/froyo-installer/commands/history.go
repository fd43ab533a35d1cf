package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/installer/pkg/outcome"
	"github.com/openfroyo/installer/pkg/progress"
	"github.com/openfroyo/installer/pkg/stores"
)

func newHistoryCommand(opts *globalOptions, streams *progress.Streams, info BuildInfo) *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history [attempt-id]",
		Short: "Show recorded attempts",
		Long: `Show the attempts recorded in the installer database, newest first,
together with the continuation tasks they registered.

With an attempt ID, show that attempt with its result, log file and the
events recorded while it ran.`,
		Example: `  froyo-installer history
  froyo-installer history --limit 5
  froyo-installer history 3f2b8c1e-5d7a-4e0b-9c62-1a2b3c4d5e6f`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd.Context(), opts, streams, info)
			if err != nil {
				log.Error().Err(err).Msg("Failed to initialize")
				return exitWith(outcome.ExitFailure)
			}
			defer env.close(cmd.Context())

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if err := showAttempt(cmd.Context(), out, env.store, args[0]); err != nil {
					env.logger.Error().Err(err).Str("attempt_id", args[0]).Msg("Failed to show attempt")
					return exitWith(outcome.ExitFailure)
				}
				return nil
			}

			attempts, err := env.store.ListAttempts(cmd.Context(), limit, offset)
			if err != nil {
				env.logger.Error().Err(err).Msg("Failed to list attempts")
				return exitWith(outcome.ExitFailure)
			}

			for _, a := range attempts {
				_, _ = fmt.Fprintln(out, formatAttempt(a))
				if err := printTasks(cmd.Context(), out, env.store, a.ID); err != nil {
					env.logger.Warn().Err(err).Str("attempt_id", a.ID).Msg("Failed to list continuation tasks")
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of attempts")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of attempts to skip")

	return cmd
}

func printTasks(ctx context.Context, out io.Writer, store stores.Store, attemptID string) error {
	tasks, err := store.ListContinuationTasks(ctx, &attemptID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		_, _ = fmt.Fprintf(out, "    task %s [%s] %s exit=%d\n", t.Name, t.Backend, t.State, t.ExitCode)
	}
	return nil
}

// showAttempt prints one attempt with its tasks and events.
func showAttempt(ctx context.Context, out io.Writer, store stores.Store, id string) error {
	a, err := store.GetAttempt(ctx, id)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, formatAttempt(a))
	if a.LogPath != nil {
		_, _ = fmt.Fprintf(out, "    log    %s\n", *a.LogPath)
	}
	if a.ResultFolder != nil {
		_, _ = fmt.Fprintf(out, "    result %s\n", *a.ResultFolder)
	}
	if a.Error != nil && *a.Error != "" {
		_, _ = fmt.Fprintf(out, "    error  %s\n", *a.Error)
	}
	if err := printTasks(ctx, out, store, a.ID); err != nil {
		return err
	}

	events, err := store.GetEvents(ctx, &a.ID, nil, maxShownEvents, 0)
	if err != nil {
		return err
	}
	for _, e := range events {
		line := fmt.Sprintf("    %s %-5s %s", e.Timestamp.Local().Format(time.TimeOnly), e.Level, e.Message)
		if e.Details != nil && *e.Details != "" {
			line += " (" + *e.Details + ")"
		}
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}

const maxShownEvents = 200

func formatAttempt(a *stores.Attempt) string {
	result := "-"
	if a.Outcome != nil && *a.Outcome != "" {
		result = *a.Outcome
	}
	code := "-"
	if a.ExitCode != nil {
		code = fmt.Sprintf("%d", *a.ExitCode)
	}
	resumed := ""
	if a.AfterReboot {
		resumed = " (after reboot)"
	}
	return fmt.Sprintf("%s  %-9s %-24s %-10s %-20s exit=%s%s",
		a.StartedAt.Local().Format(time.DateTime),
		a.Action,
		a.Product+"-"+a.Version,
		a.Status,
		result,
		code,
		resumed,
	)
}
